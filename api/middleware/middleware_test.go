/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/wacul/ptr"

	"github.com/vyomnext/banklink/config"
)

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) }
	r.GET("/", ok)
	r.GET("/health", ok)
	r.GET("/transfers", ok)
	return r
}

func serve(r *gin.Engine, path, key string) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if key != "" {
		req.Header.Set(KeyHeader, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestSecretKeyAuthMiddleware(t *testing.T) {
	conf := &config.Configuration{Server: config.ServerConfig{Secure: true, SecretKey: "s3cret"}}
	r := newRouter(SecretKeyAuthMiddleware(conf))

	tests := []struct {
		name string
		path string
		key  string
		want int
	}{
		{name: "valid key", path: "/transfers", key: "s3cret", want: http.StatusOK},
		{name: "missing key", path: "/transfers", want: http.StatusUnauthorized},
		{name: "wrong key", path: "/transfers", key: "nope", want: http.StatusUnauthorized},
		{name: "root is open", path: "/", want: http.StatusOK},
		{name: "health is open", path: "/health", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, serve(r, tt.path, tt.key))
		})
	}
}

func TestSecretKeyAuthMiddlewareWithoutSecret(t *testing.T) {
	conf := &config.Configuration{Server: config.ServerConfig{Secure: true}}
	r := newRouter(SecretKeyAuthMiddleware(conf))

	assert.Equal(t, http.StatusInternalServerError, serve(r, "/transfers", "anything"))
}

func TestRateLimitMiddleware(t *testing.T) {
	conf := &config.Configuration{RateLimit: config.RateLimitConfig{
		RequestsPerSecond:  ptr.Float64(1),
		Burst:              ptr.Int(1),
		CleanupIntervalSec: ptr.Int(60),
	}}
	r := newRouter(RateLimitMiddleware(conf))

	assert.Equal(t, http.StatusOK, serve(r, "/transfers", ""))
	assert.Equal(t, http.StatusTooManyRequests, serve(r, "/transfers", ""))
}

func TestRateLimitMiddlewareDisabled(t *testing.T) {
	r := newRouter(RateLimitMiddleware(&config.Configuration{}))

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(r, "/transfers", ""))
	}
}
