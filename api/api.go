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

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/vyomnext/banklink"
	"github.com/vyomnext/banklink/api/middleware"
	"github.com/vyomnext/banklink/internal/apierror"
)

const serviceName = "banklink"

type Api struct {
	banklink *banklink.Banklink
	router   *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/transfers", a.CreateTransfer)
	router.GET("/transfers", a.GetTransferHistory)
	router.GET("/transfers/attention", a.GetTransfersRequiringAttention)
	router.GET("/transfers/:id", a.GetTransfer)

	router.GET("/accounts/:identity", a.GetAccounts)
	router.GET("/positions/:identity", a.GetPosition)

	router.GET("/health", a.Health)
	router.GET("/metrics", gin.WrapH(a.banklink.Metrics().Handler()))
	return a.router
}

func NewAPI(b *banklink.Banklink) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf := b.Config()

	r := gin.Default()
	r.Use(otelgin.Middleware(serviceName))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware(conf))
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{banklink: b, router: r}
}

// respondError writes err with the status its code maps to. Only the
// user-facing message leaves the process.
func respondError(c *gin.Context, err error) {
	status := apierror.MapErrorToHTTPStatus(err)
	apiErr, ok := apierror.As(err)
	if !ok {
		c.JSON(status, gin.H{"status": "error", "error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"status": "error", "code": apiErr.Code, "error": apiErr.Message})
}
