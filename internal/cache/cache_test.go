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

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedTransfer struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client), server
}

func TestRedisCache_SetGet(t *testing.T) {
	c, server := newTestCache(t)
	ctx := context.Background()

	value := cachedTransfer{ID: gofakeit.UUID(), Status: "SUCCESS", Amount: 150000}
	require.NoError(t, c.Set(ctx, value.ID, value, time.Hour))
	assert.True(t, server.Exists(value.ID))

	var got cachedTransfer
	require.NoError(t, c.Get(ctx, value.ID, &got))
	assert.Equal(t, value, got)
}

func TestRedisCache_Miss(t *testing.T) {
	c, _ := newTestCache(t)

	var got cachedTransfer
	err := c.Get(context.Background(), "missing", &got)
	assert.ErrorIs(t, err, ErrMiss)
	assert.Empty(t, got.ID)
}

func TestRedisCache_Delete(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", cachedTransfer{ID: "k"}, time.Hour))
	require.NoError(t, c.Delete(ctx, "k"))

	var got cachedTransfer
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrMiss)
	assert.NoError(t, c.Delete(ctx, "never-set"))
}

func TestRedisCache_SharedAcrossInstances(t *testing.T) {
	server := miniredis.RunT(t)
	ctx := context.Background()
	first := NewCache(redis.NewClient(&redis.Options{Addr: server.Addr()}))
	second := NewCache(redis.NewClient(&redis.Options{Addr: server.Addr()}))

	require.NoError(t, first.Set(ctx, "shared", cachedTransfer{ID: "shared", Status: "FAILED"}, time.Hour))

	var got cachedTransfer
	require.NoError(t, second.Get(ctx, "shared", &got))
	assert.Equal(t, "FAILED", got.Status)
}

func TestLocalOnlyCache(t *testing.T) {
	c := NewCache(nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "local", cachedTransfer{ID: "local"}, time.Hour))
	var got cachedTransfer
	require.NoError(t, c.Get(ctx, "local", &got))
	assert.Equal(t, "local", got.ID)
}
