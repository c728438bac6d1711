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

package banklink

import (
	"context"
	"embed"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/vyomnext/banklink/bank"
	"github.com/vyomnext/banklink/config"
	"github.com/vyomnext/banklink/database"
	"github.com/vyomnext/banklink/internal/cache"
	"github.com/vyomnext/banklink/internal/metrics"
	"github.com/vyomnext/banklink/internal/notification"
	redis_db "github.com/vyomnext/banklink/internal/redis-db"
)

var tracer = otel.Tracer("banklink")

//go:embed sql/*.sql
var SQLFiles embed.FS

// Banklink coordinates transfers across the registered bank ledgers and
// aggregates a customer's position over all of them.
type Banklink struct {
	config     *config.Configuration
	registry   *bank.Registry
	datasource database.IDataSource
	redis      redis.UniversalClient
	cache      cache.Cache
	queue      *Queue
	metrics    *metrics.Collector
	notifier   *notification.Notifier
	now        func() time.Time
}

type Option func(*Banklink)

// WithRedis enables idempotency locks and a shared cache.
func WithRedis(client redis.UniversalClient) Option {
	return func(b *Banklink) { b.redis = client }
}

// WithQueue enables transfer webhooks.
func WithQueue(queue *Queue) Option {
	return func(b *Banklink) { b.queue = queue }
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(b *Banklink) { b.metrics = collector }
}

// WithNotifier replaces the escalation notifier, which by default forwards
// critical events to this instance's webhook queue.
func WithNotifier(notifier *notification.Notifier) Option {
	return func(b *Banklink) { b.notifier = notifier }
}

func WithClock(now func() time.Time) Option {
	return func(b *Banklink) { b.now = now }
}

// NewBanklink wires the service from its parts. Redis and the webhook queue are optional.
func NewBanklink(cnf *config.Configuration, db database.IDataSource, registry *bank.Registry, opts ...Option) *Banklink {
	b := &Banklink{
		config:     cnf,
		registry:   registry,
		datasource: db,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = metrics.NewCollector()
	}
	b.cache = cache.NewCache(b.redis)

	if b.notifier == nil {
		b.notifier = notification.NewNotifier(func(ctx context.Context, event string, payload interface{}) error {
			return b.SendWebhook(ctx, NewWebhook{Event: event, Payload: payload})
		})
	}
	return b
}

// NewBanklinkFromConfig builds the HTTP ledger registry and connects to Redis
// when it is configured.
func NewBanklinkFromConfig(cnf *config.Configuration, db database.IDataSource) (*Banklink, error) {
	collector := metrics.NewCollector()
	registry, err := bank.NewRegistryFromConfig(cnf, collector)
	if err != nil {
		return nil, err
	}

	opts := []Option{WithMetrics(collector)}
	if cnf.Redis.Dns != "" {
		redisClient, err := redis_db.NewRedisClient(redis_db.SplitAddresses(cnf.Redis.Dns), cnf.Redis.SkipTLSVerify)
		if err != nil {
			return nil, err
		}
		queue, err := NewQueue(cnf)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithRedis(redisClient.Client()), WithQueue(queue))
	}
	return NewBanklink(cnf, db, registry, opts...), nil
}

func (b *Banklink) Registry() *bank.Registry {
	return b.registry
}

func (b *Banklink) Metrics() *metrics.Collector {
	return b.metrics
}

func (b *Banklink) Config() *config.Configuration {
	return b.config
}

// Close releases the queue connections.
func (b *Banklink) Close() error {
	if b.queue != nil {
		return b.queue.Close()
	}
	return nil
}
