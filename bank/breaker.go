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

package bank

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/vyomnext/banklink/internal/apierror"
	"github.com/vyomnext/banklink/model"
)

// BreakerConfig tunes the per-bank circuit breaker.
type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// BreakerClient wraps the read operations of a LedgerClient in a circuit breaker
// so a dead bank fails fast during aggregation. Only upstream failures count
// against it. PIN checks, debits and credits always go straight to the ledger,
// so a compensating refund is never short-circuited.
type BreakerClient struct {
	LedgerClient
	bank Bank
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerClient(b Bank, inner LedgerClient, cfg BreakerConfig, observer Observer) *BreakerClient {
	if observer == nil {
		observer = nopObserver{}
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        b.Code,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsUnavailable(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logrus.WithFields(logrus.Fields{
				"bank_code": name,
				"from":      from.String(),
				"to":        to.String(),
			}).Warn("circuit breaker state changed")
			observer.ObserveBreakerState(name, to.String())
		},
	}

	return &BreakerClient{LedgerClient: inner, bank: b, cb: gobreaker.NewCircuitBreaker(settings)}
}

// State reports the breaker state for health output.
func (c *BreakerClient) State() string {
	return c.cb.State().String()
}

func (c *BreakerClient) ListAccounts(ctx context.Context, identity string) ([]model.Account, error) {
	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.LedgerClient.ListAccounts(ctx, identity)
	})
	if err != nil {
		return nil, c.translate(err)
	}
	return result.([]model.Account), nil
}

func (c *BreakerClient) ListTransactions(ctx context.Context, accountNumber string) ([]model.BankTransaction, error) {
	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.LedgerClient.ListTransactions(ctx, accountNumber)
	})
	if err != nil {
		return nil, c.translate(err)
	}
	return result.([]model.BankTransaction), nil
}

// Health bypasses the breaker so probes can observe recovery.
func (c *BreakerClient) Health(ctx context.Context) error {
	return c.LedgerClient.Health(ctx)
}

func (c *BreakerClient) translate(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apierror.NewAPIError(apierror.ErrUpstreamUnavailable, fmt.Sprintf("%s is unavailable", c.bank.Name),
			fmt.Errorf("%s: %w: %v", c.bank.Code, ErrCircuitOpen, err))
	}
	return err
}
