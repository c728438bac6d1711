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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyomnext/banklink/internal/apierror"
	"github.com/vyomnext/banklink/model"
)

type flakyLedger struct {
	calls int32
	err   error
}

func (f *flakyLedger) ListAccounts(context.Context, string) ([]model.Account, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return []model.Account{{AccountNumber: "SBI001"}}, nil
}

func (f *flakyLedger) ListTransactions(context.Context, string) ([]model.BankTransaction, error) {
	atomic.AddInt32(&f.calls, 1)
	return nil, f.err
}

func (f *flakyLedger) VerifyPIN(context.Context, string, string) (bool, error) {
	atomic.AddInt32(&f.calls, 1)
	return false, f.err
}

func (f *flakyLedger) Debit(context.Context, Movement) (model.Amount, error) {
	atomic.AddInt32(&f.calls, 1)
	return 0, f.err
}

func (f *flakyLedger) Credit(context.Context, Movement) (model.Amount, error) {
	atomic.AddInt32(&f.calls, 1)
	return 0, f.err
}

func (f *flakyLedger) Health(context.Context) error {
	atomic.AddInt32(&f.calls, 1)
	return f.err
}

var sbi = Bank{Code: "SBI", Name: "State Bank of India", URL: "http://sbi.test", IFSCPrefix: "SBIN"}

func TestBreakerClient_TripsOnUpstreamFailures(t *testing.T) {
	inner := &flakyLedger{err: apierror.NewAPIError(apierror.ErrUpstreamUnavailable, "down", errors.New("connection refused"))}
	observer := &recordingObserver{}
	client := NewBreakerClient(sbi, inner, BreakerConfig{ConsecutiveFailures: 3, OpenTimeout: time.Minute}, observer)

	for i := 0; i < 3; i++ {
		_, err := client.ListAccounts(context.Background(), "123412341234")
		assert.True(t, IsUnavailable(err))
	}
	assert.Equal(t, "open", client.State())
	assert.Equal(t, []string{"open"}, observer.states)

	_, err := client.ListAccounts(context.Background(), "123412341234")
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.True(t, IsUnavailable(err))
	assert.Equal(t, "circuit_open", Outcome(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&inner.calls), "open breaker must not reach the ledger")
}

func TestBreakerClient_WritesBypassBreaker(t *testing.T) {
	inner := &flakyLedger{err: apierror.NewAPIError(apierror.ErrUpstreamUnavailable, "down", errors.New("connection refused"))}
	client := NewBreakerClient(sbi, inner, BreakerConfig{ConsecutiveFailures: 1, OpenTimeout: time.Minute}, nil)

	_, _ = client.ListAccounts(context.Background(), "123412341234")
	require.Equal(t, "open", client.State())

	_, err := client.Credit(context.Background(), Movement{AccountNumber: "SBI001", Amount: 100})
	assert.False(t, errors.Is(err, ErrCircuitOpen))
	_, _ = client.Debit(context.Background(), Movement{AccountNumber: "SBI001", Amount: 100})
	_, _ = client.VerifyPIN(context.Background(), "SBI001", "1234")
	_ = client.Health(context.Background())
	assert.Equal(t, int32(5), atomic.LoadInt32(&inner.calls))
}

func TestBreakerClient_BusinessErrorsDoNotTrip(t *testing.T) {
	inner := &flakyLedger{err: apierror.NewAPIError(apierror.ErrNotFound, "No accounts found", nil)}
	client := NewBreakerClient(sbi, inner, BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Minute}, nil)

	for i := 0; i < 5; i++ {
		_, err := client.ListAccounts(context.Background(), "123412341234")
		assert.True(t, IsNotFound(err))
	}
	assert.Equal(t, "closed", client.State())
}

func TestBreakerClient_PassesResults(t *testing.T) {
	client := NewBreakerClient(sbi, &flakyLedger{}, BreakerConfig{}, nil)

	accounts, err := client.ListAccounts(context.Background(), "123412341234")
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}
