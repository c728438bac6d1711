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

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveLedgerCall(t *testing.T) {
	c := NewCollector()

	c.ObserveLedgerCall("SBI", "debit", "ok", 20*time.Millisecond)
	c.ObserveLedgerCall("SBI", "debit", "ok", 30*time.Millisecond)
	c.ObserveLedgerCall("HDFC", "credit", "timeout", 5*time.Second)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.ledgerCalls.WithLabelValues("SBI", "debit", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.ledgerCalls.WithLabelValues("HDFC", "credit", "timeout")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.ledgerLatency))
}

func TestObserveBreakerState(t *testing.T) {
	c := NewCollector()

	c.ObserveBreakerState("SBI", "open")
	assert.Equal(t, float64(1), testutil.ToFloat64(c.breakerState.WithLabelValues("SBI")))

	c.ObserveBreakerState("SBI", "half-open")
	assert.Equal(t, float64(2), testutil.ToFloat64(c.breakerState.WithLabelValues("SBI")))

	c.ObserveBreakerState("SBI", "closed")
	assert.Equal(t, float64(0), testutil.ToFloat64(c.breakerState.WithLabelValues("SBI")))
}

func TestObserveTransferAndCompensation(t *testing.T) {
	c := NewCollector()

	c.ObserveTransfer("SUCCESS", "credit", time.Second)
	c.ObserveTransfer("FAILED", "authorize", time.Second)
	c.ObserveCompensation("refunded")

	assert.Equal(t, float64(1), testutil.ToFloat64(c.transfers.WithLabelValues("SUCCESS", "credit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.transfers.WithLabelValues("FAILED", "authorize")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.compensations.WithLabelValues("refunded")))
}

func TestObserveAggregation(t *testing.T) {
	c := NewCollector()

	c.ObserveAggregation("accounts", map[string]string{"SBI": "success", "ICICI": "error"}, time.Second)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.aggregations.WithLabelValues("SBI", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.aggregations.WithLabelValues("ICICI", "error")))
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.ObserveTransfer("SUCCESS", "credit", time.Second)

	server := httptest.NewServer(c.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `banklink_transfers_total{status="SUCCESS",step="credit"} 1`)
}
