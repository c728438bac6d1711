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
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "banklink"

// Collector records ledger calls, transfers and aggregations on its own registry.
// It implements bank.Observer.
type Collector struct {
	registry *prometheus.Registry

	ledgerCalls   *prometheus.CounterVec
	ledgerLatency *prometheus.HistogramVec
	breakerState  *prometheus.GaugeVec

	transfers        *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
	compensations    *prometheus.CounterVec

	aggregations       *prometheus.CounterVec
	aggregationLatency *prometheus.HistogramVec
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		ledgerCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_calls_total",
			Help:      "Ledger calls by bank, operation and outcome",
		}, []string{"bank", "operation", "outcome"}),
		ledgerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_call_duration_seconds",
			Help:      "Latency of ledger calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"bank", "operation"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_breaker_state",
			Help:      "Circuit breaker state per bank (0=closed, 1=open, 2=half-open)",
		}, []string{"bank"}),
		transfers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Finished transfers by status and failure step",
		}, []string{"status", "step"}),
		transferDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_duration_seconds",
			Help:      "End to end duration of transfers",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		compensations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_total",
			Help:      "Compensating refunds by result",
		}, []string{"result"}),
		aggregations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregation_bank_results_total",
			Help:      "Per bank status of account aggregations",
		}, []string{"bank", "status"}),
		aggregationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregation_duration_seconds",
			Help:      "Duration of aggregation fan-outs",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
	}
}

func (c *Collector) ObserveLedgerCall(bankCode, operation, outcome string, duration time.Duration) {
	c.ledgerCalls.WithLabelValues(bankCode, operation, outcome).Inc()
	c.ledgerLatency.WithLabelValues(bankCode, operation).Observe(duration.Seconds())
}

func (c *Collector) ObserveBreakerState(bankCode, state string) {
	var value float64
	switch state {
	case "open":
		value = 1
	case "half-open":
		value = 2
	}
	c.breakerState.WithLabelValues(bankCode).Set(value)
}

// ObserveTransfer records a finished transfer. step is the saga step that
// decided the outcome.
func (c *Collector) ObserveTransfer(status, step string, duration time.Duration) {
	c.transfers.WithLabelValues(status, step).Inc()
	c.transferDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveCompensation records a refund attempt, result is "refunded" or "failed".
func (c *Collector) ObserveCompensation(result string) {
	c.compensations.WithLabelValues(result).Inc()
}

func (c *Collector) ObserveAggregation(phase string, perBank map[string]string, duration time.Duration) {
	for bankCode, status := range perBank {
		c.aggregations.WithLabelValues(bankCode, status).Inc()
	}
	c.aggregationLatency.WithLabelValues(phase).Observe(duration.Seconds())
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
