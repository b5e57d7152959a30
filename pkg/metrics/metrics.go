// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for a CORECONF
// request handler.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors a RequestHandler reports
// through.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	RPCTotal   *prometheus.CounterVec
	RPCErrors  *prometheus.CounterVec
	RPCLatency *prometheus.HistogramVec

	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec

	RateLimitedRequests *prometheus.CounterVec

	DatastoreEntries *prometheus.GaugeVec
}

// New creates a Metrics instance registered under namespace (defaulting
// to "coreconf").
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "coreconf"
	}

	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of CORECONF requests processed, by method and response class",
			},
			[]string{"method", "class"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "CORECONF request handling duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		RPCTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_invocations_total",
				Help:      "Total number of RPC/action invocations dispatched via POST",
			},
			[]string{"sid", "status"},
		),
		RPCErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_errors_total",
				Help:      "Total number of RPC/action invocations that returned an error",
			},
			[]string{"sid"},
		),
		RPCLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rpc_duration_seconds",
				Help:      "RPC/action handler duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"sid"},
		),
		CircuitBreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rpc_circuit_breaker_state",
				Help:      "RPC circuit breaker state by SID (0=closed, 1=half_open, 2=open)",
			},
			[]string{"sid"},
		),
		CircuitBreakerTrips: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_circuit_breaker_trips_total",
				Help:      "Total number of RPC circuit breaker trips, by SID",
			},
			[]string{"sid"},
		),
		RateLimitedRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_requests_total",
				Help:      "Total number of iPATCH/POST requests rejected by the rate limiter",
			},
			[]string{"method"},
		),
		DatastoreEntries: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "datastore_top_level_entries",
				Help:      "Number of top-level data nodes currently held in the datastore",
			},
			[]string{},
		),
	}
}

// ObserveRequest times a request dispatch under method and records the
// resulting response class ("2", "4", "5") to RequestsTotal.
func (m *Metrics) ObserveRequest(method string, f func() (class string)) string {
	start := time.Now()
	class := f()
	m.RequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	m.RequestsTotal.WithLabelValues(method, class).Inc()
	return class
}
