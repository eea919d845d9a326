// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

// Package metrics registers the Prometheus collectors for the sync pipeline:
// cycle timing, source negotiation, sink dispatch results, token lifecycle
// and circuit breaker state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scheduler metrics

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "punchsync_cycle_duration_seconds",
			Help:    "Duration of sync cycles in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
	)

	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "punchsync_cycles_total",
			Help: "Total sync cycles by result",
		},
		[]string{"result"}, // "synced", "empty", "error"
	)

	CurrentInterval = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "punchsync_poll_interval_seconds",
			Help: "Current adaptive poll interval in seconds",
		},
	)

	CursorTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "punchsync_cursor_timestamp_seconds",
			Help: "Unix timestamp of the sync watermark",
		},
	)

	RecordsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "punchsync_records_fetched_total",
			Help: "Raw records returned by the source",
		},
	)

	RecordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "punchsync_records_dropped_total",
			Help: "Records dropped by the transform stage",
		},
		[]string{"reason"}, // "unmapped_employee", "bad_timestamp"
	)

	// Source client metrics

	SourceFetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "punchsync_source_fetch_errors_total",
			Help: "Source fetch failures by class",
		},
		[]string{"class"},
	)

	NegotiationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "punchsync_negotiation_attempts_total",
			Help: "Dialect negotiation attempts by strategy and result",
		},
		[]string{"strategy", "result"},
	)

	// Sink client metrics

	SinkDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "punchsync_sink_dispatches_total",
			Help: "Per-event dispatch results by class",
		},
		[]string{"result"}, // "success", "auth", "rate_limit", "permanent", "server", "network"
	)

	SinkRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "punchsync_sink_request_duration_seconds",
			Help:    "Sink HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Token manager metrics

	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "punchsync_token_refreshes_total",
			Help: "Token refresh attempts by result",
		},
		[]string{"result"}, // "success", "failure", "shared"
	)

	// Circuit breaker metrics (source client wrapper)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "punchsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "punchsync_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)
)
