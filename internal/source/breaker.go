// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

package source

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/punchsync/punchsync/internal/logging"
	"github.com/punchsync/punchsync/internal/metrics"
	"github.com/punchsync/punchsync/internal/models"
)

// BreakerClient wraps the source client with a circuit breaker so a device
// API that is hard-down stops eating a full retry ladder every cycle. While
// the circuit is open, Fetch fails fast with a network-class error and the
// scheduler's error backoff takes over.
type BreakerClient struct {
	client *Client
	cb     *gobreaker.CircuitBreaker[[]models.RawRecord]
	name   string
}

// NewBreakerClient wraps client. The breaker opens after a 60% failure rate
// over at least 6 requests, waits 2 minutes before half-open, and admits 2
// trial requests in half-open state.
func NewBreakerClient(client *Client) *BreakerClient {
	cbName := "source-api"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]models.RawRecord](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 6 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("from", breakerStateString(from)).
				Str("to", breakerStateString(to)).
				Msg("Source circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, breakerStateString(from), breakerStateString(to)).Inc()
		},
	})

	return &BreakerClient{client: client, cb: cb, name: cbName}
}

// Fetch proxies Client.Fetch through the breaker.
func (b *BreakerClient) Fetch(ctx context.Context, from, to time.Time) ([]models.RawRecord, error) {
	records, err := b.cb.Execute(func() ([]models.RawRecord, error) {
		return b.client.Fetch(ctx, from, to)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &models.NetworkError{Op: "source fetch (circuit open)", Err: err}
		}
		return nil, err
	}
	return records, nil
}

func breakerStateFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func breakerStateString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
