// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/punchsync/punchsync/internal/config"
	"github.com/punchsync/punchsync/internal/health"
	"github.com/punchsync/punchsync/internal/logging"
	"github.com/punchsync/punchsync/internal/metrics"
	"github.com/punchsync/punchsync/internal/models"
	"github.com/punchsync/punchsync/internal/store"
	"github.com/punchsync/punchsync/internal/transform"
)

// Fetcher pulls raw records for a window from the source side.
type Fetcher interface {
	Fetch(ctx context.Context, from, to time.Time) ([]models.RawRecord, error)
}

// Dispatcher posts a batch of normalized events to the sink side.
type Dispatcher interface {
	PostBatch(ctx context.Context, events []models.AttendanceEvent) models.BatchOutcome
}

// CursorStore persists the sync watermark across restarts.
type CursorStore interface {
	SaveCursor(ctx context.Context, cursor time.Time) error
	LoadCursor(ctx context.Context) (time.Time, error)
}

// Orchestrator owns the polling loop, the watermark and the interval state.
// Nothing outside mutates any of the three.
type Orchestrator struct {
	cfg         config.SyncConfig
	source      Fetcher
	sink        Dispatcher
	transformer *transform.Transformer
	cursors     CursorStore
	monitor     *health.Monitor
	policy      intervalPolicy
	loc         *time.Location

	// mu guards cursor and state for snapshot reads from the HTTP surface;
	// only the loop goroutine writes them.
	mu     sync.Mutex
	cursor time.Time
	state  IntervalState

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator wires the pipeline. The location must match the one the
// transformer stamps events with.
func NewOrchestrator(
	cfg config.SyncConfig,
	source Fetcher,
	sink Dispatcher,
	transformer *transform.Transformer,
	cursors CursorStore,
	monitor *health.Monitor,
	loc *time.Location,
) *Orchestrator {
	policy := newIntervalPolicy(cfg)
	return &Orchestrator{
		cfg:         cfg,
		source:      source,
		sink:        sink,
		transformer: transformer,
		cursors:     cursors,
		monitor:     monitor,
		policy:      policy,
		loc:         loc,
		state:       policy.initialState(),
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// Serve runs cycles until ctx is cancelled. The stop is cooperative: an
// in-flight cycle always completes, cancellation is honored during the
// inter-cycle wait. Implements suture.Service.
func (o *Orchestrator) Serve(ctx context.Context) error {
	if err := o.restoreCursor(ctx); err != nil {
		return err
	}

	logging.Info().
		Time("cursor", o.Cursor()).
		Dur("interval", o.Interval().Current).
		Msg("Sync loop starting")

	for {
		o.runCycle(ctx)

		if err := o.sleep(ctx, o.Interval().Current); err != nil {
			logging.Info().Time("cursor", o.Cursor()).Msg("Sync loop stopped")
			return err
		}
	}
}

// restoreCursor loads the persisted watermark, falling back to now-Lookback
// on first run.
func (o *Orchestrator) restoreCursor(ctx context.Context) error {
	cursor, err := o.cursors.LoadCursor(ctx)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		cursor = o.now().Add(-o.cfg.Lookback)
		logging.Info().
			Time("cursor", cursor).
			Dur("lookback", o.cfg.Lookback).
			Msg("No persisted watermark, starting from lookback window")
	default:
		return err
	}

	o.mu.Lock()
	o.cursor = cursor
	o.mu.Unlock()
	metrics.CursorTimestamp.Set(float64(cursor.Unix()))
	return nil
}

// runCycle executes one fetch-transform-dispatch pass and advances the
// interval state from its outcome.
func (o *Orchestrator) runCycle(ctx context.Context) {
	started := o.now()
	o.monitor.RecordCycleStart()

	outcome := o.cycle(ctx, started)
	outcome.StartedAt = started
	outcome.Duration = o.now().Sub(started)

	o.monitor.RecordCycleEnd(outcome)
	metrics.CycleDuration.Observe(outcome.Duration.Seconds())

	result := resultSynced
	switch {
	case outcome.Err != nil:
		result = resultError
		metrics.CyclesTotal.WithLabelValues("error").Inc()
	case outcome.Empty():
		result = resultEmpty
		metrics.CyclesTotal.WithLabelValues("empty").Inc()
	default:
		metrics.CyclesTotal.WithLabelValues("synced").Inc()
	}

	o.mu.Lock()
	o.state = o.policy.next(o.state, result, started.In(o.loc).Hour())
	if outcome.RetryAfter > o.state.Current {
		// The sink asked for more breathing room than the adaptation
		// rules produced; honor the larger of the two.
		o.state.Current = clampDuration(outcome.RetryAfter, o.state.Current, o.policy.max)
	}
	next := o.state.Current
	o.mu.Unlock()
	metrics.CurrentInterval.Set(next.Seconds())

	logging.Debug().
		Int("fetched", outcome.Fetched).
		Int("synced", outcome.Synced).
		Int("failed", outcome.Failed).
		Int("dropped", outcome.Dropped).
		Dur("next_interval", next).
		Msg("Cycle complete")
}

// cycle runs the per-cycle algorithm. The cursor advances to the window end
// on every completed processing attempt, even a partially failed one; it
// never advances on a cycle-level fetch error, and never when cancellation
// interrupts dispatch with batches still pending. Held windows are re-fetched
// whole, so events already synced in the interrupted cycle may be delivered
// twice; undelivered ones are never skipped.
func (o *Orchestrator) cycle(ctx context.Context, now time.Time) models.CycleOutcome {
	var outcome models.CycleOutcome

	from := o.Cursor()
	records, err := o.source.Fetch(ctx, from, now)
	if err != nil {
		logging.Warn().
			Err(err).
			Time("from", from).
			Time("to", now).
			Msg("Cycle fetch failed, watermark held")
		outcome.Err = err
		return outcome
	}

	outcome.Fetched = len(records)
	metrics.RecordsFetched.Add(float64(len(records)))

	if len(records) > 0 {
		result := o.transformer.TransformAll(ctx, records)
		outcome.Dropped = len(records) - len(result.Events)

		batches := o.splitBatches(result.Events)
		for i, batch := range batches {
			if i > 0 {
				delay := o.cfg.BatchDelay
				if outcome.RetryAfter > delay {
					delay = outcome.RetryAfter
				}
				if err := o.sleep(ctx, delay); err != nil {
					pending := 0
					for _, rest := range batches[i:] {
						pending += len(rest)
					}
					logging.Warn().
						Err(err).
						Int("pending", pending).
						Time("from", from).
						Msg("Dispatch interrupted, watermark held for re-fetch")
					outcome.Err = err
					return outcome
				}
			}
			b := o.sink.PostBatch(ctx, batch)
			outcome.Synced += b.Synced
			outcome.Failed += b.Failed
			if b.RetryAfter > outcome.RetryAfter {
				outcome.RetryAfter = b.RetryAfter
			}
		}

		if outcome.Failed > 0 {
			logging.Warn().
				Int("failed", outcome.Failed).
				Time("window_end", now).
				Msg("Events permanently skipped for this window")
		}
	}

	o.advanceCursor(ctx, now)
	return outcome
}

// splitBatches sizes batches by volume: small counts go one event at a time,
// larger counts in configured batch sizes.
func (o *Orchestrator) splitBatches(events []models.AttendanceEvent) [][]models.AttendanceEvent {
	if len(events) == 0 {
		return nil
	}

	size := o.cfg.BatchSize
	if size <= 0 || len(events) <= o.cfg.SmallBatchThreshold {
		size = 1
	}

	batches := make([][]models.AttendanceEvent, 0, (len(events)+size-1)/size)
	for start := 0; start < len(events); start += size {
		end := start + size
		if end > len(events) {
			end = len(events)
		}
		batches = append(batches, events[start:end])
	}
	return batches
}

// advanceCursor moves the watermark and persists it. A persistence failure
// is logged but does not fail the cycle; the in-memory cursor stays correct
// and the worst restart cost is a re-fetch of one window.
func (o *Orchestrator) advanceCursor(ctx context.Context, to time.Time) {
	o.mu.Lock()
	o.cursor = to
	o.mu.Unlock()
	metrics.CursorTimestamp.Set(float64(to.Unix()))
	if err := o.cursors.SaveCursor(ctx, to); err != nil {
		logging.Warn().Err(err).Time("cursor", to).Msg("Failed to persist watermark")
	}
}

// Interval returns a snapshot of the current interval state.
func (o *Orchestrator) Interval() IntervalState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Cursor returns a snapshot of the current watermark.
func (o *Orchestrator) Cursor() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cursor
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
