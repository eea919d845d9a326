// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

// Package scheduler runs the adaptive polling loop: fetch, transform,
// dispatch, advance the watermark, then recompute the next interval from the
// cycle outcome. One logical loop per instance; the next cycle is scheduled
// only after the current one completes.
package scheduler

import (
	"math"
	"time"

	"github.com/punchsync/punchsync/internal/config"
)

// IntervalState carries the counters the adaptation rules read. It is owned
// by the orchestrator and advanced only through next(); everything else sees
// snapshot copies.
type IntervalState struct {
	// Current is the interval the last transition produced.
	Current time.Duration

	// EmptyPolls counts consecutive cycles that fetched nothing.
	EmptyPolls int

	// ConsecutiveErrors counts consecutive cycle-level failures.
	ConsecutiveErrors int
}

// cycleResult classifies one finished cycle for the transition function.
type cycleResult int

const (
	resultSynced cycleResult = iota
	resultEmpty
	resultError
)

// intervalPolicy is the configured shape of the adaptation curve.
type intervalPolicy struct {
	base                time.Duration
	min                 time.Duration
	max                 time.Duration
	factor              float64
	emptyPollsToBackoff int
	peakHours           map[int]bool
}

func newIntervalPolicy(cfg config.SyncConfig) intervalPolicy {
	peak := make(map[int]bool, len(cfg.PeakHours))
	for _, h := range cfg.PeakHours {
		peak[h] = true
	}
	return intervalPolicy{
		base:                cfg.BaseInterval,
		min:                 cfg.MinInterval,
		max:                 cfg.MaxInterval,
		factor:              cfg.BackoffFactor,
		emptyPollsToBackoff: cfg.EmptyPollsToBackoff,
		peakHours:           peak,
	}
}

// initialState starts at the base interval with clean counters.
func (p intervalPolicy) initialState() IntervalState {
	return IntervalState{Current: p.base}
}

// next is the pure transition function behind every scheduling decision.
// Given the previous state, the cycle result and the wall-clock hour it
// returns the new state. Rules in priority order: consecutive errors push
// the interval to min(max, base·factor^errors); empty polls past the
// tolerance stretch it by factor per poll; a non-empty success resets it to
// base; peak hours halve whatever the first three rules produced, floored
// at min. Deterministic for the same inputs, which is what the tests pin.
func (p intervalPolicy) next(prev IntervalState, result cycleResult, hour int) IntervalState {
	state := prev

	switch result {
	case resultError:
		state.ConsecutiveErrors++
		state.EmptyPolls = 0
		backoff := float64(p.base) * math.Pow(p.factor, float64(state.ConsecutiveErrors))
		state.Current = clampDuration(time.Duration(backoff), p.min, p.max)

	case resultEmpty:
		state.EmptyPolls++
		state.ConsecutiveErrors = 0
		if state.EmptyPolls >= p.emptyPollsToBackoff {
			stretched := float64(state.Current) * p.factor
			state.Current = clampDuration(time.Duration(stretched), p.min, p.max)
		}

	case resultSynced:
		state.EmptyPolls = 0
		state.ConsecutiveErrors = 0
		state.Current = p.base
	}

	if p.peakHours[hour] {
		halved := state.Current / 2
		if halved < p.min {
			halved = p.min
		}
		state.Current = halved
	}

	return state
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
