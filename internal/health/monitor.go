// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

// Package health aggregates cycle outcomes into a status snapshot for the
// HTTP surface. It observes the scheduler; it never steers it.
package health

import (
	"runtime"
	"sync"
	"time"

	"github.com/punchsync/punchsync/internal/models"
)

// Classification is the binary health verdict.
type Classification string

const (
	Healthy  Classification = "healthy"
	Degraded Classification = "degraded"
)

// Config tunes the degraded classification.
type Config struct {
	// Window is how many recent cycles the failure rate is computed over.
	Window int

	// MaxFailureRate is the fraction of recent cycles allowed to fail
	// before the monitor reports degraded.
	MaxFailureRate float64

	// MaxHeapBytes degrades the verdict when the live heap grows past
	// this size. Zero disables the memory check.
	MaxHeapBytes uint64
}

// DefaultConfig classifies degraded when more than half of the last 20
// cycles errored or the heap exceeds 1 GiB.
func DefaultConfig() Config {
	return Config{Window: 20, MaxFailureRate: 0.5, MaxHeapBytes: 1 << 30}
}

// Snapshot is a point-in-time copy of the monitor's state, safe to serialize.
type Snapshot struct {
	Classification   Classification `json:"classification"`
	CyclesTotal      uint64         `json:"cycles_total"`
	CyclesFailed     uint64         `json:"cycles_failed"`
	EventsSynced     uint64         `json:"events_synced"`
	EventsFailed     uint64         `json:"events_failed"`
	RecordsDropped   uint64         `json:"records_dropped"`
	AvgCycleDuration time.Duration  `json:"avg_cycle_duration_ns"`
	LastCycleAt      time.Time      `json:"last_cycle_at"`
	LastError        string         `json:"last_error,omitempty"`
	LastErrorAt      time.Time      `json:"last_error_at,omitempty"`
	CycleInProgress  bool           `json:"cycle_in_progress"`
	HeapBytes        uint64         `json:"heap_bytes"`
}

// Monitor accumulates cycle outcomes. All methods are safe for concurrent
// use; the scheduler writes, the HTTP handlers read.
type Monitor struct {
	cfg Config

	mu             sync.RWMutex
	cyclesTotal    uint64
	cyclesFailed   uint64
	eventsSynced   uint64
	eventsFailed   uint64
	recordsDropped uint64
	durationSum    time.Duration
	lastCycleAt    time.Time
	lastError      string
	lastErrorAt    time.Time
	inProgress     bool

	// recent is a ring of the last Window cycle results, true for failed.
	recent []bool
	next   int
	filled int

	// heapBytes reads the live heap size; swapped in tests.
	heapBytes func() uint64
}

// NewMonitor creates a monitor with the given thresholds.
func NewMonitor(cfg Config) *Monitor {
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.MaxFailureRate <= 0 {
		cfg.MaxFailureRate = DefaultConfig().MaxFailureRate
	}
	return &Monitor{
		cfg:       cfg,
		recent:    make([]bool, cfg.Window),
		heapBytes: liveHeapBytes,
	}
}

func liveHeapBytes() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// RecordCycleStart marks a cycle as in flight.
func (m *Monitor) RecordCycleStart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inProgress = true
}

// RecordCycleEnd folds a completed cycle into the aggregates.
func (m *Monitor) RecordCycleEnd(outcome models.CycleOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inProgress = false
	m.cyclesTotal++
	m.eventsSynced += uint64(outcome.Synced)
	m.eventsFailed += uint64(outcome.Failed)
	m.recordsDropped += uint64(outcome.Dropped)
	m.durationSum += outcome.Duration
	m.lastCycleAt = outcome.StartedAt.Add(outcome.Duration)

	failed := outcome.Err != nil
	if failed {
		m.cyclesFailed++
	}
	m.recent[m.next] = failed
	m.next = (m.next + 1) % len(m.recent)
	if m.filled < len(m.recent) {
		m.filled++
	}
}

// RecordError notes an error outside the cycle accounting, such as a startup
// token failure surfaced by the supervisor.
func (m *Monitor) RecordError(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastError = err.Error()
	m.lastErrorAt = time.Now()
}

// Status returns a snapshot copy of the aggregates. The verdict degrades on
// either threshold: recent failure rate or live heap size.
func (m *Monitor) Status() Snapshot {
	heap := m.heapBytes()

	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Classification:  Healthy,
		CyclesTotal:     m.cyclesTotal,
		CyclesFailed:    m.cyclesFailed,
		EventsSynced:    m.eventsSynced,
		EventsFailed:    m.eventsFailed,
		RecordsDropped:  m.recordsDropped,
		LastCycleAt:     m.lastCycleAt,
		LastError:       m.lastError,
		LastErrorAt:     m.lastErrorAt,
		CycleInProgress: m.inProgress,
		HeapBytes:       heap,
	}
	if m.cyclesTotal > 0 {
		snap.AvgCycleDuration = m.durationSum / time.Duration(m.cyclesTotal)
	}
	if m.failureRateLocked() > m.cfg.MaxFailureRate {
		snap.Classification = Degraded
	}
	if m.cfg.MaxHeapBytes > 0 && heap > m.cfg.MaxHeapBytes {
		snap.Classification = Degraded
	}
	return snap
}

// Healthy reports the binary verdict for the liveness endpoint.
func (m *Monitor) Healthy() bool {
	return m.Status().Classification == Healthy
}

func (m *Monitor) failureRateLocked() float64 {
	if m.filled == 0 {
		return 0
	}
	failed := 0
	for i := 0; i < m.filled; i++ {
		if m.recent[i] {
			failed++
		}
	}
	return float64(failed) / float64(m.filled)
}
