// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

package services

import (
	"context"
	"errors"

	"github.com/punchsync/punchsync/internal/health"
)

// SyncLoop matches the scheduler's Serve method without importing the
// scheduler package, avoiding a supervisor -> scheduler dependency.
type SyncLoop interface {
	Serve(ctx context.Context) error
}

// SyncService wraps the sync loop as a supervised service. The loop only
// returns on context cancellation or a cycle-independent failure such as a
// broken state store; the supervisor restarts the latter with backoff and
// the failure is surfaced to the health monitor.
type SyncService struct {
	loop    SyncLoop
	monitor *health.Monitor
	name    string
}

// NewSyncService creates a new sync loop service wrapper.
func NewSyncService(loop SyncLoop, monitor *health.Monitor) *SyncService {
	return &SyncService{
		loop:    loop,
		monitor: monitor,
		name:    "sync-loop",
	}
}

// Serve implements suture.Service.
func (s *SyncService) Serve(ctx context.Context) error {
	err := s.loop.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.monitor.RecordError(err)
	}
	return err
}

// String implements fmt.Stringer; suture uses it to identify the service in
// log messages.
func (s *SyncService) String() string {
	return s.name
}
