// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

// Package models defines the data types that flow through the sync pipeline:
// raw device transactions, normalized attendance events, OAuth tokens, and
// per-cycle outcome records.
package models

import "time"

// RawRecord is a source-native attendance transaction exactly as the device
// controller reports it. Date and time arrive as strings in one of several
// layouts depending on the controller firmware; normalization happens in the
// transform stage, not here.
type RawRecord struct {
	DeviceCode   string `json:"DeviceCode"`
	EmployeeCode string `json:"EmployeeCode"`
	PunchDate    string `json:"PunchDate"`
	PunchTime    string `json:"PunchTime"`
	Direction    string `json:"Direction"` // "IN"/"OUT", or firmware flags "0"/"1"
	DeviceID     string `json:"DeviceId"`
	DeviceName   string `json:"DeviceName"`
}

// AttendanceEvent is a normalized attendance record ready for the sink API.
// Immutable once produced by the transform stage.
type AttendanceEvent struct {
	EmployeeID string     // resolved sink-side employee identifier
	CheckIn    time.Time  // canonical instant in the configured zone
	CheckOut   *time.Time // optional, rarely present on raw punches
	DeviceID   string
	DeviceName string
	Comment    string
}

// Token holds the sink API's OAuth2 credentials. Owned exclusively by the
// token manager; other components receive snapshot copies.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// UsableAt reports whether the token is usable at the given instant, applying
// the configured safety buffer before the real expiry.
func (t Token) UsableAt(now time.Time, buffer time.Duration) bool {
	if t.AccessToken == "" {
		return false
	}
	return now.Before(t.ExpiresAt.Add(-buffer))
}

// BatchOutcome counts the results of one dispatch batch. RetryAfter carries
// the largest 429 hint seen in the batch so the scheduler can slow down.
type BatchOutcome struct {
	Synced      int
	Failed      int
	RateLimited int
	RetryAfter  time.Duration
}

// Add folds another outcome into this one.
func (b *BatchOutcome) Add(o BatchOutcome) {
	b.Synced += o.Synced
	b.Failed += o.Failed
	b.RateLimited += o.RateLimited
	if o.RetryAfter > b.RetryAfter {
		b.RetryAfter = o.RetryAfter
	}
}

// CycleOutcome summarizes one full scheduler cycle for the health monitor.
type CycleOutcome struct {
	Fetched    int           // raw records returned by the source
	Dropped    int           // records rejected by the transform stage
	Synced     int           // events accepted by the sink
	Failed     int           // events that exhausted their dispatch attempts
	Err        error         // cycle-level error, nil for handled completions
	RetryAfter time.Duration // largest sink 429 hint seen during dispatch
	Duration   time.Duration
	StartedAt  time.Time
}

// Empty reports whether the cycle saw no new records.
func (c CycleOutcome) Empty() bool {
	return c.Err == nil && c.Fetched == 0
}
