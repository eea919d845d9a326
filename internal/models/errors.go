// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

package models

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy shared across the source client, sink client and scheduler.
// Classification drives retry decisions, so every remote failure must map to
// exactly one of these.

// ErrAuthUnavailable is returned by the token manager when no refresh path
// exists (no refresh token and no pending authorization grant).
var ErrAuthUnavailable = errors.New("auth unavailable: no valid token and no refresh path")

// ErrTokenRevoked is returned after Revoke until a new grant is supplied.
var ErrTokenRevoked = errors.New("token revoked")

// NetworkError wraps a transport-level failure where no HTTP response was
// received at all.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error during %s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a 5xx response from either endpoint. Transient: eligible for
// bounded retry.
type ServerError struct {
	Op     string
	Status int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s failed with server error %d", e.Op, e.Status)
}

// AuthError is a 401 response or a failed token refresh.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("auth error during %s: %v", e.Op, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitError is a 429 response. RetryAfter carries the server's hint when
// the Retry-After header was present, zero otherwise. Never retried within
// the same call; the scheduler folds the hint into its pacing.
type RateLimitError struct {
	Op         string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limited, retry after %s", e.Op, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limited", e.Op)
}

// PermanentError is a non-retryable per-event rejection from the sink
// (403/404). The event is recorded as failed and never retried.
type PermanentError struct {
	Op     string
	Status int
	Msg    string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s rejected permanently (%d): %s", e.Op, e.Status, e.Msg)
}

// ValidationKind classifies why a record failed transformation. The values
// double as metric label values.
type ValidationKind string

const (
	ValidationUnmappedEmployee ValidationKind = "unmapped_employee"
	ValidationBadTimestamp     ValidationKind = "bad_timestamp"
)

// ValidationError marks a single record that cannot be transformed: unmapped
// employee code or unparsable timestamp. The record is dropped with a logged
// reason; the batch continues.
type ValidationError struct {
	EmployeeCode string
	Kind         ValidationKind
	Reason       string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record for employee code %q dropped: %s", e.EmployeeCode, e.Reason)
}

// NegotiationExhaustedError means every dialect/action combination against
// the source endpoint failed. The fetch degrades to an empty poll.
type NegotiationExhaustedError struct {
	Attempts int
	Reasons  []string
}

func (e *NegotiationExhaustedError) Error() string {
	return fmt.Sprintf("source protocol negotiation exhausted after %d attempts: %v", e.Attempts, e.Reasons)
}

// ConfigError is fatal, but only at process startup before any cycle begins.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Msg)
}

// IsTransient reports whether err should be retried locally with backoff:
// network failures, 5xx responses and rate limiting.
func IsTransient(err error) bool {
	var ne *NetworkError
	var se *ServerError
	var re *RateLimitError
	return errors.As(err, &ne) || errors.As(err, &se) || errors.As(err, &re)
}
