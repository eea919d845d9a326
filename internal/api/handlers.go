// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/punchsync/punchsync/internal/health"
	"github.com/punchsync/punchsync/internal/logging"
	"github.com/punchsync/punchsync/internal/token"
)

// statusResponse is the /status payload: the health snapshot plus the
// scheduler's and token manager's current state.
type statusResponse struct {
	Health       health.Snapshot `json:"health"`
	Cursor       time.Time       `json:"cursor"`
	PollInterval string          `json:"poll_interval"`
	EmptyPolls   int             `json:"empty_polls"`
	ErrorStreak  int             `json:"error_streak"`
	TokenState   token.State     `json:"token_state"`
}

// handleHealthz is the liveness/readiness probe: 200 while healthy, 503 when
// the recent failure rate crossed the degraded threshold.
func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	status := http.StatusOK
	if !r.monitor.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{
		"status": string(r.monitor.Status().Classification),
	})
}

// handleStatus returns the full operational snapshot.
func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	interval := r.orchestrator.Interval()
	writeJSON(w, http.StatusOK, statusResponse{
		Health:       r.monitor.Status(),
		Cursor:       r.orchestrator.Cursor(),
		PollInterval: interval.Current.String(),
		EmptyPolls:   interval.EmptyPolls,
		ErrorStreak:  interval.ConsecutiveErrors,
		TokenState:   r.tokens.StateNow(),
	})
}

// handleAuthorize exchanges a one-time grant code for the initial token pair.
// The operator obtains the code from the provider's consent page and posts it
// here once; afterwards the manager refreshes on its own.
func (r *Router) handleAuthorize(w http.ResponseWriter, req *http.Request) {
	code := req.FormValue("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "missing code parameter",
		})
		return
	}

	if _, err := r.tokens.Authorize(req.Context(), code); err != nil {
		logging.Error().Err(err).Msg("Authorization code exchange failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "authorization exchange failed",
		})
		return
	}

	logging.Info().Msg("Authorization code exchanged")
	writeJSON(w, http.StatusOK, map[string]string{
		"token_state": string(r.tokens.StateNow()),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response")
	}
}
