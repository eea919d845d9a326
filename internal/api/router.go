// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

// Package api provides the status and metrics HTTP surface using Chi.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/punchsync/punchsync/internal/health"
	"github.com/punchsync/punchsync/internal/logging"
	"github.com/punchsync/punchsync/internal/models"
	"github.com/punchsync/punchsync/internal/scheduler"
	"github.com/punchsync/punchsync/internal/token"
)

// SyncStatus exposes the orchestrator's snapshot accessors.
type SyncStatus interface {
	Interval() scheduler.IntervalState
	Cursor() time.Time
}

// TokenService exposes the token manager's observable state and the initial
// grant exchange.
type TokenService interface {
	StateNow() token.State
	Authorize(ctx context.Context, code string) (models.Token, error)
}

// Router serves the observability endpoints plus the one-time authorization
// exchange. The status endpoints only read snapshots.
type Router struct {
	monitor      *health.Monitor
	orchestrator SyncStatus
	tokens       TokenService
}

// NewRouter creates the HTTP surface over the given components.
func NewRouter(monitor *health.Monitor, orchestrator SyncStatus, tokens TokenService) *Router {
	return &Router{
		monitor:      monitor,
		orchestrator: orchestrator,
		tokens:       tokens,
	}
}

// Setup configures all HTTP routes.
func (r *Router) Setup() http.Handler {
	mux := chi.NewRouter()

	mux.Use(chimiddleware.RealIP)
	mux.Use(chimiddleware.Recoverer)
	mux.Use(requestLogging)

	mux.Get("/healthz", r.handleHealthz)
	mux.Get("/status", r.handleStatus)
	mux.Post("/authorize", r.handleAuthorize)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// requestLogging logs each request at debug with method, path, status and
// duration.
func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, req.ProtoMajor)

		next.ServeHTTP(ww, req)

		logging.Debug().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
