// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/punchsync/punchsync/internal/health"
	"github.com/punchsync/punchsync/internal/models"
	"github.com/punchsync/punchsync/internal/scheduler"
	"github.com/punchsync/punchsync/internal/token"
)

type fakeSync struct {
	state  scheduler.IntervalState
	cursor time.Time
}

func (f *fakeSync) Interval() scheduler.IntervalState { return f.state }
func (f *fakeSync) Cursor() time.Time                 { return f.cursor }

type fakeTokens struct {
	state       token.State
	exchangeErr error
	codes       []string
}

func (f *fakeTokens) StateNow() token.State { return f.state }

func (f *fakeTokens) Authorize(_ context.Context, code string) (models.Token, error) {
	f.codes = append(f.codes, code)
	if f.exchangeErr != nil {
		return models.Token{}, f.exchangeErr
	}
	f.state = token.StateValid
	return models.Token{AccessToken: "granted"}, nil
}

func newTestRouter(monitor *health.Monitor) http.Handler {
	sync := &fakeSync{
		state:  scheduler.IntervalState{Current: 20 * time.Second, EmptyPolls: 2},
		cursor: time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC),
	}
	return NewRouter(monitor, sync, &fakeTokens{state: token.StateValid}).Setup()
}

func TestHealthzReflectsClassification(t *testing.T) {
	monitor := health.NewMonitor(health.Config{Window: 2, MaxFailureRate: 0.5})
	handler := newTestRouter(monitor)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 while healthy", rec.Code)
	}

	boom := errors.New("source down")
	monitor.RecordCycleEnd(models.CycleOutcome{Err: boom})
	monitor.RecordCycleEnd(models.CycleOutcome{Err: boom})

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when degraded", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "degraded") {
		t.Errorf("body = %s, want degraded classification", rec.Body.String())
	}
}

func TestStatusSnapshot(t *testing.T) {
	monitor := health.NewMonitor(health.DefaultConfig())
	monitor.RecordCycleEnd(models.CycleOutcome{Fetched: 10, Synced: 8, Failed: 0, Dropped: 2})

	handler := newTestRouter(monitor)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if resp.PollInterval != "20s" {
		t.Errorf("PollInterval = %q, want 20s", resp.PollInterval)
	}
	if resp.EmptyPolls != 2 {
		t.Errorf("EmptyPolls = %d, want 2", resp.EmptyPolls)
	}
	if resp.TokenState != token.StateValid {
		t.Errorf("TokenState = %q, want valid", resp.TokenState)
	}
	if resp.Health.EventsSynced != 8 {
		t.Errorf("EventsSynced = %d, want 8", resp.Health.EventsSynced)
	}
}

func TestAuthorizeExchangesCode(t *testing.T) {
	tokens := &fakeTokens{state: token.StateRevoked}
	handler := NewRouter(health.NewMonitor(health.DefaultConfig()), &fakeSync{}, tokens).Setup()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/authorize", strings.NewReader("code=grant-1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if len(tokens.codes) != 1 || tokens.codes[0] != "grant-1" {
		t.Errorf("exchanged codes = %v, want [grant-1]", tokens.codes)
	}
	if !strings.Contains(rec.Body.String(), "valid") {
		t.Errorf("body = %s, want valid token state", rec.Body.String())
	}
}

func TestAuthorizeRejectsMissingCode(t *testing.T) {
	tokens := &fakeTokens{}
	handler := NewRouter(health.NewMonitor(health.DefaultConfig()), &fakeSync{}, tokens).Setup()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/authorize", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(tokens.codes) != 0 {
		t.Errorf("exchange attempted with codes %v, want none", tokens.codes)
	}
}

func TestAuthorizeSurfacesExchangeFailure(t *testing.T) {
	tokens := &fakeTokens{exchangeErr: errors.New("invalid_code")}
	handler := NewRouter(health.NewMonitor(health.DefaultConfig()), &fakeSync{}, tokens).Setup()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/authorize", strings.NewReader("code=stale"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestMetricsEndpointExposed(t *testing.T) {
	handler := newTestRouter(health.NewMonitor(health.DefaultConfig()))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "punchsync_") {
		t.Error("metrics body missing punchsync collectors")
	}
}
