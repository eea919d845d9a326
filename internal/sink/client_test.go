// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

package sink

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/punchsync/punchsync/internal/config"
	"github.com/punchsync/punchsync/internal/models"
)

// staticTokens is a TokenSource whose Refresh swaps in a second access token
// and counts how often it was forced.
type staticTokens struct {
	current   atomic.Value
	refreshes atomic.Int64
}

func newStaticTokens(access string) *staticTokens {
	st := &staticTokens{}
	st.current.Store(access)
	return st
}

func (s *staticTokens) GetValidToken(context.Context) (models.Token, error) {
	return models.Token{AccessToken: s.current.Load().(string)}, nil
}

func (s *staticTokens) Refresh(context.Context) (models.Token, error) {
	s.refreshes.Add(1)
	s.current.Store("refreshed-token")
	return models.Token{AccessToken: "refreshed-token"}, nil
}

func sinkConfig(url string) config.SinkConfig {
	return config.SinkConfig{
		URL:               url,
		ClientID:          "id",
		ClientSecret:      "secret",
		AuthScheme:        "Zoho-oauthtoken",
		TokenExpiryBuffer: 5 * time.Minute,
		LookupFields:      []string{"EmployeeID", "Employee_ID", "EmployeeCode"},
		RetryAttempts:     2,
		RetryBaseDelay:    time.Millisecond,
		RequestsPerSecond: 0,
		Timeout:           5 * time.Second,
	}
}

func event() models.AttendanceEvent {
	return models.AttendanceEvent{
		EmployeeID: "EMP-42",
		CheckIn:    time.Date(2026, 3, 14, 8, 15, 0, 0, time.UTC),
		DeviceID:   "7",
		DeviceName: "Main Gate",
		Comment:    "Check-in via Main Gate",
	}
}

func TestPostEventRequestShape(t *testing.T) {
	var gotAuth, gotEmp, gotCheckIn string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm() error = %v", err)
		}
		gotAuth = r.Header.Get("Authorization")
		gotEmp = r.PostForm.Get("empId")
		gotCheckIn = r.PostForm.Get("checkIn")
	}))
	defer srv.Close()

	client := NewClient(sinkConfig(srv.URL), newStaticTokens("tok-1"))
	if err := client.PostEvent(context.Background(), event()); err != nil {
		t.Fatalf("PostEvent() error = %v", err)
	}

	if gotAuth != "Zoho-oauthtoken tok-1" {
		t.Errorf("Authorization = %q, want Zoho-oauthtoken tok-1", gotAuth)
	}
	if gotEmp != "EMP-42" {
		t.Errorf("empId = %q, want EMP-42", gotEmp)
	}
	if gotCheckIn != "14/03/2026 08:15:00" {
		t.Errorf("checkIn = %q, want canonical dd/MM/yyyy HH:mm:ss", gotCheckIn)
	}
}

func TestPostEventRefreshesOnceOn401(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("Authorization") != "Zoho-oauthtoken refreshed-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}))
	defer srv.Close()

	tokens := newStaticTokens("stale-token")
	client := NewClient(sinkConfig(srv.URL), tokens)

	if err := client.PostEvent(context.Background(), event()); err != nil {
		t.Fatalf("PostEvent() error = %v", err)
	}
	if got := tokens.refreshes.Load(); got != 1 {
		t.Errorf("refreshes = %d, want exactly 1", got)
	}
	// One rejected request, one retry with the refreshed token.
	if got := requests.Load(); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
}

func TestPostEventAuthErrorAfterFailedRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := newStaticTokens("stale-token")
	client := NewClient(sinkConfig(srv.URL), tokens)

	err := client.PostEvent(context.Background(), event())
	var authErr *models.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error type = %T, want *models.AuthError", err)
	}
	// The refresh happens once even when the retry also fails.
	if got := tokens.refreshes.Load(); got != 1 {
		t.Errorf("refreshes = %d, want exactly 1", got)
	}
}

func TestPostEventRateLimitNotRetried(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(sinkConfig(srv.URL), newStaticTokens("tok-1"))

	err := client.PostEvent(context.Background(), event())
	var rateErr *models.RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("error type = %T, want *models.RateLimitError", err)
	}
	if rateErr.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", rateErr.RetryAfter)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("requests = %d, want 1 (no automatic retry)", got)
	}
}

func TestPostEventRetriesServerErrors(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	client := NewClient(sinkConfig(srv.URL), newStaticTokens("tok-1"))
	if err := client.PostEvent(context.Background(), event()); err != nil {
		t.Fatalf("PostEvent() error = %v", err)
	}
	if got := requests.Load(); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}
}

func TestPostEventPermanentFailureNotRetried(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(sinkConfig(srv.URL), newStaticTokens("tok-1"))

	err := client.PostEvent(context.Background(), event())
	var permErr *models.PermanentError
	if !errors.As(err, &permErr) {
		t.Fatalf("error type = %T, want *models.PermanentError", err)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestPostBatchFoldsOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm() error = %v", err)
		}
		if r.PostForm.Get("empId") == "EMP-DOOMED" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(sinkConfig(srv.URL), newStaticTokens("tok-1"))

	events := make([]models.AttendanceEvent, 0, 5)
	for i := 0; i < 4; i++ {
		events = append(events, event())
	}
	doomed := event()
	doomed.EmployeeID = "EMP-DOOMED"
	events = append(events, doomed)

	outcome := client.PostBatch(context.Background(), events)
	if outcome.Synced != 4 {
		t.Errorf("Synced = %d, want 4", outcome.Synced)
	}
	if outcome.Failed != 1 {
		t.Errorf("Failed = %d, want 1", outcome.Failed)
	}
}

func TestPostBatchCarriesRateLimitHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm() error = %v", err)
		}
		switch r.PostForm.Get("empId") {
		case "EMP-SLOW":
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
		case "EMP-SLOWER":
			w.Header().Set("Retry-After", "90")
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()

	client := NewClient(sinkConfig(srv.URL), newStaticTokens("tok-1"))

	slow := event()
	slow.EmployeeID = "EMP-SLOW"
	slower := event()
	slower.EmployeeID = "EMP-SLOWER"
	events := []models.AttendanceEvent{event(), slow, slower}

	outcome := client.PostBatch(context.Background(), events)
	if outcome.Synced != 1 || outcome.Failed != 2 {
		t.Errorf("Synced/Failed = %d/%d, want 1/2", outcome.Synced, outcome.Failed)
	}
	if outcome.RateLimited != 2 {
		t.Errorf("RateLimited = %d, want 2", outcome.RateLimited)
	}
	// The largest hint wins so one slow consumer paces the whole loop.
	if outcome.RetryAfter != 90*time.Second {
		t.Errorf("RetryAfter = %v, want 90s", outcome.RetryAfter)
	}
}

func TestDecodeAPIError(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"structured", `{"code":7202,"message":"employee not found"}`, "api error 7202: employee not found"},
		{"plain text", "gateway exploded", ""},
		{"empty object", `{}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeAPIError([]byte(tt.body)); got != tt.want {
				t.Errorf("decodeAPIError() = %q, want %q", got, tt.want)
			}
		})
	}
}
