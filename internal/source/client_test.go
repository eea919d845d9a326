// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/punchsync/punchsync/internal/config"
	"github.com/punchsync/punchsync/internal/models"
)

func testConfig(url string) config.SourceConfig {
	return config.SourceConfig{
		URL:            url,
		Username:       "admin",
		Password:       "secret",
		SOAPNamespace:  "http://tempuri.org/",
		SOAPActions:    []string{"GetTransactionsLog", "GetDeviceLogs"},
		WSDLDiscovery:  false,
		RetryAttempts:  2,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
		Timeout:        5 * time.Second,
	}
}

var window = struct{ from, to time.Time }{
	from: time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC),
	to:   time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
}

const recordsJSON = `[
	{"DeviceCode":"DEV01","EmployeeCode":"1001","PunchDate":"2026-03-14","PunchTime":"08:15:00","Direction":"IN","DeviceId":"7","DeviceName":"Main Gate"},
	{"DeviceCode":"DEV01","EmployeeCode":"1002","PunchDate":"2026-03-14","PunchTime":"08:17:30","Direction":"IN","DeviceId":"7","DeviceName":"Main Gate"}
]`

func TestFetchJSONPrimaryDialect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		w.Write([]byte(recordsJSON))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	records, err := client.Fetch(context.Background(), window.from, window.to)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].EmployeeCode != "1001" {
		t.Errorf("EmployeeCode = %q, want 1001", records[0].EmployeeCode)
	}
}

func TestNormalizePayloadShapes(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    int
	}{
		{"plain array", recordsJSON, 2},
		{"data wrapper", `{"data":` + recordsJSON + `}`, 2},
		{"records wrapper", `{"records":` + recordsJSON + `}`, 2},
		{"transactions wrapper", `{"transactions":` + recordsJSON + `}`, 2},
		{"empty array", `[]`, 0},
		{"unexpected shape", `{"status":"weird"}`, 0},
		{"garbage", `<<<not json>>>`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := normalizePayload([]byte(tt.payload))
			if err != nil {
				t.Fatalf("normalizePayload() error = %v", err)
			}
			if len(records) != tt.want {
				t.Errorf("len(records) = %d, want %d", len(records), tt.want)
			}
		})
	}
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(recordsJSON))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.SOAPActions = nil // isolate the retry loop from negotiation
	client := NewClient(cfg)

	records, err := client.Fetch(context.Background(), window.from, window.to)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(records) != 2 {
		t.Errorf("len(records) = %d, want 2", len(records))
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestFetchDoesNotRetryPermanentErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.SOAPActions = nil
	client := NewClient(cfg)

	_, err := client.Fetch(context.Background(), window.from, window.to)
	if err == nil {
		t.Fatal("Fetch() = nil error, want failure")
	}
	var nee *models.NegotiationExhaustedError
	if !errors.As(err, &nee) {
		t.Fatalf("error type = %T, want *models.NegotiationExhaustedError", err)
	}
	// One JSON attempt, zero SOAP strategies, no retries: 4xx is permanent.
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestFetchExhaustsRetriesOnPersistentServerError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.SOAPActions = nil
	client := NewClient(cfg)

	_, err := client.Fetch(context.Background(), window.from, window.to)
	var serr *models.ServerError
	if !errors.As(err, &serr) {
		t.Fatalf("error type = %T, want *models.ServerError", err)
	}
	// RetryAttempts=2 means 3 total tries of the call.
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestFetchSurfacesRateLimitHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.SOAPActions = nil
	cfg.RetryAttempts = 0
	client := NewClient(cfg)

	_, err := client.Fetch(context.Background(), window.from, window.to)
	var rle *models.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("error type = %T, want *models.RateLimitError", err)
	}
	if rle.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", rle.RetryAfter)
	}
}

func TestFetchHonorsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.SOAPActions = nil
	cfg.RetryAttempts = 5
	cfg.RetryBaseDelay = time.Hour // cancellation must interrupt the wait
	cfg.RetryMaxDelay = time.Hour  // keep the cap from shrinking the wait
	client := NewClient(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.Fetch(ctx, window.from, window.to)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Fetch() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Fetch did not return after cancellation")
	}
}
