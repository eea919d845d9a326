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
	"testing"

	"github.com/punchsync/punchsync/internal/models"
)

func TestDirectoryProbesFieldsInOrder(t *testing.T) {
	var probedFields []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		field := r.URL.Query().Get("searchField")
		probedFields = append(probedFields, field)
		switch field {
		case "EmployeeID":
			// Unknown search field on this deployment.
			w.Write([]byte(`{"code":7301,"message":"invalid search column"}`))
		case "Employee_ID":
			w.Write([]byte(`[]`))
		case "EmployeeCode":
			w.Write([]byte(`[{"id":"EMP-42","name":"A. Worker"}]`))
		}
	}))
	defer srv.Close()

	dir := NewDirectory(NewClient(sinkConfig(srv.URL), newStaticTokens("tok-1")))

	id, err := dir.Resolve(context.Background(), "1001")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id != "EMP-42" {
		t.Errorf("id = %q, want EMP-42", id)
	}

	want := []string{"EmployeeID", "Employee_ID", "EmployeeCode"}
	if len(probedFields) != len(want) {
		t.Fatalf("probed fields = %v, want %v", probedFields, want)
	}
	for i, got := range probedFields {
		if got != want[i] {
			t.Errorf("probe %d = %s, want %s", i, got, want[i])
		}
	}
}

func TestDirectoryCachesResolvedCodes(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte(`[{"id":"EMP-42"}]`))
	}))
	defer srv.Close()

	dir := NewDirectory(NewClient(sinkConfig(srv.URL), newStaticTokens("tok-1")))

	for i := 0; i < 3; i++ {
		id, err := dir.Resolve(context.Background(), "1001")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if id != "EMP-42" {
			t.Errorf("id = %q, want EMP-42", id)
		}
	}
	if requests != 1 {
		t.Errorf("requests = %d, want 1 (cached after first hit)", requests)
	}
}

func TestDirectoryUnresolvedCodeIsValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	dir := NewDirectory(NewClient(sinkConfig(srv.URL), newStaticTokens("tok-1")))

	_, err := dir.Resolve(context.Background(), "ghost")
	var valErr *models.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("error type = %T, want *models.ValidationError", err)
	}
}
