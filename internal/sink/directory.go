// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

package sink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/goccy/go-json"

	"github.com/punchsync/punchsync/internal/logging"
	"github.com/punchsync/punchsync/internal/models"
)

// Directory resolves device employee codes against the HR employee search
// endpoint. Deployments disagree on which field holds the device code, so the
// configured candidate fields are probed in order and the first hit wins.
// Hits are cached for the process lifetime; the directory churns far slower
// than the punch stream.
type Directory struct {
	client *Client

	mu    sync.RWMutex
	cache map[string]string
}

// NewDirectory creates a directory resolver backed by the sink client.
func NewDirectory(client *Client) *Directory {
	return &Directory{
		client: client,
		cache:  make(map[string]string),
	}
}

// directoryRecord is one employee search result. Only the record ID matters.
type directoryRecord struct {
	ID string `json:"id"`
}

// Resolve implements transform.Resolver. A code no field matches yields a
// ValidationError so the transform stage drops the record with a reason.
func (d *Directory) Resolve(ctx context.Context, code string) (string, error) {
	d.mu.RLock()
	id, ok := d.cache[code]
	d.mu.RUnlock()
	if ok {
		return id, nil
	}

	for _, field := range d.client.cfg.LookupFields {
		id, err := d.search(ctx, field, code)
		if err != nil {
			// Endpoint trouble is not proof the employee is unknown; drop
			// nothing on a failed probe, just try the next field.
			logging.Debug().
				Err(err).
				Str("field", field).
				Str("code", code).
				Msg("Employee directory probe failed")
			continue
		}
		if id == "" {
			continue
		}

		d.mu.Lock()
		d.cache[code] = id
		d.mu.Unlock()

		logging.Debug().
			Str("field", field).
			Str("code", code).
			Str("employee_id", id).
			Msg("Resolved employee through directory")
		return id, nil
	}

	return "", &models.ValidationError{
		EmployeeCode: code,
		Kind:         models.ValidationUnmappedEmployee,
		Reason:       "no directory field matched",
	}
}

// search runs one field/value probe. An empty ID with nil error means the
// field exists but matched nothing.
func (d *Directory) search(ctx context.Context, field, value string) (string, error) {
	if err := d.client.wait(ctx); err != nil {
		return "", err
	}

	tok, err := d.client.tokens.GetValidToken(ctx)
	if err != nil {
		return "", &models.AuthError{Op: "employee lookup", Err: err}
	}

	query := url.Values{}
	query.Set("searchField", field)
	query.Set("searchValue", value)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		d.client.cfg.URL+"/employees?"+query.Encode(), http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create lookup request: %w", err)
	}
	req.Header.Set("Authorization", d.client.cfg.AuthScheme+" "+tok.AccessToken)

	resp, err := d.client.httpClient.Do(req)
	if err != nil {
		return "", &models.NetworkError{Op: "employee lookup", Err: err}
	}
	defer resp.Body.Close()

	if err := statusToError("employee lookup", resp); err != nil {
		return "", err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		return "", &models.NetworkError{Op: "employee lookup read", Err: err}
	}

	var records []directoryRecord
	if err := json.Unmarshal(body, &records); err == nil {
		if len(records) == 0 {
			return "", nil
		}
		return records[0].ID, nil
	}

	// Not a list: the endpoint answers structured errors inside a 200 for
	// unknown search fields.
	if msg := decodeAPIError(body); msg != "" {
		return "", fmt.Errorf("employee lookup: %s", msg)
	}
	return "", nil
}
