// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

// Package sink posts normalized attendance events to the HR API and resolves
// employee codes through its directory. The API is not batch-capable, so a
// batch is a fan-out of single-event requests sharing one rate limiter. The
// token is never held here; every request asks the token manager for a fresh
// snapshot, and a 401 triggers exactly one forced refresh plus one retry of
// the same event.
package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/punchsync/punchsync/internal/config"
	"github.com/punchsync/punchsync/internal/logging"
	"github.com/punchsync/punchsync/internal/metrics"
	"github.com/punchsync/punchsync/internal/models"
	"github.com/punchsync/punchsync/internal/transform"
)

// maxErrorBodySize caps how much of an error response body is read back for
// diagnostics.
const maxErrorBodySize = 64 * 1024

// TokenSource hands out usable access tokens. Refresh is called only after
// the sink rejects a token the source considered valid.
type TokenSource interface {
	GetValidToken(ctx context.Context) (models.Token, error)
	Refresh(ctx context.Context) (models.Token, error)
}

// Client posts attendance events to the HR API.
type Client struct {
	cfg        config.SinkConfig
	httpClient *http.Client
	tokens     TokenSource
	limiter    *rate.Limiter
}

// NewClient creates a sink client. A RequestsPerSecond of 0 disables pacing.
func NewClient(cfg config.SinkConfig, tokens TokenSource) *Client {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tokens:     tokens,
		limiter:    limiter,
	}
}

// PostEvent dispatches one attendance event. Transient failures (network,
// 5xx) are retried with exponential backoff up to the configured attempts.
// A 401 is handled once: force a refresh, retry the same event, and if that
// also fails the auth error stands. 429 surfaces as a RateLimitError without
// automatic retry; the scheduler owns that decision.
func (c *Client) PostEvent(ctx context.Context, event models.AttendanceEvent) error {
	err := c.postWithRetry(ctx, event)

	var authErr *models.AuthError
	if errors.As(err, &authErr) {
		logging.Debug().
			Str("employee_id", event.EmployeeID).
			Msg("Sink rejected token, forcing one refresh")
		if _, rerr := c.tokens.Refresh(ctx); rerr != nil {
			return &models.AuthError{Op: "sink dispatch refresh", Err: rerr}
		}
		err = c.postWithRetry(ctx, event)
	}

	metrics.SinkDispatches.WithLabelValues(dispatchResult(err)).Inc()
	return err
}

// postWithRetry runs the transient-error retry loop around a single event.
// Auth and rate-limit failures are terminal here; PostEvent and the
// scheduler handle those classes respectively.
func (c *Client) postWithRetry(ctx context.Context, event models.AttendanceEvent) error {
	operation := func() error {
		err := c.postOnce(ctx, event)
		if err == nil {
			return nil
		}
		var rateErr *models.RateLimitError
		if errors.As(err, &rateErr) || !models.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryBaseDelay
	return backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(c.cfg.RetryAttempts)), ctx))
}

func (c *Client) postOnce(ctx context.Context, event models.AttendanceEvent) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	tok, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		return &models.AuthError{Op: "sink dispatch", Err: err}
	}

	form := url.Values{}
	form.Set("empId", event.EmployeeID)
	form.Set("checkIn", transform.FormatSinkTime(event.CheckIn))
	if event.CheckOut != nil {
		form.Set("checkOut", transform.FormatSinkTime(*event.CheckOut))
	}
	if event.Comment != "" {
		form.Set("comments", event.Comment)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.URL+"/attendance", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create attendance request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", c.cfg.AuthScheme+" "+tok.AccessToken)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.SinkRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return &models.NetworkError{Op: "sink dispatch", Err: err}
	}
	defer resp.Body.Close()

	return statusToError("sink dispatch", resp)
}

// PostBatch dispatches every event in the batch concurrently and folds the
// per-event results into one outcome, including the largest 429 hint so the
// scheduler can slow down. The shared rate limiter bounds the fan-out.
func (c *Client) PostBatch(ctx context.Context, events []models.AttendanceEvent) models.BatchOutcome {
	var (
		mu      sync.Mutex
		outcome models.BatchOutcome
		wg      sync.WaitGroup
	)

	for _, event := range events {
		wg.Add(1)
		go func(ev models.AttendanceEvent) {
			defer wg.Done()
			err := c.PostEvent(ctx, ev)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				outcome.Failed++
				var rle *models.RateLimitError
				if errors.As(err, &rle) {
					outcome.RateLimited++
					if rle.RetryAfter > outcome.RetryAfter {
						outcome.RetryAfter = rle.RetryAfter
					}
				}
				logging.Warn().
					Err(err).
					Str("employee_id", ev.EmployeeID).
					Time("check_in", ev.CheckIn).
					Msg("Attendance event dispatch failed")
				return
			}
			outcome.Synced++
		}(event)
	}
	wg.Wait()

	return outcome
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// apiError is the structured error object the HR API returns inside a 200 or
// error body.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// statusToError maps a sink response to the shared error taxonomy. The
// classes drive very different handling upstream, so the mapping is explicit
// per status band.
func statusToError(op string, resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return &models.AuthError{Op: op, Err: fmt.Errorf("status 401: %s", readBodyForError(resp.Body))}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &models.RateLimitError{Op: op, RetryAfter: parseRetryAfter(resp)}
	case resp.StatusCode >= 500:
		return &models.ServerError{Op: op, Status: resp.StatusCode}
	default:
		return &models.PermanentError{Op: op, Status: resp.StatusCode, Msg: string(readBodyForError(resp.Body))}
	}
}

func parseRetryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if d, err := time.ParseDuration(raw + "s"); err == nil {
		return d
	}
	return 0
}

func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if msg := decodeAPIError(body); msg != "" {
		return []byte(msg)
	}
	return body
}

func decodeAPIError(body []byte) string {
	var apiErr apiError
	if err := json.Unmarshal(bytes.TrimSpace(body), &apiErr); err != nil {
		return ""
	}
	if apiErr.Message == "" {
		return ""
	}
	return fmt.Sprintf("api error %d: %s", apiErr.Code, apiErr.Message)
}

func dispatchResult(err error) string {
	var (
		authErr *models.AuthError
		rateErr *models.RateLimitError
		permErr *models.PermanentError
		srvErr  *models.ServerError
		netErr  *models.NetworkError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &rateErr):
		return "rate_limit"
	case errors.As(err, &permErr):
		return "permanent"
	case errors.As(err, &srvErr):
		return "server"
	case errors.As(err, &netErr):
		return "network"
	default:
		return "other"
	}
}
