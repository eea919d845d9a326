// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

// Package source fetches raw attendance transactions from the device-side
// API. The legacy service silently switches between a JSON dialect and two
// SOAP envelope versions depending on deployment, so every fetch negotiates:
// JSON first, then an ordered list of {action, version} SOAP strategies.
// Fetch either returns a complete best-effort list or a declared failure
// after bounded retries; it never returns a partial list silently.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/punchsync/punchsync/internal/config"
	"github.com/punchsync/punchsync/internal/logging"
	"github.com/punchsync/punchsync/internal/metrics"
	"github.com/punchsync/punchsync/internal/models"
)

// windowTimeLayout is the date-time format the device API expects in fetch
// windows, for both dialects.
const windowTimeLayout = "2006-01-02 15:04:05"

// maxErrorBodySize caps how much of an error response body is read back for
// diagnostics.
const maxErrorBodySize = 64 * 1024

// Client fetches raw transaction records from the device controller API.
type Client struct {
	cfg        config.SourceConfig
	httpClient *http.Client
	strategies []soapStrategy
	wsdl       *wsdlCache
}

// NewClient creates a source client from configuration.
func NewClient(cfg config.SourceConfig) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	c.strategies = buildStrategies(cfg.SOAPActions)
	if cfg.WSDLDiscovery {
		c.wsdl = newWSDLCache(cfg.URL, c.httpClient)
	}
	return c
}

// Fetch returns all transactions recorded in [from, to). The retry loop is
// iterative and bounded: only network errors, 5xx and 429 are retried, with
// delay base·2^attempt capped at RetryMaxDelay. Non-retryable failures and
// retry exhaustion surface as a declared error; the caller decides how the
// cycle proceeds. Exhaustion is deliberately an error rather than an empty
// result: an empty result would advance the watermark over a window that was
// never read.
func (c *Client) Fetch(ctx context.Context, from, to time.Time) ([]models.RawRecord, error) {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.RetryAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		records, err := c.fetchOnce(ctx, from, to)
		if err == nil {
			return records, nil
		}
		lastErr = err

		if !models.IsTransient(err) {
			break
		}
		if attempt == c.cfg.RetryAttempts {
			break
		}

		delay := c.cfg.RetryBaseDelay * time.Duration(1<<uint(attempt))
		if delay > c.cfg.RetryMaxDelay {
			delay = c.cfg.RetryMaxDelay
		}
		logging.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Source fetch failed, backing off")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	metrics.SourceFetchErrors.WithLabelValues(classify(lastErr)).Inc()
	return nil, lastErr
}

// fetchOnce performs one complete negotiation pass: the primary JSON dialect,
// then each SOAP strategy in order. The first success wins; nothing is cached
// across calls except the WSDL introspection result.
func (c *Client) fetchOnce(ctx context.Context, from, to time.Time) ([]models.RawRecord, error) {
	records, jsonErr := c.fetchJSON(ctx, from, to)
	if jsonErr == nil {
		return records, nil
	}
	if models.IsTransient(jsonErr) {
		// An unreachable or overloaded service fails every dialect the same
		// way; surface it for the retry loop instead of probing SOAP.
		return nil, jsonErr
	}
	logging.Debug().Err(jsonErr).Msg("JSON dialect failed, negotiating SOAP")

	strategies := c.strategies
	if c.wsdl != nil {
		strategies = c.wsdl.prune(ctx, strategies)
	}

	return c.negotiateSOAP(ctx, strategies, from, to, jsonErr)
}

// jsonRequest is the primary dialect's request body.
type jsonRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FromDate string `json:"fromDate"`
	ToDate   string `json:"toDate"`
}

// jsonWrapper covers the nested result shapes different firmwares produce.
type jsonWrapper struct {
	Data         []models.RawRecord `json:"data"`
	Records      []models.RawRecord `json:"records"`
	Transactions []models.RawRecord `json:"transactions"`
}

func (c *Client) fetchJSON(ctx context.Context, from, to time.Time) ([]models.RawRecord, error) {
	body, err := json.Marshal(jsonRequest{
		Username: c.cfg.Username,
		Password: c.cfg.Password,
		FromDate: from.Format(windowTimeLayout),
		ToDate:   to.Format(windowTimeLayout),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal fetch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create fetch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &models.NetworkError{Op: "source fetch", Err: err}
	}
	defer resp.Body.Close()

	if err := statusToError("source fetch", resp); err != nil {
		return nil, err
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.NetworkError{Op: "source fetch read", Err: err}
	}

	return normalizePayload(payload)
}

// normalizePayload unwraps the response whether it is a plain array or a
// nested result wrapper. An unexpected shape yields an empty list plus a
// logged warning, never a crash.
func normalizePayload(payload []byte) ([]models.RawRecord, error) {
	var direct []models.RawRecord
	if err := json.Unmarshal(payload, &direct); err == nil {
		return direct, nil
	}

	var wrapper jsonWrapper
	if err := json.Unmarshal(payload, &wrapper); err == nil {
		switch {
		case wrapper.Data != nil:
			return wrapper.Data, nil
		case wrapper.Records != nil:
			return wrapper.Records, nil
		case wrapper.Transactions != nil:
			return wrapper.Transactions, nil
		}
	}

	logging.Warn().
		Int("payload_bytes", len(payload)).
		Msg("Source returned unrecognized payload shape, treating as empty")
	return []models.RawRecord{}, nil
}

// statusToError maps a non-2xx response to the shared error taxonomy.
func statusToError(op string, resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &models.RateLimitError{Op: op, RetryAfter: parseRetryAfter(resp)}
	case resp.StatusCode >= 500:
		return &models.ServerError{Op: op, Status: resp.StatusCode}
	default:
		body := readBodyForError(resp.Body)
		return &models.PermanentError{Op: op, Status: resp.StatusCode, Msg: string(body)}
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

// readBodyForError reads at most maxErrorBodySize bytes of a response body
// for diagnostics.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	return body
}

func classify(err error) string {
	var (
		ne  *models.NetworkError
		se  *models.ServerError
		re  *models.RateLimitError
		pe  *models.PermanentError
		nee *models.NegotiationExhaustedError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &ne):
		return "network"
	case errors.As(err, &se):
		return "server"
	case errors.As(err, &re):
		return "rate_limit"
	case errors.As(err, &pe):
		return "permanent"
	case errors.As(err, &nee):
		return "negotiation_exhausted"
	default:
		return "other"
	}
}
