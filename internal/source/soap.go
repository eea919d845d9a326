// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

package source

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/punchsync/punchsync/internal/logging"
	"github.com/punchsync/punchsync/internal/metrics"
	"github.com/punchsync/punchsync/internal/models"
)

// soapVersion selects the envelope dialect.
type soapVersion int

const (
	soap11 soapVersion = iota
	soap12
)

func (v soapVersion) String() string {
	if v == soap12 {
		return "1.2"
	}
	return "1.1"
}

// soapStrategy is one {action, version} negotiation combination. Strategies
// are tried in declared order; the first success terminates the search.
type soapStrategy struct {
	Action  string
	Version soapVersion
}

func (s soapStrategy) String() string {
	return fmt.Sprintf("%s/soap%s", s.Action, s.Version)
}

// buildStrategies expands the configured action names into the ordered
// strategy list: each action against SOAP 1.1 first, then 1.2.
func buildStrategies(actions []string) []soapStrategy {
	strategies := make([]soapStrategy, 0, len(actions)*2)
	for _, action := range actions {
		strategies = append(strategies,
			soapStrategy{Action: action, Version: soap11},
			soapStrategy{Action: action, Version: soap12},
		)
	}
	return strategies
}

// negotiateSOAP walks the strategy list in order, collecting a reason per
// failed combination. Transient failures (network, 5xx, 429) abort the walk
// and surface directly so the outer retry loop can back off; dialect
// rejections move on to the next combination.
func (c *Client) negotiateSOAP(ctx context.Context, strategies []soapStrategy, from, to time.Time, jsonErr error) ([]models.RawRecord, error) {
	reasons := []string{fmt.Sprintf("json: %v", jsonErr)}

	for _, strat := range strategies {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		records, err := c.fetchSOAP(ctx, strat, from, to)
		if err == nil {
			metrics.NegotiationAttempts.WithLabelValues(strat.String(), "success").Inc()
			logging.Debug().Str("strategy", strat.String()).Msg("SOAP dialect accepted")
			return records, nil
		}
		metrics.NegotiationAttempts.WithLabelValues(strat.String(), "failure").Inc()

		if models.IsTransient(err) {
			return nil, err
		}
		reasons = append(reasons, fmt.Sprintf("%s: %v", strat, err))
	}

	err := &models.NegotiationExhaustedError{
		Attempts: len(strategies),
		Reasons:  reasons,
	}
	logging.Warn().
		Int("strategies", len(strategies)).
		Strs("reasons", reasons).
		Msg("Every source dialect combination failed")
	return nil, err
}

func (c *Client) fetchSOAP(ctx context.Context, strat soapStrategy, from, to time.Time) ([]models.RawRecord, error) {
	envelope := c.buildEnvelope(strat, from, to)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, strings.NewReader(envelope))
	if err != nil {
		return nil, fmt.Errorf("create SOAP request: %w", err)
	}

	ns := strings.TrimRight(c.cfg.SOAPNamespace, "/") + "/"
	switch strat.Version {
	case soap11:
		req.Header.Set("Content-Type", "text/xml; charset=utf-8")
		req.Header.Set("SOAPAction", fmt.Sprintf("%q", ns+strat.Action))
	case soap12:
		req.Header.Set("Content-Type", fmt.Sprintf(`application/soap+xml; charset=utf-8; action=%q`, ns+strat.Action))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &models.NetworkError{Op: "soap " + strat.String(), Err: err}
	}
	defer resp.Body.Close()

	if err := statusToError("soap "+strat.String(), resp); err != nil {
		return nil, err
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.NetworkError{Op: "soap " + strat.String() + " read", Err: err}
	}

	return parseSOAPResult(payload, strat.Action)
}

// buildEnvelope renders the request envelope for the strategy's version.
// Legacy .asmx services accept the window bounds as string parameters inside
// the action element.
func (c *Client) buildEnvelope(strat soapStrategy, from, to time.Time) string {
	ns := strings.TrimRight(c.cfg.SOAPNamespace, "/") + "/"
	body := fmt.Sprintf(
		`<%[1]s xmlns=%[2]q><username>%[3]s</username><password>%[4]s</password><fromDate>%[5]s</fromDate><toDate>%[6]s</toDate></%[1]s>`,
		strat.Action,
		ns,
		xmlEscape(c.cfg.Username),
		xmlEscape(c.cfg.Password),
		from.Format(windowTimeLayout),
		to.Format(windowTimeLayout),
	)

	if strat.Version == soap12 {
		return `<?xml version="1.0" encoding="utf-8"?>` +
			`<soap12:Envelope xmlns:soap12="http://www.w3.org/2003/05/soap-envelope">` +
			`<soap12:Body>` + body + `</soap12:Body></soap12:Envelope>`
	}
	return `<?xml version="1.0" encoding="utf-8"?>` +
		`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">` +
		`<soap:Body>` + body + `</soap:Body></soap:Envelope>`
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// soapEnvelope captures just enough of the response to reach the result
// element regardless of prefixing.
type soapEnvelope struct {
	Body struct {
		Inner []byte `xml:",innerxml"`
	} `xml:"Body"`
}

// parseSOAPResult extracts the action's result text and normalizes it. The
// observed services embed either a JSON document or nothing useful inside
// <ActionResult>; an unrecognized body yields an empty list with a warning.
func parseSOAPResult(payload []byte, action string) ([]models.RawRecord, error) {
	var env soapEnvelope
	if err := xml.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode SOAP envelope: %w", err)
	}

	inner := env.Body.Inner
	if len(inner) == 0 {
		return nil, fmt.Errorf("empty SOAP body")
	}
	if bytes.Contains(inner, []byte("Fault>")) {
		return nil, fmt.Errorf("SOAP fault for action %s", action)
	}

	result, err := extractElementText(inner, action+"Result")
	if err != nil {
		return nil, err
	}

	result = strings.TrimSpace(result)
	if result == "" {
		return []models.RawRecord{}, nil
	}
	return normalizePayload([]byte(result))
}

// extractElementText returns the character data of the first element with
// the given local name.
func extractElementText(doc []byte, local string) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return "", fmt.Errorf("element %s not found in SOAP body", local)
		}
		if err != nil {
			return "", fmt.Errorf("scan SOAP body: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != local {
			continue
		}
		var text string
		if err := dec.DecodeElement(&text, &start); err != nil {
			return "", fmt.Errorf("decode %s: %w", local, err)
		}
		return text, nil
	}
}
