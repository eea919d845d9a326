// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

package source

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/punchsync/punchsync/internal/logging"
)

// wsdlCache lazily fetches and parses the service's interface description to
// learn which operation names the deployment actually exposes. The result is
// cached for the process lifetime and used only to prune the negotiation
// strategy list; a failed fetch leaves the full list in place.
type wsdlCache struct {
	url        string
	httpClient *http.Client

	once       sync.Once
	operations map[string]bool
}

func newWSDLCache(serviceURL string, httpClient *http.Client) *wsdlCache {
	return &wsdlCache{
		url:        serviceURL + "?wsdl",
		httpClient: httpClient,
	}
}

// prune filters strategies down to operations the WSDL declares. When
// introspection failed or declared nothing recognizable, the input list is
// returned unchanged.
func (w *wsdlCache) prune(ctx context.Context, strategies []soapStrategy) []soapStrategy {
	w.once.Do(func() { w.introspect(ctx) })

	if len(w.operations) == 0 {
		return strategies
	}

	pruned := make([]soapStrategy, 0, len(strategies))
	for _, strat := range strategies {
		if w.operations[strat.Action] {
			pruned = append(pruned, strat)
		}
	}
	if len(pruned) == 0 {
		// The WSDL names none of the configured actions; distrust it.
		return strategies
	}
	return pruned
}

// wsdlDefinitions is the minimal slice of a WSDL document we care about.
type wsdlDefinitions struct {
	TargetNamespace string `xml:"targetNamespace,attr"`
	PortTypes       []struct {
		Operations []struct {
			Name string `xml:"name,attr"`
		} `xml:"operation"`
	} `xml:"portType"`
}

func (w *wsdlCache) introspect(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.url, http.NoBody)
	if err != nil {
		return
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		logging.Debug().Err(err).Msg("WSDL introspection failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logging.Debug().Int("status", resp.StatusCode).Msg("WSDL introspection rejected")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return
	}

	ops, ns, err := parseWSDL(payload)
	if err != nil {
		logging.Debug().Err(err).Msg("WSDL parse failed")
		return
	}

	w.operations = ops
	logging.Info().
		Int("operations", len(ops)).
		Str("namespace", ns).
		Msg("Discovered source service interface")
}

func parseWSDL(payload []byte) (map[string]bool, string, error) {
	var defs wsdlDefinitions
	if err := xml.Unmarshal(payload, &defs); err != nil {
		return nil, "", fmt.Errorf("decode WSDL: %w", err)
	}

	ops := make(map[string]bool)
	for _, pt := range defs.PortTypes {
		for _, op := range pt.Operations {
			if op.Name != "" {
				ops[op.Name] = true
			}
		}
	}
	return ops, defs.TargetNamespace, nil
}
