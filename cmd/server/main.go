// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

// Package main is the entry point for the punchsync daemon.
//
// Punchsync continuously moves attendance punches from a biometric device
// controller into an HR system. The daemon initializes components in the
// following order:
//
//  1. Configuration: layered defaults, YAML file and environment (Koanf v2)
//  2. State store: BadgerDB for the OAuth token and the sync watermark
//  3. Token manager: OAuth2 lifecycle against the HR token service
//  4. Clients: source (JSON/SOAP negotiation) and sink (HR attendance API)
//  5. Scheduler: the adaptive polling loop
//  6. HTTP server: /healthz, /status and /metrics
//
// The sync loop and the HTTP server run under a suture supervision tree;
// SIGINT and SIGTERM trigger a graceful shutdown that lets an in-flight
// cycle complete.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchsync/punchsync/internal/api"
	"github.com/punchsync/punchsync/internal/config"
	"github.com/punchsync/punchsync/internal/health"
	"github.com/punchsync/punchsync/internal/logging"
	"github.com/punchsync/punchsync/internal/scheduler"
	"github.com/punchsync/punchsync/internal/sink"
	"github.com/punchsync/punchsync/internal/source"
	"github.com/punchsync/punchsync/internal/store"
	"github.com/punchsync/punchsync/internal/supervisor"
	"github.com/punchsync/punchsync/internal/supervisor/services"
	"github.com/punchsync/punchsync/internal/token"
	"github.com/punchsync/punchsync/internal/transform"
)

func main() {
	// Load configuration first to get logging settings. A ConfigError here
	// is the only fatal error class; everything after startup degrades.
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("source_url", cfg.Source.URL).
		Str("sink_url", cfg.Sink.URL).
		Str("store_path", cfg.Store.Path).
		Msg("Starting punchsync")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open state store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing state store")
		}
	}()

	loc, err := time.LoadLocation(cfg.Sync.Timezone)
	if err != nil {
		logging.Fatal().Err(err).Str("timezone", cfg.Sync.Timezone).Msg("Invalid timezone")
	}

	authURL := cfg.Sink.AuthURL
	if authURL == "" {
		authURL = cfg.Sink.URL
	}
	tokens, err := token.NewManager(ctx, token.Config{
		AuthURL:      authURL,
		ClientID:     cfg.Sink.ClientID,
		ClientSecret: cfg.Sink.ClientSecret,
		RedirectURI:  cfg.Sink.RedirectURI,
		Scope:        cfg.Sink.Scope,
		ExpiryBuffer: cfg.Sink.TokenExpiryBuffer,
		Timeout:      cfg.Sink.Timeout,
	}, st)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize token manager")
	}

	sinkClient := sink.NewClient(cfg.Sink, tokens)
	sourceClient := source.NewBreakerClient(source.NewClient(cfg.Source))

	// Employee resolution: the static mapping table first, then the sink's
	// directory search.
	resolver := transform.Chain{
		transform.StaticMap(cfg.Sync.EmployeeMap),
		sink.NewDirectory(sinkClient),
	}
	transformer := transform.New(resolver, loc)

	monitor := health.NewMonitor(health.DefaultConfig())
	orchestrator := scheduler.NewOrchestrator(
		cfg.Sync, sourceClient, sinkClient, transformer, st, monitor, loc)

	router := api.NewRouter(monitor, orchestrator, tokens)
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.Setup(),
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	// The supervisor logs through sutureslog, which wants slog.
	slogger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	tree, err := supervisor.NewSupervisorTree(slogger, supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddPipelineService(services.NewSyncService(orchestrator, monitor))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Punchsync stopped gracefully")
}
