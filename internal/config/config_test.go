// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/punchsync/punchsync/internal/models"
)

// validBase returns a config that passes validation, for tests to mutate.
func validBase() *Config {
	cfg := defaultConfig()
	cfg.Source.URL = "http://device.local/iclock"
	cfg.Source.Username = "admin"
	cfg.Source.Password = "secret"
	cfg.Sink.URL = "https://hr.example.com"
	cfg.Sink.ClientID = "client"
	cfg.Sink.ClientSecret = "shh"
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	if err := validBase().Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsMissingCredentials(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing source url", func(c *Config) { c.Source.URL = "" }},
		{"missing source password", func(c *Config) { c.Source.Password = "" }},
		{"missing sink client id", func(c *Config) { c.Sink.ClientID = "" }},
		{"missing sink client secret", func(c *Config) { c.Sink.ClientSecret = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBase()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			var cerr *models.ConfigError
			if !errors.As(err, &cerr) {
				t.Errorf("error type = %T, want *models.ConfigError", err)
			}
		})
	}
}

func TestValidateIntervalBounds(t *testing.T) {
	cfg := validBase()
	cfg.Sync.MinInterval = time.Minute
	cfg.Sync.MaxInterval = 30 * time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for max < min")
	}

	cfg = validBase()
	cfg.Sync.BaseInterval = time.Hour
	cfg.Sync.MaxInterval = time.Minute
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for base outside [min, max]")
	}
}

func TestValidateRejectsBadTimezone(t *testing.T) {
	cfg := validBase()
	cfg.Sync.Timezone = "Mars/Olympus_Mons"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"PUNCHSYNC_SOURCE_URL", "source.url"},
		{"PUNCHSYNC_SOURCE_RETRY_BASE_DELAY", "source.retry_base_delay"},
		{"PUNCHSYNC_SINK_CLIENT_SECRET", "sink.client_secret"},
		{"PUNCHSYNC_SYNC_EMPTY_POLLS_TO_BACKOFF", "sync.empty_polls_to_backoff"},
		{"PUNCHSYNC_LOGGING_LEVEL", "logging.level"},
	}

	for _, tt := range tests {
		if got := envTransformFunc(tt.in); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
source:
  url: http://device.local/iclock
  username: admin
  password: secret
sink:
  url: https://hr.example.com
  client_id: client
  client_secret: shh
sync:
  base_interval: 45s
  backoff_factor: 2.0
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Sync.BaseInterval != 45*time.Second {
		t.Errorf("BaseInterval = %v, want 45s", cfg.Sync.BaseInterval)
	}
	if cfg.Sync.BackoffFactor != 2.0 {
		t.Errorf("BackoffFactor = %v, want 2.0", cfg.Sync.BackoffFactor)
	}
	// Untouched keys keep defaults.
	if cfg.Sync.BatchSize != 10 {
		t.Errorf("BatchSize = %d, want default 10", cfg.Sync.BatchSize)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
source:
  url: http://device.local/iclock
  username: admin
  password: secret
sink:
  url: https://hr.example.com
  client_id: client
  client_secret: shh
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("PUNCHSYNC_SOURCE_USERNAME", "operator")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Source.Username != "operator" {
		t.Errorf("Username = %q, want env override %q", cfg.Source.Username, "operator")
	}
}
