// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

// Package config defines the punchsync configuration surface and loads it
// with layered precedence: built-in defaults, then an optional YAML file,
// then environment variables.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config is the complete punchsync configuration.
type Config struct {
	Source  SourceConfig  `koanf:"source"`
	Sink    SinkConfig    `koanf:"sink"`
	Sync    SyncConfig    `koanf:"sync"`
	Store   StoreConfig   `koanf:"store"`
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`
}

// SourceConfig configures the device-side transaction API.
type SourceConfig struct {
	// URL is the base URL of the device log service.
	URL string `koanf:"url" validate:"required,url"`

	// Username and Password authenticate the JSON device-log call.
	Username string `koanf:"username" validate:"required"`
	Password string `koanf:"password" validate:"required"`

	// SOAPNamespace is the target namespace used when falling back to the
	// legacy SOAP dialects.
	SOAPNamespace string `koanf:"soap_namespace"`

	// SOAPActions is the ordered list of operation names probed during
	// dialect negotiation. Each is tried against SOAP 1.1 and 1.2.
	SOAPActions []string `koanf:"soap_actions"`

	// WSDLDiscovery enables the one-shot ?wsdl introspection used to prune
	// the negotiation strategy list.
	WSDLDiscovery bool `koanf:"wsdl_discovery"`

	// RetryAttempts bounds the per-call retry loop.
	RetryAttempts int `koanf:"retry_attempts" validate:"gte=0,lte=10"`

	// RetryBaseDelay is the base for the exponential per-call backoff.
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`

	// RetryMaxDelay caps a single backoff wait.
	RetryMaxDelay time.Duration `koanf:"retry_max_delay"`

	// Timeout applies to each individual HTTP request.
	Timeout time.Duration `koanf:"timeout"`
}

// SinkConfig configures the HR attendance API and its OAuth2 endpoints.
type SinkConfig struct {
	// URL is the base URL of the HR API.
	URL string `koanf:"url" validate:"required,url"`

	// AuthURL is the base URL of the OAuth2 token service. Defaults to URL
	// when empty.
	AuthURL string `koanf:"auth_url"`

	ClientID     string `koanf:"client_id" validate:"required"`
	ClientSecret string `koanf:"client_secret" validate:"required"`
	RedirectURI  string `koanf:"redirect_uri"`
	Scope        string `koanf:"scope"`

	// AuthScheme is the Authorization header scheme, e.g. "Zoho-oauthtoken"
	// or "Bearer".
	AuthScheme string `koanf:"auth_scheme"`

	// TokenExpiryBuffer is how long before real expiry a token stops being
	// handed out.
	TokenExpiryBuffer time.Duration `koanf:"token_expiry_buffer"`

	// LookupFields is the ordered list of employee-directory search fields
	// probed when a static mapping entry is absent.
	LookupFields []string `koanf:"lookup_fields"`

	// RetryAttempts bounds transient (5xx/network) per-event retries.
	RetryAttempts int `koanf:"retry_attempts" validate:"gte=0,lte=10"`

	// RetryBaseDelay is the initial backoff for transient retries.
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`

	// RequestsPerSecond paces outbound requests; 0 disables pacing.
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gte=0"`

	// Timeout applies to each individual HTTP request.
	Timeout time.Duration `koanf:"timeout"`
}

// SyncConfig configures the adaptive scheduler.
type SyncConfig struct {
	// BaseInterval is the poll interval for an active, healthy source.
	BaseInterval time.Duration `koanf:"base_interval"`

	// MinInterval and MaxInterval bound the adaptive interval.
	MinInterval time.Duration `koanf:"min_interval"`
	MaxInterval time.Duration `koanf:"max_interval"`

	// BackoffFactor multiplies the interval on empty polls and powers the
	// error backoff curve.
	BackoffFactor float64 `koanf:"backoff_factor" validate:"gte=1"`

	// EmptyPollsToBackoff is how many consecutive empty polls are tolerated
	// before the interval starts stretching.
	EmptyPollsToBackoff int `koanf:"empty_polls_to_backoff" validate:"gte=1"`

	// PeakHours lists wall-clock hours (0-23) during which the interval is
	// halved down to MinInterval.
	PeakHours []int `koanf:"peak_hours" validate:"dive,gte=0,lte=23"`

	// Timezone is the IANA location for peak-hour checks and canonical
	// timestamps.
	Timezone string `koanf:"timezone"`

	// BatchSize is the dispatch batch size for larger volumes; small counts
	// are processed individually.
	BatchSize int `koanf:"batch_size" validate:"gte=1"`

	// SmallBatchThreshold is the record count at or below which events are
	// dispatched one at a time.
	SmallBatchThreshold int `koanf:"small_batch_threshold" validate:"gte=0"`

	// BatchDelay is the pause between sequential batches.
	BatchDelay time.Duration `koanf:"batch_delay"`

	// Lookback bounds the very first fetch window when no cursor has been
	// persisted yet.
	Lookback time.Duration `koanf:"lookback"`

	// EmployeeMap statically maps device employee codes to sink employee
	// IDs. Codes missing here fall through to the directory lookup.
	EmployeeMap map[string]string `koanf:"employee_map"`
}

// StoreConfig configures the durable token and cursor store.
type StoreConfig struct {
	// Path is the BadgerDB directory. Empty selects an in-memory store
	// (state lost on restart).
	Path string `koanf:"path"`
}

// ServerConfig configures the status/metrics HTTP listener.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"gte=0,lte=65535"`
	Timeout time.Duration `koanf:"timeout"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LoggingConfig mirrors logging.Config for the config file.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn warning error disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are loaded
// first and then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			SOAPNamespace:  "http://tempuri.org/",
			SOAPActions:    []string{"GetTransactionsLog", "GetTransactionLog", "GetDeviceLogs"},
			WSDLDiscovery:  true,
			RetryAttempts:  3,
			RetryBaseDelay: 2 * time.Second,
			RetryMaxDelay:  30 * time.Second,
			Timeout:        30 * time.Second,
		},
		Sink: SinkConfig{
			AuthScheme:        "Zoho-oauthtoken",
			TokenExpiryBuffer: 5 * time.Minute,
			LookupFields:      []string{"EmployeeID", "Employee_ID", "EmployeeCode"},
			RetryAttempts:     3,
			RetryBaseDelay:    1 * time.Second,
			RequestsPerSecond: 5,
			Timeout:           30 * time.Second,
		},
		Sync: SyncConfig{
			BaseInterval:        20 * time.Second,
			MinInterval:         10 * time.Second,
			MaxInterval:         10 * time.Minute,
			BackoffFactor:       1.5,
			EmptyPollsToBackoff: 5,
			PeakHours:           []int{8, 9, 13, 14, 17, 18},
			Timezone:            "Asia/Riyadh",
			BatchSize:           10,
			SmallBatchThreshold: 3,
			BatchDelay:          1 * time.Second,
			Lookback:            24 * time.Hour,
			EmployeeMap:         map[string]string{},
		},
		Store: StoreConfig{
			Path: "/data/punchsync",
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8090,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
