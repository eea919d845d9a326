// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

// Package token owns the OAuth2 token lifecycle for the sink API.
//
// The manager is the single owner of token state. The sink client never
// reads the token directly; it calls GetValidToken, which hands out a
// snapshot copy only while the token is outside its expiry buffer.
// Concurrent callers arriving during a refresh share the one in-flight
// network call (single-flight) so a refresh token is never burned twice.
package token

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/punchsync/punchsync/internal/logging"
	"github.com/punchsync/punchsync/internal/metrics"
	"github.com/punchsync/punchsync/internal/models"
)

// State is the manager's lifecycle state.
type State string

const (
	StateNoToken    State = "no_token"
	StateValid      State = "valid"
	StateExpiring   State = "expiring"
	StateRefreshing State = "refreshing"
	StateRevoked    State = "revoked"
)

// Store persists tokens across restarts. Implemented by *store.Store; tests
// substitute fakes.
type Store interface {
	SaveToken(ctx context.Context, tok models.Token) error
	LoadToken(ctx context.Context) (models.Token, error)
	DeleteToken(ctx context.Context) error
}

// Config configures the manager.
type Config struct {
	// AuthURL is the base URL of the OAuth2 token service.
	AuthURL string

	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scope        string

	// ExpiryBuffer is how long before real expiry the token stops being
	// handed out. Default 5 minutes.
	ExpiryBuffer time.Duration

	// Timeout applies to each token-endpoint request.
	Timeout time.Duration
}

// Manager owns the sink API's OAuth2 token.
type Manager struct {
	cfg    Config
	store  Store
	client *http.Client

	mu      sync.RWMutex
	tok     models.Token
	revoked bool

	group singleflight.Group

	// now is injectable for tests.
	now func() time.Time
}

// NewManager creates a manager, loading any previously persisted token from
// the store. A missing persisted token is not an error; the manager starts in
// NoToken and waits for an authorization grant.
func NewManager(ctx context.Context, cfg Config, st Store) (*Manager, error) {
	if cfg.ExpiryBuffer <= 0 {
		cfg.ExpiryBuffer = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	m := &Manager{
		cfg:    cfg,
		store:  st,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
	}

	if st != nil {
		tok, err := st.LoadToken(ctx)
		if err == nil {
			m.tok = tok
			logging.Info().Time("expires_at", tok.ExpiresAt).Msg("Loaded persisted OAuth token")
		}
	}

	return m, nil
}

// StateNow reports the current lifecycle state. Snapshot only; do not use
// for control flow around GetValidToken.
func (m *Manager) StateNow() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch {
	case m.revoked:
		return StateRevoked
	case m.tok.AccessToken == "":
		return StateNoToken
	case m.tok.UsableAt(m.now(), m.cfg.ExpiryBuffer):
		return StateValid
	default:
		return StateExpiring
	}
}

// GetValidToken returns a usable token, refreshing it first if it is inside
// the expiry buffer. Concurrent callers during a refresh all receive the
// result of that single refresh. Fails with models.ErrAuthUnavailable when no
// refresh path exists.
func (m *Manager) GetValidToken(ctx context.Context) (models.Token, error) {
	m.mu.RLock()
	if m.revoked {
		m.mu.RUnlock()
		return models.Token{}, models.ErrTokenRevoked
	}
	tok := m.tok
	m.mu.RUnlock()

	if tok.UsableAt(m.now(), m.cfg.ExpiryBuffer) {
		return tok, nil
	}

	if tok.RefreshToken == "" {
		return models.Token{}, models.ErrAuthUnavailable
	}

	v, err, shared := m.group.Do("refresh", func() (interface{}, error) {
		return m.refresh(ctx)
	})
	if shared {
		metrics.TokenRefreshes.WithLabelValues("shared").Inc()
	}
	if err != nil {
		return models.Token{}, err
	}
	return v.(models.Token), nil
}

// Refresh forces a token refresh regardless of remaining lifetime, sharing
// any refresh already in flight.
func (m *Manager) Refresh(ctx context.Context) (models.Token, error) {
	m.mu.RLock()
	if m.revoked {
		m.mu.RUnlock()
		return models.Token{}, models.ErrTokenRevoked
	}
	refreshToken := m.tok.RefreshToken
	m.mu.RUnlock()

	if refreshToken == "" {
		return models.Token{}, models.ErrAuthUnavailable
	}

	v, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return models.Token{}, err
	}
	return v.(models.Token), nil
}

// refresh performs the network refresh. Only ever runs inside the
// single-flight group.
func (m *Manager) refresh(ctx context.Context) (models.Token, error) {
	m.mu.RLock()
	refreshToken := m.tok.RefreshToken
	m.mu.RUnlock()

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", m.cfg.ClientID)
	form.Set("client_secret", m.cfg.ClientSecret)
	form.Set("refresh_token", refreshToken)

	tok, err := m.tokenRequest(ctx, form)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		return models.Token{}, &models.AuthError{Op: "token refresh", Err: err}
	}

	// Some providers do not rotate the refresh token; keep the old one then.
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}

	m.install(ctx, tok)
	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	logging.Info().Time("expires_at", tok.ExpiresAt).Msg("OAuth token refreshed")
	return tok, nil
}

// Authorize exchanges an authorization code for the initial token pair,
// clearing any revoked state.
func (m *Manager) Authorize(ctx context.Context, code string) (models.Token, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", m.cfg.ClientID)
	form.Set("client_secret", m.cfg.ClientSecret)
	form.Set("redirect_uri", m.cfg.RedirectURI)
	form.Set("code", code)
	if m.cfg.Scope != "" {
		form.Set("scope", m.cfg.Scope)
	}

	tok, err := m.tokenRequest(ctx, form)
	if err != nil {
		return models.Token{}, &models.AuthError{Op: "authorization grant", Err: err}
	}

	m.mu.Lock()
	m.revoked = false
	m.mu.Unlock()

	m.install(ctx, tok)
	logging.Info().Time("expires_at", tok.ExpiresAt).Msg("OAuth authorization grant exchanged")
	return tok, nil
}

// Revoke invalidates the token at the provider and locally. The manager is
// terminal until a new Authorize call succeeds.
func (m *Manager) Revoke(ctx context.Context) error {
	m.mu.Lock()
	target := m.tok.RefreshToken
	if target == "" {
		target = m.tok.AccessToken
	}
	m.tok = models.Token{}
	m.revoked = true
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.DeleteToken(ctx); err != nil {
			logging.Warn().Err(err).Msg("Failed to delete persisted token")
		}
	}

	if target == "" {
		return nil
	}

	form := url.Values{}
	form.Set("token", target)

	revokeURL := strings.TrimRight(m.cfg.AuthURL, "/") + "/oauth/v2/token/revoke"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return &models.NetworkError{Op: "token revoke", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &models.AuthError{
			Op:  "token revoke",
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
	return nil
}

// install records and persists a freshly minted token.
func (m *Manager) install(ctx context.Context, tok models.Token) {
	m.mu.Lock()
	m.tok = tok
	m.mu.Unlock()

	if m.store == nil {
		return
	}
	// Persistence failures degrade durability, not availability: the token
	// stays valid in memory for this process lifetime.
	if err := m.store.SaveToken(ctx, tok); err != nil {
		logging.Warn().Err(err).Msg("Failed to persist refreshed token")
	}
}

// tokenResponse is the wire shape of the provider's token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Error        string `json:"error"`
}

func (m *Manager) tokenRequest(ctx context.Context, form url.Values) (models.Token, error) {
	tokenURL := strings.TrimRight(m.cfg.AuthURL, "/") + "/oauth/v2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return models.Token{}, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return models.Token{}, &models.NetworkError{Op: "token request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return models.Token{}, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return models.Token{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return models.Token{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.Error != "" {
		return models.Token{}, fmt.Errorf("token endpoint error: %s", tr.Error)
	}
	if tr.AccessToken == "" {
		return models.Token{}, fmt.Errorf("token endpoint returned no access token")
	}

	return models.Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    m.now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}
