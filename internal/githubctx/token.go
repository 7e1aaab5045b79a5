// Package githubctx provides the GitHub context tool adapter: a
// token-authenticated REST client with retry and pagination, and the
// adapter that turns commit and pull-request history into tool output.
package githubctx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds GitHub API access configuration.
type Config struct {
	APIBase    string
	Repo       string // "owner/name"
	Token      string // static personal access token
	TokenURL   string // installation-token endpoint for app-based auth
	TimeoutSec int
}

// tokenReply is the installation-token endpoint response shape.
type tokenReply struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenSource yields API tokens. A static token is returned as-is;
// otherwise tokens are fetched from the configured endpoint and cached
// until shortly before expiry.
type TokenSource struct {
	cfg        Config
	httpClient *http.Client

	mu     sync.RWMutex
	token  string
	expiry time.Time
}

// NewTokenSource creates a token source for the given configuration.
func NewTokenSource(cfg Config) *TokenSource {
	timeout := cfg.TimeoutSec
	if timeout == 0 {
		timeout = 30
	}
	return &TokenSource{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
	}
}

// Token returns a usable API token, refreshing a cached installation
// token when it is within 5 minutes of expiry.
func (t *TokenSource) Token(ctx context.Context) (string, error) {
	if t.cfg.Token != "" {
		return t.cfg.Token, nil
	}
	if t.cfg.TokenURL == "" {
		return "", fmt.Errorf("no GitHub token or token endpoint configured")
	}

	t.mu.RLock()
	if t.token != "" && time.Now().Before(t.expiry.Add(-5*time.Minute)) {
		token := t.token
		t.mu.RUnlock()
		log.Debug().Msg("Using cached installation token")
		return token, nil
	}
	t.mu.RUnlock()

	log.Info().Msg("Fetching new installation token")
	return t.refresh(ctx)
}

func (t *TokenSource) refresh(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Double-check after acquiring the write lock.
	if t.token != "" && time.Now().Before(t.expiry.Add(-5*time.Minute)) {
		return t.token, nil
	}

	reply, err := t.fetch(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch installation token")
		return "", fmt.Errorf("fetch token: %w", err)
	}

	t.token = reply.Token
	t.expiry = reply.ExpiresAt

	log.Info().
		Time("expires_at", t.expiry).
		Msg("Installation token obtained")
	return t.token, nil
}

// Invalidate discards the cached token, e.g. after a 401.
func (t *TokenSource) Invalidate() {
	if t.cfg.Token != "" {
		// Static tokens cannot be rotated here.
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" {
		log.Warn().Msg("Invalidating installation token")
		t.token = ""
		t.expiry = time.Time{}
	}
}

func (t *TokenSource) fetch(ctx context.Context) (*tokenReply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.TokenURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, resp.Status)
	}

	var reply tokenReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if reply.Token == "" {
		return nil, fmt.Errorf("token endpoint returned an empty token")
	}
	return &reply, nil
}
