package githubctx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Client handles HTTP requests to the GitHub REST API.
type Client struct {
	cfg        Config
	tokens     *TokenSource
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a GitHub API client.
func NewClient(cfg Config, tokens *TokenSource) *Client {
	timeout := cfg.TimeoutSec
	if timeout == 0 {
		timeout = 30
	}
	return &Client{
		cfg:    cfg,
		tokens: tokens,
		httpClient: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
		baseURL: strings.TrimSuffix(cfg.APIBase, "/"),
	}
}

// Get makes a GET request with automatic token handling and retries.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.GetWithRetry(ctx, path, 4)
}

// GetWithRetry makes a GET request with retry logic: exponential backoff
// on transient failures, token refresh on 401, Retry-After on secondary
// rate limits, no retry on other client errors.
func (c *Client) GetWithRetry(ctx context.Context, path string, maxRetries int) (*http.Response, error) {
	logger := log.With().
		Str("component", "github_client").
		Str("path", path).
		Logger()

	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 2 * time.Second
			logger.Warn().
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Err(lastErr).
				Msg("Retrying GitHub API request")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("get token: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			logger.Warn().Err(err).Msg("HTTP request failed")
			lastErr = err
			continue
		}

		// 401: the token may have expired, refresh once and retry in place.
		if resp.StatusCode == http.StatusUnauthorized {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()

			logger.Warn().
				Str("response_body", string(body)).
				Msg("Unauthorized, refreshing token")

			c.tokens.Invalidate()
			newToken, err := c.tokens.Token(ctx)
			if err != nil {
				lastErr = fmt.Errorf("refresh token: %w", err)
				continue
			}

			req.Header.Set("Authorization", "Bearer "+newToken)
			resp, err = c.httpClient.Do(req)
			if err != nil {
				lastErr = err
				continue
			}
		}

		// Rate limited: honor Retry-After when present.
		if resp.StatusCode == http.StatusTooManyRequests ||
			(resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0") {
			wait := retryAfterDuration(resp.Header.Get("Retry-After"), attempt)
			resp.Body.Close()
			lastErr = fmt.Errorf("rate limited by GitHub API")

			logger.Warn().
				Dur("backoff", wait).
				Int("attempt", attempt+1).
				Msg("GitHub rate limit hit, waiting before retry")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			logger.Warn().Int("status_code", resp.StatusCode).Msg("Server error, will retry")
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		logger.Error().
			Int("status_code", resp.StatusCode).
			Str("response_body", string(body)).
			Msg("Client error, not retrying")
		return nil, fmt.Errorf("client error: %d - %s", resp.StatusCode, string(body))
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// GetJSON fetches path and decodes the body into v.
func (c *Client) GetJSON(ctx context.Context, path string, v interface{}) error {
	resp, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ListAll fetches a collection endpoint, following Link rel="next"
// pagination until maxItems are collected or the pages run out.
func (c *Client) ListAll(ctx context.Context, path string, maxItems int) ([]map[string]interface{}, error) {
	logger := log.With().
		Str("component", "github_client").
		Str("path", path).
		Logger()

	var all []map[string]interface{}
	next := path

	for next != "" {
		if maxItems > 0 && len(all) >= maxItems {
			break
		}

		resp, err := c.Get(ctx, next)
		if err != nil {
			return nil, err
		}

		var page []map[string]interface{}
		err = json.NewDecoder(resp.Body).Decode(&page)
		link := resp.Header.Get("Link")
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode page: %w", err)
		}

		all = append(all, page...)
		logger.Debug().
			Int("page_items", len(page)).
			Int("total_items", len(all)).
			Msg("Page fetched")

		if len(page) == 0 {
			break
		}
		next = nextLinkPath(link, c.baseURL)
	}

	if maxItems > 0 && len(all) > maxItems {
		all = all[:maxItems]
	}
	return all, nil
}

// nextLinkPath extracts the rel="next" target from a Link header and
// strips the API base so it can be fed back through Get.
func nextLinkPath(header, baseURL string) string {
	for _, part := range strings.Split(header, ",") {
		section := strings.Split(part, ";")
		if len(section) < 2 {
			continue
		}
		if !strings.Contains(section[1], `rel="next"`) {
			continue
		}
		target := strings.Trim(strings.TrimSpace(section[0]), "<>")
		return strings.TrimPrefix(target, baseURL)
	}
	return ""
}

func retryAfterDuration(header string, attempt int) time.Duration {
	if header != "" {
		if secs, err := strconv.ParseInt(header, 10, 64); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Duration(1<<uint(attempt)) * 5 * time.Second
}
