// Package tools is the REST capability gateway the agents act through. All
// repository side effects (comments, labels, branches, reviews) go via a
// Tools instance bound to one repository.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.github.com"

// defaultPerPage caps list operations at the largest page GitHub serves.
const defaultPerPage = 100

// TokenSource supplies installation access tokens. *githubapp.App satisfies
// it.
type TokenSource interface {
	Token(ctx context.Context, forceRefresh bool) (string, error)
}

// StatusError is returned for any non-2xx GitHub response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("github api status %d: %s", e.StatusCode, e.Body)
}

// Tools performs GitHub REST operations against a single repository.
type Tools struct {
	owner   string
	repo    string
	baseURL string
	tokens  TokenSource
	client  *http.Client

	maxRetries     int
	initialBackoff time.Duration
}

// Option configures a Tools instance.
type Option func(*Tools)

// WithBaseURL overrides the GitHub API endpoint (for GHES).
func WithBaseURL(base string) Option {
	return func(t *Tools) {
		base = strings.TrimSpace(base)
		if base != "" {
			t.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Tools) {
		if client != nil {
			t.client = client
		}
	}
}

// WithRetry bounds retries on transient GitHub errors.
func WithRetry(maxRetries int, initialBackoff time.Duration) Option {
	return func(t *Tools) {
		t.maxRetries = maxRetries
		t.initialBackoff = initialBackoff
	}
}

// New creates a Tools bound to owner/repo, authenticating every request
// through tokens.
func New(owner, repo string, tokens TokenSource, opts ...Option) *Tools {
	t := &Tools{
		owner:          owner,
		repo:           repo,
		baseURL:        defaultBaseURL,
		tokens:         tokens,
		client:         &http.Client{Timeout: 30 * time.Second},
		maxRetries:     3,
		initialBackoff: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RepoFullName returns "owner/repo".
func (t *Tools) RepoFullName() string {
	return t.owner + "/" + t.repo
}

// Close releases idle connections.
func (t *Tools) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

func (t *Tools) repoPath() string {
	return "/repos/" + t.owner + "/" + t.repo
}

// do performs one authenticated request with bounded retry on transient
// statuses. A non-2xx terminal response becomes a *StatusError.
func (t *Tools) do(ctx context.Context, method, path string, query url.Values, payload interface{}, accept string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		body, retryable, err := t.doOnce(ctx, method, path, query, payload, accept)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable || attempt == t.maxRetries {
			return nil, lastErr
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.backoff(attempt)):
		}
	}
	return nil, lastErr
}

func (t *Tools) doOnce(ctx context.Context, method, path string, query url.Values, payload interface{}, accept string) ([]byte, bool, error) {
	token, err := t.tokens.Token(ctx, false)
	if err != nil {
		return nil, false, err
	}

	endpoint := t.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, false, err
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Authorization", "token "+token)
	if accept == "" {
		accept = "application/vnd.github+json"
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, retryableStatus(resp.StatusCode), &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, false, nil
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (t *Tools) backoff(attempt int) time.Duration {
	base := float64(t.initialBackoff) * float64(int(1)<<uint(attempt))
	jitter := (rand.Float64() * 0.4) - 0.2
	return time.Duration(base * (1 + jitter))
}

func (t *Tools) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	body, err := t.do(ctx, http.MethodGet, path, query, nil, "")
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (t *Tools) postJSON(ctx context.Context, path string, payload, out interface{}) error {
	body, err := t.do(ctx, http.MethodPost, path, nil, payload, "")
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (t *Tools) patchJSON(ctx context.Context, path string, payload, out interface{}) error {
	body, err := t.do(ctx, http.MethodPatch, path, nil, payload, "")
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}
