package githubapp

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const defaultBaseURL = "https://api.github.com"

// tokenSafetyMargin is subtracted from a token's expiry before treating it
// as stale, so a token never expires mid-request.
const tokenSafetyMargin = 5 * time.Minute

// Config contains GitHub App authentication settings.
type Config struct {
	// AppID is the GitHub App identifier used as the JWT issuer.
	AppID string
	// PrivateKey is the App's RSA signing key in PEM format.
	PrivateKey []byte
	// InstallationID, when set, skips the per-repository installation
	// lookup entirely.
	InstallationID string
	// Owner and Repo identify the repository the App is installed on.
	Owner string
	Repo  string
	// BaseURL overrides the GitHub API endpoint (for GHES).
	BaseURL string
	// OnRefresh, when set, is called after every successful token exchange.
	OnRefresh func()
}

// InstallationToken is a short-lived credential scoped to one App
// installation. It is replaced, never mutated, on refresh.
type InstallationToken struct {
	Token               string            `json:"token"`
	ExpiresAt           time.Time         `json:"expires_at"`
	Permissions         map[string]string `json:"permissions"`
	RepositorySelection string            `json:"repository_selection"`
}

// App manages GitHub App credentials: it signs app-level JWT assertions,
// resolves the installation bound to the configured repository, and caches
// the installation access token with a five minute safety margin.
type App struct {
	cfg     Config
	baseURL string

	mu    sync.Mutex
	token *InstallationToken

	clientMu sync.Mutex
	client   *http.Client

	keyOnce  sync.Once
	key      *rsa.PrivateKey
	keyError error
}

// New creates an App from the given config.
func New(cfg Config) *App {
	return &App{
		cfg:     cfg,
		baseURL: normalizeBaseURL(cfg.BaseURL),
	}
}

// GenerateJWT signs a short-lived RS256 assertion for app-level endpoints.
// The issued-at claim is backdated 60 seconds to tolerate clock skew and the
// expiry is 10 minutes out, the maximum GitHub accepts.
func (a *App) GenerateJWT() (string, error) {
	key, err := a.privateKey()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"iat": now.Add(-60 * time.Second).Unix(),
		"exp": now.Add(10 * time.Minute).Unix(),
		"iss": a.cfg.AppID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

// InstallationID returns the App installation id for the configured
// repository. A statically configured id is returned without a network call.
func (a *App) InstallationID(ctx context.Context) (string, error) {
	if a.cfg.InstallationID != "" {
		return a.cfg.InstallationID, nil
	}
	assertion, err := a.GenerateJWT()
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/repos/%s/%s/installation", a.baseURL, a.cfg.Owner, a.cfg.Repo)
	body, status, err := a.appRequest(ctx, http.MethodGet, endpoint, assertion)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &ResolutionError{StatusCode: status, Body: string(body)}
	}
	var payload struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", err
	}
	if payload.ID == 0 {
		return "", errors.New("installation id missing from response")
	}
	return fmt.Sprintf("%d", payload.ID), nil
}

// Token returns a valid installation access token, reusing the cached one
// while it is at least five minutes from expiry. Refresh is serialized on
// the App's mutex; concurrent callers share the result of one exchange.
func (a *App) Token(ctx context.Context, forceRefresh bool) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !forceRefresh && a.token != nil && time.Now().UTC().Add(tokenSafetyMargin).Before(a.token.ExpiresAt) {
		return a.token.Token, nil
	}

	token, err := a.exchangeToken(ctx)
	if err != nil {
		return "", err
	}
	a.token = token
	if a.cfg.OnRefresh != nil {
		a.cfg.OnRefresh()
	}
	return token.Token, nil
}

func (a *App) exchangeToken(ctx context.Context) (*InstallationToken, error) {
	assertion, err := a.GenerateJWT()
	if err != nil {
		return nil, err
	}
	installationID, err := a.InstallationID(ctx)
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/app/installations/%s/access_tokens", a.baseURL, installationID)
	body, status, err := a.appRequest(ctx, http.MethodPost, endpoint, assertion)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &ExchangeError{StatusCode: status, Body: string(body)}
	}
	var token InstallationToken
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, err
	}
	if token.Token == "" {
		return nil, errors.New("installation token missing from response")
	}
	if token.RepositorySelection == "" {
		token.RepositorySelection = "selected"
	}
	return &token, nil
}

// VerifyInstallation fetches the installation details for the configured
// repository, confirming the App's key and installation are usable.
func (a *App) VerifyInstallation(ctx context.Context) (map[string]interface{}, error) {
	assertion, err := a.GenerateJWT()
	if err != nil {
		return nil, err
	}
	installationID, err := a.InstallationID(ctx)
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/app/installations/%s", a.baseURL, installationID)
	body, status, err := a.appRequest(ctx, http.MethodGet, endpoint, assertion)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &ResolutionError{StatusCode: status, Body: string(body)}
	}
	var details map[string]interface{}
	if err := json.Unmarshal(body, &details); err != nil {
		return nil, err
	}
	return details, nil
}

// BaseURL returns the normalized API endpoint the App talks to.
func (a *App) BaseURL() string {
	return a.baseURL
}

// Close releases the App's HTTP transport. Safe to call more than once.
func (a *App) Close() error {
	a.clientMu.Lock()
	defer a.clientMu.Unlock()
	if a.client != nil {
		a.client.CloseIdleConnections()
		a.client = nil
	}
	return nil
}

func (a *App) appRequest(ctx context.Context, method, endpoint, assertion string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+assertion)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := a.httpClient().Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func (a *App) httpClient() *http.Client {
	a.clientMu.Lock()
	defer a.clientMu.Unlock()
	if a.client == nil {
		a.client = &http.Client{Timeout: 30 * time.Second}
	}
	return a.client
}

func (a *App) privateKey() (*rsa.PrivateKey, error) {
	a.keyOnce.Do(func() {
		key, err := jwt.ParseRSAPrivateKeyFromPEM(a.cfg.PrivateKey)
		if err != nil {
			a.keyError = fmt.Errorf("parse app private key: %w", err)
			return
		}
		a.key = key
	})
	if a.keyError != nil {
		return nil, a.keyError
	}
	return a.key, nil
}

func normalizeBaseURL(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return defaultBaseURL
	}
	return strings.TrimRight(base, "/")
}
