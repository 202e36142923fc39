package githubapp

import (
	"context"
	"net/http"
	"strings"
	"time"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// Client returns an HTTP client that injects the current installation token
// into every request. The token is fetched (and refreshed if stale) before
// the client is built.
func (a *App) Client(ctx context.Context) (*http.Client, error) {
	token, err := a.Token(ctx, false)
	if err != nil {
		return nil, err
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := oauth2.NewClient(ctx, ts)
	client.Timeout = 30 * time.Second
	return client, nil
}

// SDKClient creates a go-github client authenticated with the installation
// token, for callers that prefer the typed SDK over the raw tool surface.
func (a *App) SDKClient(ctx context.Context) (*gh.Client, error) {
	httpClient, err := a.Client(ctx)
	if err != nil {
		return nil, err
	}
	base := strings.TrimRight(a.baseURL, "/")
	if base != "" && base != defaultBaseURL {
		return gh.NewClient(httpClient).WithEnterpriseURLs(base, base)
	}
	return gh.NewClient(httpClient), nil
}
