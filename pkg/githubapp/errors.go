package githubapp

import "fmt"

// ResolutionError reports a failed installation lookup against the app-level
// API.
type ResolutionError struct {
	StatusCode int
	Body       string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("installation lookup failed: %d - %s", e.StatusCode, e.Body)
}

// ExchangeError reports a failed assertion-for-token exchange.
type ExchangeError struct {
	StatusCode int
	Body       string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("installation token exchange failed: %d - %s", e.StatusCode, e.Body)
}
