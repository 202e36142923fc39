// Package agents hosts the SDLC agent squad: five specialists and a
// supervisor that turn routed webhook events into repository actions
// through an LLM backend.
package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Message is one turn of an agent conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest carries everything a backend needs for one completion.
type CompletionRequest struct {
	System   string
	Messages []Message
}

// Completer produces a completion for a conversation. Implementations must
// be safe for concurrent use.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// AnthropicConfig holds the messages-API backend settings.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

// AnthropicCompleter implements Completer against the Anthropic messages
// API.
type AnthropicCompleter struct {
	cfg    AnthropicConfig
	client *http.Client
}

// NewAnthropicCompleter creates a completer with a 30 second HTTP timeout.
func NewAnthropicCompleter(cfg AnthropicConfig) *AnthropicCompleter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	return &AnthropicCompleter{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Complete sends one messages-API request and returns the first text block
// of the response.
func (a *AnthropicCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	payload := map[string]interface{}{
		"model":      a.cfg.Model,
		"max_tokens": a.cfg.MaxTokens,
		"messages":   req.Messages,
	}
	if req.System != "" {
		payload["system"] = req.System
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/v1/messages", bytes.NewReader(encoded))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("completion status %d: %s", resp.StatusCode, string(body))
	}

	var decoded struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", err
	}
	for _, block := range decoded.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("completion response has no text content")
}
