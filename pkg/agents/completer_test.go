package agents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicCompleterRequestShape(t *testing.T) {
	var gotPath, gotKey, gotVersion string
	var gotPayload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": "hello there"},
			},
		})
	}))
	defer server.Close()

	completer := NewAnthropicCompleter(AnthropicConfig{
		APIKey:  "sk-test",
		Model:   "claude-sonnet-4-20250514",
		BaseURL: server.URL,
	})

	reply, err := completer.Complete(context.Background(), CompletionRequest{
		System:   "be brief",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if reply != "hello there" {
		t.Fatalf("unexpected reply %q", reply)
	}
	if gotPath != "/v1/messages" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotKey != "sk-test" || gotVersion != "2023-06-01" {
		t.Fatalf("unexpected auth headers %q %q", gotKey, gotVersion)
	}
	if gotPayload["system"] != "be brief" {
		t.Fatalf("expected system prompt in payload")
	}
	if gotPayload["max_tokens"] != float64(4096) {
		t.Fatalf("expected default max_tokens, got %v", gotPayload["max_tokens"])
	}
}

func TestAnthropicCompleterErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error"}}`))
	}))
	defer server.Close()

	completer := NewAnthropicCompleter(AnthropicConfig{APIKey: "sk-test", BaseURL: server.URL})
	if _, err := completer.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}); err == nil {
		t.Fatalf("expected error for 429")
	}
}
