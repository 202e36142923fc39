package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"sdlcsquad/internal"
)

const testSecret = "test-secret"

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newWebhookRequest(t *testing.T, event string, payload map[string]interface{}) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-GitHub-Delivery", "delivery-1")
	req.Header.Set("X-Hub-Signature-256", sign(body))
	return req
}

type recordedPublish struct {
	topic   string
	event   internal.Event
	drivers []string
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []recordedPublish
	err       error
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, event internal.Event) error {
	return p.PublishForDrivers(ctx, topic, event, nil)
}

func (p *recordingPublisher) PublishForDrivers(ctx context.Context, topic string, event internal.Event, drivers []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, recordedPublish{topic: topic, event: event, drivers: drivers})
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestServerAcceptsValidSignature(t *testing.T) {
	dispatcher := NewDispatcher()
	handled := false
	dispatcher.OnAction("issues", "opened", func(ctx context.Context, d *Delivery) (interface{}, error) {
		handled = true
		return nil, nil
	})

	srv := NewServer(testSecret, dispatcher, quietLogger())
	req := newWebhookRequest(t, "issues", map[string]interface{}{
		"action": "opened",
		"issue":  map[string]interface{}{"number": 5},
	})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !handled {
		t.Fatal("registered handler was not invoked")
	}

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "processed" {
		t.Fatalf("expected status processed, got %q", resp.Status)
	}
	if resp.EventType != "issues" || resp.Action != "opened" {
		t.Fatalf("unexpected echo %q/%q", resp.EventType, resp.Action)
	}
	if rec.Header().Get("X-Request-Id") != "delivery-1" {
		t.Fatalf("expected delivery id echoed, got %q", rec.Header().Get("X-Request-Id"))
	}
}

func TestServerRejectsBadSignature(t *testing.T) {
	srv := NewServer(testSecret, NewDispatcher(), quietLogger())

	body := []byte(`{"action":"opened"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "issues")
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "invalid_signature" {
		t.Fatalf("expected invalid_signature, got %q", resp.Status)
	}
}

func TestServerRejectsNonPost(t *testing.T) {
	srv := NewServer(testSecret, NewDispatcher(), quietLogger())
	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestServerRejectsInvalidJSON(t *testing.T) {
	srv := NewServer(testSecret, NewDispatcher(), quietLogger())

	body := []byte("not json")
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "issues")
	req.Header.Set("X-Hub-Signature-256", sign(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestServerReportsAllHandlersFailed(t *testing.T) {
	dispatcher := NewDispatcher()
	dispatcher.OnAction("issues", "opened", func(ctx context.Context, d *Delivery) (interface{}, error) {
		return nil, errors.New("boom")
	})

	srv := NewServer(testSecret, dispatcher, quietLogger())
	req := newWebhookRequest(t, "issues", map[string]interface{}{"action": "opened"})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "error" {
		t.Fatalf("expected status error when every handler fails, got %q", resp.Status)
	}
}

func TestServerFanoutPublishesMatchedRules(t *testing.T) {
	engine, err := internal.NewRuleEngine(internal.RulesConfig{
		Rules: []internal.Rule{
			{
				When:    `event == 'issues' && action == 'opened'`,
				Emit:    "agent.requirements",
				Agent:   "requirements",
				Drivers: []string{"gochannel"},
				Params:  map[string]string{"issue_number": "$.issue.number"},
			},
			{
				When: `event == 'push'`,
				Emit: "agent.never",
			},
		},
		Logger: quietLogger(),
	})
	if err != nil {
		t.Fatalf("rule engine: %v", err)
	}

	pub := &recordingPublisher{}
	srv := NewServer(testSecret, NewDispatcher(), quietLogger(),
		WithRules(engine), WithPublisher(pub))

	req := newWebhookRequest(t, "issues", map[string]interface{}{
		"action": "opened",
		"issue":  map[string]interface{}{"number": 41},
	})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(pub.published))
	}
	got := pub.published[0]
	if got.topic != "agent.requirements" {
		t.Fatalf("expected topic agent.requirements, got %q", got.topic)
	}
	if got.event.Agent != "requirements" {
		t.Fatalf("expected agent requirements, got %q", got.event.Agent)
	}
	if got.event.DeliveryID != "delivery-1" {
		t.Fatalf("expected delivery id carried, got %q", got.event.DeliveryID)
	}
	if len(got.drivers) != 1 || got.drivers[0] != "gochannel" {
		t.Fatalf("expected drivers [gochannel], got %v", got.drivers)
	}
	if got.event.Params["issue_number"] != float64(41) {
		t.Fatalf("expected issue_number 41, got %v", got.event.Params["issue_number"])
	}
}

func TestServerPublishFailureStillAcks(t *testing.T) {
	engine, err := internal.NewRuleEngine(internal.RulesConfig{
		Rules:  []internal.Rule{{When: `event == 'issues'`, Emit: "agent.requirements"}},
		Logger: quietLogger(),
	})
	if err != nil {
		t.Fatalf("rule engine: %v", err)
	}

	pub := &recordingPublisher{err: errors.New("broker down")}
	srv := NewServer(testSecret, NewDispatcher(), quietLogger(),
		WithRules(engine), WithPublisher(pub))

	req := newWebhookRequest(t, "issues", map[string]interface{}{"action": "opened"})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("webhook should still be acknowledged, got %d", rec.Code)
	}
}
