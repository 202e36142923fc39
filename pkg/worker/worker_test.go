package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

type fakeSubscriber struct {
	mu     sync.Mutex
	ch     chan *message.Message
	closed bool
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{ch: make(chan *message.Message, 8)}
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return f.ch, nil
}

func (f *fakeSubscriber) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
	return nil
}

func envelopeJSON(t *testing.T, agent string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"source":      "github",
		"name":        "pull_request",
		"action":      "opened",
		"delivery_id": "d-123",
		"agent":       agent,
		"params": map[string]interface{}{
			"pr_number": 42,
		},
		"data": map[string]interface{}{
			"pull_request.title": "Add retry logic",
		},
		"raw_payload": map[string]interface{}{
			"action": "opened",
		},
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}

func TestWorkerDeliversDecodedEvent(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubsub.Close()

	received := make(chan *Event, 1)
	w := New(
		WithSubscriber(pubsub),
		WithConcurrency(2),
	)
	w.HandleTopic("agent.qa", func(ctx context.Context, evt *Event) error {
		received <- evt
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := w.Run(ctx); err != nil {
			t.Errorf("run: %v", err)
		}
	}()
	time.Sleep(50 * time.Millisecond)

	msg := message.NewMessage(watermill.NewUUID(), envelopeJSON(t, "qa"))
	if err := pubsub.Publish("agent.qa", msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case evt := <-received:
		if evt.Type != "pull_request" || evt.Action != "opened" {
			t.Fatalf("unexpected event %q/%q", evt.Type, evt.Action)
		}
		if evt.Agent != "qa" {
			t.Fatalf("expected agent qa, got %q", evt.Agent)
		}
		if evt.Topic != "agent.qa" {
			t.Fatalf("expected topic agent.qa, got %q", evt.Topic)
		}
		if evt.DeliveryID != "d-123" {
			t.Fatalf("expected delivery id d-123, got %q", evt.DeliveryID)
		}
		if evt.Params["pr_number"] != float64(42) {
			t.Fatalf("expected pr_number 42, got %v", evt.Params["pr_number"])
		}
		if evt.Normalized["pull_request.title"] != "Add retry logic" {
			t.Fatalf("normalized data missing, got %v", evt.Normalized)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestWorkerRoutesByAgent(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubsub.Close()

	agentHits := make(chan string, 2)
	w := New(
		WithSubscriber(pubsub),
		WithTopics("agent.events"),
		WithDefaultHandler(func(ctx context.Context, evt *Event) error {
			agentHits <- "default"
			return nil
		}),
	)
	w.HandleAgent("issue-resolver", func(ctx context.Context, evt *Event) error {
		agentHits <- "issue-resolver"
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	if err := pubsub.Publish("agent.events", message.NewMessage(watermill.NewUUID(), envelopeJSON(t, "issue-resolver"))); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := pubsub.Publish("agent.events", message.NewMessage(watermill.NewUUID(), envelopeJSON(t, "story-writer"))); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case hit := <-agentHits:
			got[hit] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for handlers")
		}
	}
	if !got["issue-resolver"] || !got["default"] {
		t.Fatalf("expected agent and default handlers to fire, got %v", got)
	}
}

func TestWorkerNacksOnHandlerError(t *testing.T) {
	sub := newFakeSubscriber()

	w := New(
		WithSubscriber(sub),
		WithTopics("agent.events"),
		WithRetry(NoRetry{}),
		WithDefaultHandler(func(ctx context.Context, evt *Event) error {
			return errors.New("boom")
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	msg := message.NewMessage(watermill.NewUUID(), envelopeJSON(t, "qa"))
	sub.ch <- msg

	select {
	case <-msg.Nacked():
	case <-msg.Acked():
		t.Fatal("message was acked despite handler error")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for nack")
	}
}

func TestWorkerAcksOnHandlerErrorWithAckPolicy(t *testing.T) {
	sub := newFakeSubscriber()

	w := New(
		WithSubscriber(sub),
		WithTopics("agent.events"),
		WithRetry(AckOnError{}),
		WithDefaultHandler(func(ctx context.Context, evt *Event) error {
			return errors.New("boom")
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	msg := message.NewMessage(watermill.NewUUID(), envelopeJSON(t, "qa"))
	sub.ch <- msg

	select {
	case <-msg.Acked():
	case <-msg.Nacked():
		t.Fatal("message was nacked under ack-on-error policy")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ack")
	}
}

func TestCodecMetadataFallback(t *testing.T) {
	msg := message.NewMessage(watermill.NewUUID(), []byte(`{"action":"labeled"}`))
	msg.Metadata.Set("source", "github")
	msg.Metadata.Set("event", "issues")
	msg.Metadata.Set("agent", "story-writer")
	msg.Metadata.Set("delivery_id", "d-777")

	evt, err := DefaultCodec{}.Decode("agent.story-writer", msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.Source != "github" {
		t.Fatalf("expected source github, got %q", evt.Source)
	}
	if evt.Type != "issues" {
		t.Fatalf("expected type issues, got %q", evt.Type)
	}
	if evt.Agent != "story-writer" {
		t.Fatalf("expected agent story-writer, got %q", evt.Agent)
	}
	if evt.DeliveryID != "d-777" {
		t.Fatalf("expected delivery id d-777, got %q", evt.DeliveryID)
	}
	if string(evt.Payload) != `{"action":"labeled"}` {
		t.Fatalf("payload fallback missing, got %s", evt.Payload)
	}
}

func TestCodecRejectsInvalidJSON(t *testing.T) {
	msg := message.NewMessage(watermill.NewUUID(), []byte("not json"))
	if _, err := (DefaultCodec{}).Decode("agent.events", msg); err == nil {
		t.Fatal("expected decode error for invalid json")
	}
}

func TestWorkerMiddlewareOrder(t *testing.T) {
	sub := newFakeSubscriber()

	var order []string
	var mu sync.Mutex
	record := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, evt *Event) error {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return next(ctx, evt)
			}
		}
	}

	done := make(chan struct{})
	w := New(
		WithSubscriber(sub),
		WithTopics("agent.events"),
		WithMiddleware(record("outer"), record("inner")),
		WithDefaultHandler(func(ctx context.Context, evt *Event) error {
			close(done)
			return nil
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	sub.ch <- message.NewMessage(watermill.NewUUID(), envelopeJSON(t, "qa"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Fatalf("unexpected middleware order %v", order)
	}
}

func TestWorkerRequiresSubscriberAndTopics(t *testing.T) {
	w := New(WithTopics("agent.events"))
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected error without subscriber")
	}

	w = New(WithSubscriber(newFakeSubscriber()))
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected error without topics")
	}
}

func TestSessionIDDerivation(t *testing.T) {
	evt := &Event{Params: map[string]interface{}{"issue_number": float64(12)}}
	if got := sessionIDFor(evt); got != "issue-12" {
		t.Fatalf("expected issue-12, got %q", got)
	}

	evt = &Event{Params: map[string]interface{}{"pr_number": float64(7)}}
	if got := sessionIDFor(evt); got != "pr-7" {
		t.Fatalf("expected pr-7, got %q", got)
	}

	evt = &Event{DeliveryID: "abc", Type: "push"}
	if got := sessionIDFor(evt); got != "delivery-abc" {
		t.Fatalf("expected delivery-abc, got %q", got)
	}

	evt = &Event{Type: "push"}
	if got := sessionIDFor(evt); got != "event-push" {
		t.Fatalf("expected event-push, got %q", got)
	}
}

func TestPromptIncludesParamsAndPayload(t *testing.T) {
	evt := &Event{
		Type:   "issues",
		Action: "opened",
		Params: map[string]interface{}{
			"issue_number": float64(3),
			"title":        "Login breaks on Safari",
		},
		Payload: json.RawMessage(`{"action":"opened"}`),
	}
	prompt := promptFor(evt)
	for _, want := range []string{
		"GitHub issues (opened) event",
		"issue_number: 3",
		"title: Login breaks on Safari",
		`{"action":"opened"}`,
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}
