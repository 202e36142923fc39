package webhook

import (
	"context"
	"errors"
	"testing"
	"time"
)

func issueOpened() *Delivery {
	return ParseDelivery("issues", "d-1", map[string]interface{}{
		"action": "opened",
		"issue":  map[string]interface{}{"number": float64(7)},
	})
}

func TestDispatchSpecificBeforeGeneral(t *testing.T) {
	dispatcher := NewDispatcher()
	dispatcher.OnAction("issues", "opened", func(ctx context.Context, d *Delivery) (interface{}, error) {
		return "specific", nil
	})
	dispatcher.On("issues", func(ctx context.Context, d *Delivery) (interface{}, error) {
		return "general", nil
	})

	results := dispatcher.Dispatch(context.Background(), issueOpened())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Value != "specific" || results[1].Value != "general" {
		t.Fatalf("expected [specific general], got [%v %v]", results[0].Value, results[1].Value)
	}
}

func TestDispatchNoMatch(t *testing.T) {
	dispatcher := NewDispatcher()
	results := dispatcher.Dispatch(context.Background(), issueOpened())
	if results == nil {
		t.Fatalf("expected empty slice, got nil")
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestDispatchRegistrationOrder(t *testing.T) {
	dispatcher := NewDispatcher()
	dispatcher.OnAction("pull_request", "opened", func(ctx context.Context, d *Delivery) (interface{}, error) {
		return "a", nil
	})
	dispatcher.OnAction("pull_request", "opened", func(ctx context.Context, d *Delivery) (interface{}, error) {
		return "b", nil
	})

	delivery := ParseDelivery("pull_request", "d-2", map[string]interface{}{"action": "opened"})
	results := dispatcher.Dispatch(context.Background(), delivery)
	if len(results) != 2 || results[0].Value != "a" || results[1].Value != "b" {
		t.Fatalf("expected [a b] in registration order, got %v", results)
	}
}

func TestDispatchGeneralRunsWithoutAction(t *testing.T) {
	dispatcher := NewDispatcher()
	dispatcher.On("push", func(ctx context.Context, d *Delivery) (interface{}, error) {
		return "pushed", nil
	})

	delivery := ParseDelivery("push", "d-3", map[string]interface{}{"ref": "refs/heads/main"})
	results := dispatcher.Dispatch(context.Background(), delivery)
	if len(results) != 1 || results[0].Value != "pushed" {
		t.Fatalf("expected general handler to run, got %v", results)
	}
}

func TestDispatchIsolatesFailures(t *testing.T) {
	dispatcher := NewDispatcher()
	boom := errors.New("boom")
	dispatcher.OnAction("issues", "opened", func(ctx context.Context, d *Delivery) (interface{}, error) {
		return nil, boom
	})
	dispatcher.OnAction("issues", "opened", func(ctx context.Context, d *Delivery) (interface{}, error) {
		return "survived", nil
	})
	dispatcher.On("issues", func(ctx context.Context, d *Delivery) (interface{}, error) {
		return "general", nil
	})

	results := dispatcher.Dispatch(context.Background(), issueOpened())
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !errors.Is(results[0].Err, boom) {
		t.Fatalf("expected first result to carry the error, got %v", results[0].Err)
	}
	if results[1].Value != "survived" || results[2].Value != "general" {
		t.Fatalf("expected later handlers to run, got %v", results)
	}
}

func TestDispatchRecoversPanic(t *testing.T) {
	dispatcher := NewDispatcher()
	dispatcher.On("issues", func(ctx context.Context, d *Delivery) (interface{}, error) {
		panic("bad handler")
	})
	dispatcher.On("issues", func(ctx context.Context, d *Delivery) (interface{}, error) {
		return "still here", nil
	})

	results := dispatcher.Dispatch(context.Background(), issueOpened())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Err == nil {
		t.Fatalf("expected panic to surface as error")
	}
	if results[1].Value != "still here" {
		t.Fatalf("expected second handler to run after panic")
	}
}

func TestDispatchSlowHandlerKeepsOrder(t *testing.T) {
	dispatcher := NewDispatcher()
	dispatcher.OnAction("issues", "opened", func(ctx context.Context, d *Delivery) (interface{}, error) {
		select {
		case <-time.After(10 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return "slow", nil
	})
	dispatcher.On("issues", func(ctx context.Context, d *Delivery) (interface{}, error) {
		return "fast", nil
	})

	results := dispatcher.Dispatch(context.Background(), issueOpened())
	if results[0].Value != "slow" || results[1].Value != "fast" {
		t.Fatalf("expected specific group to finish before general, got %v", results)
	}
}
