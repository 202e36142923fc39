package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"testing"

	"sdlcsquad/internal"
	"sdlcsquad/pkg/webhook"
)

func testDelivery(t *testing.T, eventType string, payload map[string]interface{}) *webhook.Delivery {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	d, err := webhook.ParseDeliveryBytes(eventType, "delivery-1", raw)
	if err != nil {
		t.Fatalf("parse delivery: %v", err)
	}
	return d
}

func testDispatcher(t *testing.T) *webhook.Dispatcher {
	t.Helper()
	d := webhook.NewDispatcher()
	registerHandlers(d, nil, internal.GitHubConfig{Owner: "octo", Repo: "widgets"},
		log.New(io.Discard, "", 0))
	return d
}

func TestLabeledHandlerIgnoresOtherLabels(t *testing.T) {
	d := testDispatcher(t)
	delivery := testDelivery(t, "issues", map[string]interface{}{
		"action": "labeled",
		"label":  map[string]interface{}{"name": "bug"},
		"issue":  map[string]interface{}{"number": 4},
	})

	results := d.Dispatch(context.Background(), delivery)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Err != nil {
		t.Fatalf("unexpected error: %v", results[0].Err)
	}
	if results[0].Value != "ignored" {
		t.Fatalf("expected ignored, got %v", results[0].Value)
	}
}

func TestLabeledHandlerRequestsStories(t *testing.T) {
	d := testDispatcher(t)
	delivery := testDelivery(t, "issues", map[string]interface{}{
		"action": "labeled",
		"label":  map[string]interface{}{"name": storiesLabel},
		"issue":  map[string]interface{}{"number": 4},
	})

	results := d.Dispatch(context.Background(), delivery)
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("unexpected results: %+v", results)
	}
	if results[0].Value != "stories-requested" {
		t.Fatalf("expected stories-requested, got %v", results[0].Value)
	}
}

func TestCommentHandlerRequiresTrigger(t *testing.T) {
	d := testDispatcher(t)

	plain := testDelivery(t, "issue_comment", map[string]interface{}{
		"action":  "created",
		"comment": map[string]interface{}{"body": "looks good to me"},
		"issue":   map[string]interface{}{"number": 9},
	})
	results := d.Dispatch(context.Background(), plain)
	if len(results) != 1 || results[0].Value != "ignored" {
		t.Fatalf("expected ignored for plain comment, got %+v", results)
	}

	summon := testDelivery(t, "issue_comment", map[string]interface{}{
		"action":  "created",
		"comment": map[string]interface{}{"body": "hey @SDLC-agent please triage"},
		"issue":   map[string]interface{}{"number": 9},
	})
	results = d.Dispatch(context.Background(), summon)
	if len(results) != 1 || results[0].Value != "summoned" {
		t.Fatalf("expected summoned, got %+v", results)
	}
}

func TestCheckSuiteHandlerOnlyReactsToFailure(t *testing.T) {
	d := testDispatcher(t)

	success := testDelivery(t, "check_suite", map[string]interface{}{
		"action":      "completed",
		"check_suite": map[string]interface{}{"conclusion": "success", "head_sha": "abc"},
	})
	results := d.Dispatch(context.Background(), success)
	if len(results) != 1 || results[0].Value != "ignored" {
		t.Fatalf("expected ignored for success, got %+v", results)
	}

	failure := testDelivery(t, "check_suite", map[string]interface{}{
		"action":      "completed",
		"check_suite": map[string]interface{}{"conclusion": "failure", "head_sha": "abc"},
	})
	results = d.Dispatch(context.Background(), failure)
	if len(results) != 1 || results[0].Value != "failure-noted" {
		t.Fatalf("expected failure-noted, got %+v", results)
	}
}

func TestSynchronizeHandlerLogsOnly(t *testing.T) {
	d := testDispatcher(t)
	delivery := testDelivery(t, "pull_request", map[string]interface{}{
		"action": "synchronize",
		"pull_request": map[string]interface{}{
			"number": 12,
			"head":   map[string]interface{}{"sha": "deadbeef"},
		},
	})
	results := d.Dispatch(context.Background(), delivery)
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("unexpected results: %+v", results)
	}
	if results[0].Value != "noted" {
		t.Fatalf("expected noted, got %v", results[0].Value)
	}
}

func TestHasTrigger(t *testing.T) {
	for body, want := range map[string]bool{
		"@sdlc-agent help":      true,
		"ping @SDLC-BOT":        true,
		"/sdlc review this":     true,
		"unrelated comment":     false,
		"sdlc without a prefix": false,
	} {
		if got := hasTrigger(body); got != want {
			t.Fatalf("hasTrigger(%q) = %v, want %v", body, got, want)
		}
	}
}

func TestRuleTopicsDeduplicates(t *testing.T) {
	topics := ruleTopics([]internal.Rule{
		{Emit: "agent.qa"},
		{Emit: "agent.requirements"},
		{Emit: "agent.qa"},
	})
	if len(topics) != 2 || topics[0] != "agent.qa" || topics[1] != "agent.requirements" {
		t.Fatalf("unexpected topics %v", topics)
	}
}
