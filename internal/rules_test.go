package internal

import "testing"

func ruleEvent(payload map[string]interface{}) Event {
	return Event{
		Source: "github",
		Name:   "pull_request",
		Data:   Flatten(payload),
		Object: payload,
	}
}

func TestRuleEngineEvaluate(t *testing.T) {
	cfg := RulesConfig{
		Rules: []Rule{
			{When: `action == "opened"`, Emit: "pr.opened"},
			{When: `action == "closed" && merged == true`, Emit: "pr.merged"},
		},
	}

	engine, err := NewRuleEngine(cfg)
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}

	event := ruleEvent(map[string]interface{}{"action": "opened", "merged": false})

	matches := engine.Evaluate(event)
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Topic != "pr.opened" {
		t.Fatalf("expected topic pr.opened, got %q", matches[0].Topic)
	}
}

func TestRuleEngineNestedField(t *testing.T) {
	cfg := RulesConfig{
		Rules: []Rule{
			{When: `action == "opened" && [pull_request.draft] == false`, Emit: "pr.opened.ready"},
		},
	}

	engine, err := NewRuleEngine(cfg)
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}

	event := ruleEvent(map[string]interface{}{
		"action":       "opened",
		"pull_request": map[string]interface{}{"draft": false},
	})

	matches := engine.Evaluate(event)
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
}

func TestRuleEngineMissingField(t *testing.T) {
	cfg := RulesConfig{
		Rules: []Rule{
			{When: "missing == true", Emit: "never"},
		},
	}

	engine, err := NewRuleEngine(cfg)
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}

	matches := engine.Evaluate(ruleEvent(map[string]interface{}{}))
	if len(matches) != 0 {
		t.Fatalf("expected no matches, got %d", len(matches))
	}
}

func TestRuleEngineStrictMissing(t *testing.T) {
	cfg := RulesConfig{
		Rules: []Rule{
			{When: "missing_field == true", Emit: "never"},
		},
		Strict: true,
	}

	engine, err := NewRuleEngine(cfg)
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}

	matches := engine.Evaluate(ruleEvent(map[string]interface{}{"action": "opened"}))
	if len(matches) != 0 {
		t.Fatalf("expected no matches in strict mode, got %d", len(matches))
	}
}

func TestRuleEngineInvalidExpression(t *testing.T) {
	cfg := RulesConfig{
		Rules: []Rule{
			{When: `action == `, Emit: "broken"},
		},
	}
	if _, err := NewRuleEngine(cfg); err == nil {
		t.Fatalf("expected error for invalid expression")
	}
}

func TestRuleEngineDriversAndAgent(t *testing.T) {
	cfg := RulesConfig{
		Rules: []Rule{
			{When: `action == "opened"`, Emit: "pr.opened", Agent: "reviewer", Drivers: []string{"amqp", "http"}},
		},
	}

	engine, err := NewRuleEngine(cfg)
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}

	matches := engine.Evaluate(ruleEvent(map[string]interface{}{"action": "opened"}))
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Agent != "reviewer" {
		t.Fatalf("expected agent reviewer, got %q", matches[0].Agent)
	}
	if len(matches[0].Drivers) != 2 {
		t.Fatalf("expected 2 drivers, got %d", len(matches[0].Drivers))
	}
}

func TestRuleEngineParams(t *testing.T) {
	cfg := RulesConfig{
		Rules: []Rule{
			{
				When:  `action == "opened"`,
				Emit:  "pr.opened",
				Agent: "reviewer",
				Params: map[string]string{
					"number": "$.pull_request.number",
					"login":  "$.sender.login",
					"absent": "$.pull_request.missing",
				},
			},
		},
	}

	engine, err := NewRuleEngine(cfg)
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}

	event := ruleEvent(map[string]interface{}{
		"action":       "opened",
		"pull_request": map[string]interface{}{"number": float64(7)},
		"sender":       map[string]interface{}{"login": "octocat"},
	})

	matches := engine.Evaluate(event)
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	params := matches[0].Params
	if params["number"] != float64(7) {
		t.Fatalf("expected number param 7, got %v", params["number"])
	}
	if params["login"] != "octocat" {
		t.Fatalf("expected login param octocat, got %v", params["login"])
	}
	if _, ok := params["absent"]; ok {
		t.Fatalf("expected missing param to be skipped")
	}
}
