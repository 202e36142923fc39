package internal

import (
	"fmt"
	"log"

	"github.com/Knetic/govaluate"
	"github.com/PaesslerAG/jsonpath"
)

// Rule routes matching webhook events to a topic and, optionally, an agent.
// When is a govaluate expression over the flattened payload. Params map
// names to JSONPath expressions evaluated against the decoded payload tree;
// extracted values travel with the published event.
type Rule struct {
	When    string            `yaml:"when"`
	Emit    string            `yaml:"emit"`
	Agent   string            `yaml:"agent"`
	Drivers []string          `yaml:"drivers"`
	Params  map[string]string `yaml:"params"`
}

// RuleMatch is the routing decision produced by one matching rule.
type RuleMatch struct {
	Topic   string
	Agent   string
	Drivers []string
	Params  map[string]interface{}
}

type compiledRule struct {
	emit    string
	agent   string
	drivers []string
	params  map[string]string
	expr    *govaluate.EvaluableExpression
}

// RuleEngine evaluates routing rules against webhook events.
type RuleEngine struct {
	rules  []compiledRule
	strict bool
	logger *log.Logger
}

// RulesConfig carries the rule set and evaluation options.
type RulesConfig struct {
	Rules  []Rule
	Strict bool
	Logger *log.Logger
}

// NewRuleEngine compiles the configured rules. Invalid expressions fail
// construction; param extraction errors are handled at evaluation time.
func NewRuleEngine(cfg RulesConfig) (*RuleEngine, error) {
	rules := make([]compiledRule, 0, len(cfg.Rules))
	for i, rule := range cfg.Rules {
		expr, err := govaluate.NewEvaluableExpression(rule.When)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, compiledRule{
			emit:    rule.Emit,
			agent:   rule.Agent,
			drivers: rule.Drivers,
			params:  rule.Params,
			expr:    expr,
		})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &RuleEngine{rules: rules, strict: cfg.Strict, logger: logger}, nil
}

// Evaluate returns the routing decisions for an event. A rule whose
// expression errors is skipped unless the engine is strict, in which case
// no matches are returned for the event.
func (r *RuleEngine) Evaluate(event Event) []RuleMatch {
	if len(r.rules) == 0 {
		return nil
	}

	matches := make([]RuleMatch, 0, 1)
	for _, rule := range r.rules {
		result, err := rule.expr.Evaluate(event.Data)
		if err != nil {
			r.logger.Printf("rule eval failed: %v", err)
			if r.strict {
				return nil
			}
			continue
		}
		ok, _ := result.(bool)
		if !ok {
			continue
		}
		matches = append(matches, RuleMatch{
			Topic:   rule.emit,
			Agent:   rule.agent,
			Drivers: rule.drivers,
			Params:  r.extractParams(rule, event),
		})
	}
	return matches
}

func (r *RuleEngine) extractParams(rule compiledRule, event Event) map[string]interface{} {
	if len(rule.params) == 0 || event.Object == nil {
		return nil
	}
	params := make(map[string]interface{}, len(rule.params))
	for name, path := range rule.params {
		value, err := jsonpath.Get(path, event.Object)
		if err != nil {
			r.logger.Printf("rule param %s (%s) failed: %v", name, path, err)
			continue
		}
		params[name] = value
	}
	if len(params) == 0 {
		return nil
	}
	return params
}
