package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"sdlcsquad/pkg/agents"
)

// NewSquadHandler returns a handler that turns each routed event into an
// agent request. The session identifier is derived from the issue or pull
// request number when present so follow-up events on the same item share
// conversation history.
func NewSquadHandler(squad *agents.Squad, logger Logger) Handler {
	if logger == nil {
		logger = stdLogger{}
	}
	return func(ctx context.Context, evt *Event) error {
		sessionID := sessionIDFor(evt)
		prompt := promptFor(evt)

		reply, err := squad.Process(ctx, evt.Agent, sessionID, prompt)
		if err != nil {
			return fmt.Errorf("agent %q: %w", evt.Agent, err)
		}
		logger.Printf("agent=%s session=%s replied (%d chars)", evt.Agent, sessionID, len(reply))
		return nil
	}
}

func sessionIDFor(evt *Event) string {
	for _, key := range []string{"issue_number", "pr_number", "number"} {
		if v, ok := evt.Params[key]; ok {
			return fmt.Sprintf("%s-%s", strings.TrimSuffix(key, "_number"), formatParam(v))
		}
	}
	if evt.DeliveryID != "" {
		return "delivery-" + evt.DeliveryID
	}
	return "event-" + evt.Type
}

func promptFor(evt *Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A GitHub %s", evt.Type)
	if evt.Action != "" {
		fmt.Fprintf(&b, " (%s)", evt.Action)
	}
	b.WriteString(" event arrived.\n")

	if len(evt.Params) > 0 {
		b.WriteString("\nExtracted parameters:\n")
		keys := make([]string, 0, len(evt.Params))
		for key := range evt.Params {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", key, formatParam(evt.Params[key]))
		}
	}

	if len(evt.Payload) > 0 {
		b.WriteString("\nEvent payload:\n")
		b.Write(evt.Payload)
		b.WriteString("\n")
	}

	b.WriteString("\nHandle this event according to your role.")
	return b.String()
}

func formatParam(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers decode as float64; issue and PR numbers are integral.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case nil:
		return ""
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(raw)
	}
}
