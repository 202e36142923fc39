package internal

import "encoding/json"

// Event is the envelope published to routing topics for every accepted
// webhook delivery.
type Event struct {
	// Source is the originating platform. Always "github" today.
	Source string `json:"source"`
	// Name is the webhook event type (e.g. "issues").
	Name string `json:"name"`
	// Action is the webhook action (e.g. "opened"), empty when absent.
	Action string `json:"action,omitempty"`
	// DeliveryID is the unique delivery identifier from the webhook headers.
	DeliveryID string `json:"delivery_id"`
	// Agent names the agent a routing rule selected for this event.
	Agent string `json:"agent,omitempty"`
	// Params carries values a routing rule extracted from the payload.
	Params map[string]interface{} `json:"params,omitempty"`
	// Data is the flattened payload used for rule evaluation.
	Data map[string]interface{} `json:"data"`
	// RawPayload is the verbatim webhook body.
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
	// Object is the decoded payload tree, kept for in-process rule
	// evaluation and never serialized.
	Object interface{} `json:"-"`
}
