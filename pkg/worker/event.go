package worker

import "encoding/json"

// Event is a routed webhook event consumed from an agent topic.
type Event struct {
	// Source is the event origin ("github").
	Source string `json:"source"`
	// Type is the webhook event name (e.g. "pull_request").
	Type string `json:"type"`
	// Action is the event action (e.g. "opened").
	Action string `json:"action"`
	// Topic is the topic the message was received on.
	Topic string `json:"topic"`
	// DeliveryID is the webhook delivery that produced this event.
	DeliveryID string `json:"delivery_id"`
	// Agent names the squad member the routing rule selected.
	Agent string `json:"agent"`
	// Params carries values extracted by the matching rule.
	Params map[string]interface{} `json:"params"`
	// Metadata contains message-broker metadata.
	Metadata map[string]string `json:"metadata"`
	// Payload is the raw JSON payload of the message.
	Payload json.RawMessage `json:"payload"`
	// Normalized is the flattened webhook payload.
	Normalized map[string]interface{} `json:"normalized"`
}
