package worker

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Codec decodes broker messages into events.
type Codec interface {
	Decode(topic string, msg *message.Message) (*Event, error)
}

// DefaultCodec decodes the JSON event envelope the webhook gateway
// publishes. Fields absent from the payload fall back to message metadata.
type DefaultCodec struct{}

type envelope struct {
	Source     string                 `json:"source"`
	Name       string                 `json:"name"`
	Action     string                 `json:"action"`
	DeliveryID string                 `json:"delivery_id"`
	Agent      string                 `json:"agent"`
	Params     map[string]interface{} `json:"params"`
	Data       map[string]interface{} `json:"data"`
	RawPayload json.RawMessage        `json:"raw_payload"`
}

// Decode unmarshals a Watermill message into an Event.
func (DefaultCodec) Decode(topic string, msg *message.Message) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return nil, err
	}

	metadata := make(map[string]string, len(msg.Metadata))
	for key, value := range msg.Metadata {
		metadata[key] = value
	}

	source := env.Source
	if source == "" {
		source = msg.Metadata.Get("source")
	}
	eventName := env.Name
	if eventName == "" {
		eventName = msg.Metadata.Get("event")
	}
	agent := env.Agent
	if agent == "" {
		agent = msg.Metadata.Get("agent")
	}
	deliveryID := env.DeliveryID
	if deliveryID == "" {
		deliveryID = msg.Metadata.Get("delivery_id")
	}

	payload := env.RawPayload
	if len(payload) == 0 {
		payload = json.RawMessage(msg.Payload)
	}

	return &Event{
		Source:     source,
		Type:       eventName,
		Action:     env.Action,
		Topic:      topic,
		DeliveryID: deliveryID,
		Agent:      agent,
		Params:     env.Params,
		Metadata:   metadata,
		Payload:    payload,
		Normalized: env.Data,
	}, nil
}
