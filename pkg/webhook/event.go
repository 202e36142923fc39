package webhook

import "encoding/json"

// Delivery is one parsed webhook delivery. It is constructed once per
// inbound request from header values and the decoded body, and is read-only
// afterwards.
type Delivery struct {
	EventType  string
	Action     string
	DeliveryID string
	Payload    map[string]interface{}
	// Raw is the verbatim request body, kept for handlers that decode the
	// payload into typed structs.
	Raw []byte
}

// Repository returns the repository object from the payload, or an empty map.
func (d *Delivery) Repository() map[string]interface{} {
	return d.payloadObject("repository")
}

// Sender returns the sender object from the payload, or an empty map.
func (d *Delivery) Sender() map[string]interface{} {
	return d.payloadObject("sender")
}

// Issue returns the issue object from the payload, or nil when absent.
func (d *Delivery) Issue() map[string]interface{} {
	return d.optionalObject("issue")
}

// PullRequest returns the pull request object from the payload, or nil when
// absent.
func (d *Delivery) PullRequest() map[string]interface{} {
	return d.optionalObject("pull_request")
}

// Comment returns the comment object from the payload, or nil when absent.
func (d *Delivery) Comment() map[string]interface{} {
	return d.optionalObject("comment")
}

func (d *Delivery) payloadObject(key string) map[string]interface{} {
	if obj := d.optionalObject(key); obj != nil {
		return obj
	}
	return map[string]interface{}{}
}

func (d *Delivery) optionalObject(key string) map[string]interface{} {
	if d.Payload == nil {
		return nil
	}
	obj, _ := d.Payload[key].(map[string]interface{})
	return obj
}

// ParseDelivery builds a Delivery from header values and a decoded payload.
// The action is taken from the payload's "action" key when present.
func ParseDelivery(eventType, deliveryID string, payload map[string]interface{}) *Delivery {
	action := ""
	if payload != nil {
		action, _ = payload["action"].(string)
	}
	return &Delivery{
		EventType:  eventType,
		Action:     action,
		DeliveryID: deliveryID,
		Payload:    payload,
	}
}

// ParseDeliveryBytes decodes a raw JSON body and builds a Delivery from it.
func ParseDeliveryBytes(eventType, deliveryID string, body []byte) (*Delivery, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	d := ParseDelivery(eventType, deliveryID, payload)
	d.Raw = body
	return d, nil
}
