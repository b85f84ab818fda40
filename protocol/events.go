package protocol

import (
	"encoding/json"
	"fmt"
)

// OrderSnapshot carries the fields of a newly created order. The backend
// decides which fields it sends; the relay only requires an id and
// guarantees a timeline is present so dashboards can render the order
// without a re-fetch.
type OrderSnapshot map[string]any

// Normalize backfills an empty timeline on snapshots that lack one.
func (o OrderSnapshot) Normalize() {
	if _, ok := o["timeline"]; !ok {
		o["timeline"] = []any{}
	}
}

func (o OrderSnapshot) Id() string {
	id, _ := o["id"].(string)
	return id
}

type OrderNewPayload struct {
	Order OrderSnapshot `json:"order"`
}

// OrderUpdatedPayload is sent to an order room with only the new status,
// and to the admin room with the affected order's id as well.
type OrderUpdatedPayload struct {
	OrderId string `json:"orderId,omitempty"`
	Status  string `json:"status"`
}

// Event is the closed set of broadcastable events. Exactly one payload
// field is populated, matching Name.
type Event struct {
	Name         string
	OrderNew     *OrderNewPayload
	OrderUpdated *OrderUpdatedPayload
}

// ParseEvent validates an event name and raw payload against the known
// event variants. Unknown names and malformed payloads are rejected rather
// than forwarded blindly.
func ParseEvent(name string, raw json.RawMessage) (*Event, error) {
	switch name {
	case EventOrderNew:
		var p OrderNewPayload
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("parse %s payload: %w", name, err)
			}
		}
		if p.Order == nil {
			return nil, fmt.Errorf("%s payload missing order", name)
		}
		if p.Order.Id() == "" {
			return nil, fmt.Errorf("%s payload missing order id", name)
		}
		p.Order.Normalize()
		return &Event{Name: name, OrderNew: &p}, nil
	case EventOrderUpdated:
		var p OrderUpdatedPayload
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("parse %s payload: %w", name, err)
			}
		}
		if p.Status == "" {
			return nil, fmt.Errorf("%s payload missing status", name)
		}
		return &Event{Name: name, OrderUpdated: &p}, nil
	default:
		return nil, fmt.Errorf("unknown event %q", name)
	}
}

// Message serializes the event into its wire form.
func (e *Event) Message() (*EventMessage, error) {
	var payload any
	switch e.Name {
	case EventOrderNew:
		payload = e.OrderNew
	case EventOrderUpdated:
		payload = e.OrderUpdated
	default:
		return nil, fmt.Errorf("unknown event %q", e.Name)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Name, err)
	}

	return &EventMessage{Name: e.Name, Payload: raw}, nil
}
