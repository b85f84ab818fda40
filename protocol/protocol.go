// Package protocol defines the wire types exchanged between the relay
// server, browser-facing subscribers and backend notifiers.
package protocol

import (
	"encoding/json"
)

// AdminRoom is the fixed room joined by every connected admin dashboard
// session. Order rooms are keyed by the order's identifier.
const AdminRoom = "admin_room"

const (
	EventOrderNew     = "order:new"
	EventOrderUpdated = "order:updated"
)

// ClientMessage is a client-to-server message. Exactly one field is set.
type ClientMessage struct {
	JoinOrderRoom  *JoinOrderRoom  `json:"join_order_room,omitempty"`
	JoinAdminRoom  *JoinAdminRoom  `json:"join_admin_room,omitempty"`
	LeaveOrderRoom *LeaveOrderRoom `json:"leave_order_room,omitempty"`
}

type JoinOrderRoom struct {
	OrderId string `json:"order_id"`
	Token   string `json:"token,omitempty"`
}

type JoinAdminRoom struct {
	Token string `json:"token,omitempty"`
}

type LeaveOrderRoom struct {
	OrderId string `json:"order_id"`
}

// ServerMessage is a server-to-client message: either a broadcast event or
// a direct response to a client request.
type ServerMessage struct {
	Event    *EventMessage `json:"event,omitempty"`
	Response *Response     `json:"response,omitempty"`
}

type EventMessage struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
}
