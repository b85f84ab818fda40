package api

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/sparkcart/order-relay/internal/relay"
	"github.com/sparkcart/order-relay/protocol"
)

type EmitRequest struct {
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type EmitResponse struct {
	Ok bool `json:"ok"`
}

type EmitError struct {
	Error string `json:"error"`
}

func (s *RelayApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *RelayApp) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("Socket server is running"))
}

// emit accepts a broadcast request from a trusted backend process. The
// response only acknowledges that the broadcast was attempted; it never
// reflects how many clients received the event.
func (s *RelayApp) emit(w http.ResponseWriter, r *http.Request) {
	var req EmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJson(w, http.StatusBadRequest, EmitError{Error: "invalid request body"})
		return
	}

	if req.Room == "" || req.Event == "" {
		s.writeJson(w, http.StatusBadRequest, EmitError{Error: "Missing room or event"})
		return
	}

	event, err := protocol.ParseEvent(req.Event, req.Payload)
	if err != nil {
		s.log.Printf("rejecting emit: %v", err)
		s.writeJson(w, http.StatusBadRequest, EmitError{Error: err.Error()})
		return
	}

	result := s.rs.Broadcast(req.Room, event)
	s.log.Printf("emitted %q to room %q (%d attempted, %d failed)",
		req.Event, req.Room, result.Attempted, result.Failed)

	s.writeJson(w, http.StatusOK, EmitResponse{Ok: true})
}

func (s *RelayApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, "*") ||
				slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client, err := relay.NewClient(conn, s.rs, s.log)
	if err != nil {
		s.log.Println("error creating client:", err)
		conn.Close()
		return
	}

	// registration must complete before the read pump can deliver a join
	s.rs.Register(client)

	go client.Write()
	go client.Read()
}
