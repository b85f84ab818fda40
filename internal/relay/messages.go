package relay

import (
	"net/http"

	"github.com/sparkcart/order-relay/protocol"
)

func errInvalidMessage() *protocol.ServerMessage {
	return &protocol.ServerMessage{
		Response: &protocol.Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}
}

func errUnauthorized() *protocol.ServerMessage {
	return &protocol.ServerMessage{
		Response: &protocol.Response{
			ResponseCode: http.StatusUnauthorized,
			Error:        "unauthorized",
		},
	}
}

func errServiceUnavailable() *protocol.ServerMessage {
	return &protocol.ServerMessage{
		Response: &protocol.Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}
