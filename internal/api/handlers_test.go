package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sparkcart/order-relay/internal/config"
	"github.com/sparkcart/order-relay/internal/relay"
	"github.com/sparkcart/order-relay/internal/stats"
	"github.com/sparkcart/order-relay/internal/testutil"
	"github.com/sparkcart/order-relay/protocol"
	"github.com/sparkcart/order-relay/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// newTestApp wires a running relay behind an httptest server.
func newTestApp(t *testing.T, cfg *config.Config) (*relay.RelayServer, *httptest.Server) {
	if cfg == nil {
		cfg = &config.Config{ServerAddr: "localhost:0", AllowedOrigins: []string{"*"}}
	}

	mux := http.NewServeMux()

	// a real StatsUpdater registers a process-wide expvar map, so tests
	// share the mock instead
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Maybe()
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()
	su.On("Add", mock.Anything, mock.Anything).Maybe()

	rs, err := relay.NewRelayServer(testutil.TestLogger(t), su, relay.NewTokenVerifier(cfg.SigningKey))
	require.NoError(t, err, "failed to create relay server")
	go rs.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		rs.Shutdown(ctx)
	})

	app := NewRelayApp(mux, testutil.TestLogger(t), rs, cfg)
	ts := httptest.NewServer(app.mux.Handler)
	t.Cleanup(ts.Close)

	return rs, ts
}

func postEmit(t *testing.T, ts *httptest.Server, body string, headers map[string]string) (*http.Response, string) {
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/emit", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, string(raw)
}

func dialWs(t *testing.T, ts *httptest.Server) *websocket.Conn {
	wsUrl := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsUrl, nil)
	require.NoError(t, err, "failed to dial websocket endpoint")
	t.Cleanup(func() { conn.Close() })
	return conn
}

func joinOrderRoom(t *testing.T, conn *websocket.Conn, rs *relay.RelayServer, orderId string) {
	err := conn.WriteJSON(&protocol.ClientMessage{
		JoinOrderRoom: &protocol.JoinOrderRoom{OrderId: orderId},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return rs.RoomSize(orderId) == 1
	}, time.Second, 10*time.Millisecond, "expected join to be processed")
}

func readEvent(t *testing.T, conn *websocket.Conn) *protocol.EventMessage {
	conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg protocol.ServerMessage
	require.NoError(t, conn.ReadJSON(&msg), "expected an event before the read deadline")
	require.NotNil(t, msg.Event, "expected an event message, got %+v", msg)
	return msg.Event
}

func TestHealth(t *testing.T) {
	_, ts := newTestApp(t, nil)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Socket server is running", string(body))
}

func TestEmit_Validation(t *testing.T) {
	_, ts := newTestApp(t, nil)

	t.Run("missing room", func(t *testing.T) {
		resp, body := postEmit(t, ts, `{"event":"x"}`, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.JSONEq(t, `{"error":"Missing room or event"}`, body)
	})

	t.Run("missing event", func(t *testing.T) {
		resp, body := postEmit(t, ts, `{"room":"order-42"}`, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.JSONEq(t, `{"error":"Missing room or event"}`, body)
	})

	t.Run("unknown event name", func(t *testing.T) {
		resp, _ := postEmit(t, ts, `{"room":"order-42","event":"order:deleted","payload":{}}`, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "expected unknown event to be rejected")
	})

	t.Run("malformed payload", func(t *testing.T) {
		resp, _ := postEmit(t, ts, `{"room":"order-42","event":"order:updated","payload":{"orderId":"order-42"}}`, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "expected payload without status to be rejected")
	})

	t.Run("invalid body", func(t *testing.T) {
		resp, _ := postEmit(t, ts, `not json`, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestEmit_EmptyRoomSucceeds(t *testing.T) {
	_, ts := newTestApp(t, nil)

	resp, body := postEmit(t, ts, `{"room":"order-42","event":"order:updated","payload":{"status":"CONFIRMED"}}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "expected broadcast to an empty room to succeed")
	assert.JSONEq(t, `{"ok":true}`, body)
}

func TestEmit_TokenGuard(t *testing.T) {
	cfg := &config.Config{
		ServerAddr:     "localhost:0",
		AllowedOrigins: []string{"*"},
		EmitToken:      "s3cret",
	}
	_, ts := newTestApp(t, cfg)

	t.Run("missing token", func(t *testing.T) {
		resp, _ := postEmit(t, ts, `{"room":"order-42","event":"order:updated","payload":{"status":"CONFIRMED"}}`, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("wrong token", func(t *testing.T) {
		resp, _ := postEmit(t, ts, `{"room":"order-42","event":"order:updated","payload":{"status":"CONFIRMED"}}`,
			map[string]string{"Authorization": "Bearer nope"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("valid token", func(t *testing.T) {
		resp, body := postEmit(t, ts, `{"room":"order-42","event":"order:updated","payload":{"status":"CONFIRMED"}}`,
			map[string]string{"Authorization": "Bearer s3cret"})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"ok":true}`, body)
	})
}

func TestEndToEnd_OrderRoom(t *testing.T) {
	rs, ts := newTestApp(t, nil)

	conn := dialWs(t, ts)
	joinOrderRoom(t, conn, rs, "order-42")

	resp, _ := postEmit(t, ts, `{"room":"order-42","event":"order:updated","payload":{"status":"CONFIRMED"}}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	event := readEvent(t, conn)
	assert.Equal(t, protocol.EventOrderUpdated, event.Name)

	var p protocol.OrderUpdatedPayload
	require.NoError(t, json.Unmarshal(event.Payload, &p))
	assert.Equal(t, "CONFIRMED", p.Status)

	// exactly one event
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var extra protocol.ServerMessage
	assert.Error(t, conn.ReadJSON(&extra), "expected no further events")
}

func TestEndToEnd_AdminRoomOrdering(t *testing.T) {
	rs, ts := newTestApp(t, nil)

	conn := dialWs(t, ts)
	require.NoError(t, conn.WriteJSON(&protocol.ClientMessage{JoinAdminRoom: &protocol.JoinAdminRoom{}}))
	require.Eventually(t, func() bool {
		return rs.RoomSize(protocol.AdminRoom) == 1
	}, time.Second, 10*time.Millisecond)

	first, _ := postEmit(t, ts, `{"room":"admin_room","event":"order:updated","payload":{"orderId":"order-1","status":"CONFIRMED"}}`, nil)
	require.Equal(t, http.StatusOK, first.StatusCode)
	second, _ := postEmit(t, ts, `{"room":"admin_room","event":"order:new","payload":{"order":{"id":"order-2","status":"PENDING"}}}`, nil)
	require.Equal(t, http.StatusOK, second.StatusCode)

	assert.Equal(t, protocol.EventOrderUpdated, readEvent(t, conn).Name, "expected events in emission order")

	event := readEvent(t, conn)
	assert.Equal(t, protocol.EventOrderNew, event.Name)

	var p protocol.OrderNewPayload
	require.NoError(t, json.Unmarshal(event.Payload, &p))
	assert.Equal(t, "order-2", p.Order.Id())
	assert.Equal(t, []any{}, p.Order["timeline"], "expected timeline to be backfilled")
}

func TestEndToEnd_RoomIsolation(t *testing.T) {
	rs, ts := newTestApp(t, nil)

	orderConn := dialWs(t, ts)
	joinOrderRoom(t, orderConn, rs, "order-123")

	adminConn := dialWs(t, ts)
	require.NoError(t, adminConn.WriteJSON(&protocol.ClientMessage{JoinAdminRoom: &protocol.JoinAdminRoom{}}))
	require.Eventually(t, func() bool {
		return rs.RoomSize(protocol.AdminRoom) == 1
	}, time.Second, 10*time.Millisecond)

	resp, _ := postEmit(t, ts, `{"room":"order-123","event":"order:updated","payload":{"status":"CONFIRMED"}}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, protocol.EventOrderUpdated, readEvent(t, orderConn).Name)

	adminConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var msg protocol.ServerMessage
	assert.Error(t, adminConn.ReadJSON(&msg), "expected no delivery to the admin room")
}

func TestEndToEnd_DisconnectCleansUp(t *testing.T) {
	rs, ts := newTestApp(t, nil)

	conn := dialWs(t, ts)
	joinOrderRoom(t, conn, rs, "order-7")

	conn.Close()
	require.Eventually(t, func() bool {
		return rs.RoomSize("order-7") == 0
	}, time.Second, 10*time.Millisecond, "expected disconnect to remove the connection from its rooms")

	resp, body := postEmit(t, ts, `{"room":"order-7","event":"order:updated","payload":{"status":"CONFIRMED"}}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "expected broadcast after disconnect to succeed")
	assert.JSONEq(t, `{"ok":true}`, body)
}

func TestEndToEnd_JoinAuth(t *testing.T) {
	signingKey := []byte("0123456789abcdef0123456789abcdef")
	cfg := &config.Config{
		ServerAddr:     "localhost:0",
		AllowedOrigins: []string{"*"},
		SigningKey:     signingKey,
	}
	rs, ts := newTestApp(t, cfg)

	t.Run("join without token is rejected", func(t *testing.T) {
		conn := dialWs(t, ts)
		require.NoError(t, conn.WriteJSON(&protocol.ClientMessage{
			JoinOrderRoom: &protocol.JoinOrderRoom{OrderId: "order-42"},
		}))

		conn.SetReadDeadline(time.Now().Add(time.Second))
		var msg protocol.ServerMessage
		require.NoError(t, conn.ReadJSON(&msg))
		require.NotNil(t, msg.Response, "expected an error response")
		assert.Equal(t, http.StatusUnauthorized, msg.Response.ResponseCode)
		assert.Equal(t, 0, rs.RoomSize("order-42"), "expected no membership without a token")
	})

	t.Run("join with valid token", func(t *testing.T) {
		tok, err := token.ForOrder("order-42", signingKey, time.Minute)
		require.NoError(t, err)

		conn := dialWs(t, ts)
		require.NoError(t, conn.WriteJSON(&protocol.ClientMessage{
			JoinOrderRoom: &protocol.JoinOrderRoom{OrderId: "order-42", Token: tok},
		}))

		require.Eventually(t, func() bool {
			return rs.RoomSize("order-42") == 1
		}, time.Second, 10*time.Millisecond, "expected authorized join to be processed")
	})
}
