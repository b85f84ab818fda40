package relay

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sparkcart/order-relay/protocol"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// Client is one live transport session from one browser tab. The rooms map
// records which rooms the connection has joined and is mutated only by the
// relay's run goroutine.
type Client struct {
	id        string
	conn      *websocket.Conn
	relay     *RelayServer
	log       *log.Logger
	createdAt time.Time
	send      chan *protocol.ServerMessage
	rooms     map[string]struct{}
	stop      chan struct{}
	stopOnce  sync.Once
}

func NewClient(conn *websocket.Conn, rs *RelayServer, l *log.Logger) (*Client, error) {
	id, err := shortid.Generate()
	if err != nil {
		return nil, err
	}

	return &Client{
		id:        id,
		conn:      conn,
		relay:     rs,
		log:       l,
		createdAt: time.Now().UTC(),
		send:      make(chan *protocol.ServerMessage, 256),
		rooms:     make(map[string]struct{}),
		stop:      make(chan struct{}),
	}, nil
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg protocol.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(errInvalidMessage())
			continue
		}

		switch {
		case msg.JoinOrderRoom != nil:
			c.joinRoom(msg.JoinOrderRoom.OrderId, msg.JoinOrderRoom.Token)
		case msg.JoinAdminRoom != nil:
			c.joinRoom(protocol.AdminRoom, msg.JoinAdminRoom.Token)
		case msg.LeaveOrderRoom != nil:
			c.leaveRoom(msg.LeaveOrderRoom.OrderId)
		default:
			c.queueMessage(errInvalidMessage())
		}
	}
}

func (c *Client) joinRoom(room, token string) {
	if room == "" {
		c.queueMessage(errInvalidMessage())
		return
	}

	if err := c.relay.authorizeJoin(room, token); err != nil {
		c.log.Printf("unauthorized join to %q from connection %s: %v", room, c.id, err)
		c.queueMessage(errUnauthorized())
		return
	}

	select {
	case c.relay.joinChan <- joinReq{client: c, room: room}:
	default:
		c.log.Println("join channel full")
		c.queueMessage(errServiceUnavailable())
	}
}

func (c *Client) leaveRoom(room string) {
	if room == "" {
		c.queueMessage(errInvalidMessage())
		return
	}

	select {
	case c.relay.leaveChan <- leaveReq{client: c, room: room}:
	default:
		c.log.Println("leave channel full")
		c.queueMessage(errServiceUnavailable())
	}
}

// queueMessage attempts a non-blocking push onto the client's send buffer.
// Delivery is best-effort: a full buffer drops the message.
func (c *Client) queueMessage(msg *protocol.ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("send buffer full for connection %s", c.id)
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.relay.deregister(c)
	c.stopClient()
}
