// Package client implements the browser-side subscription helper: it owns
// one connection to the relay for the lifetime of a view, joins the view's
// room, dispatches received events to registered handlers, and re-joins
// automatically after a dropped connection.
package client

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sparkcart/order-relay/protocol"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	default:
		return "disconnected"
	}
}

const (
	defaultReconnectAttempts = 10
	defaultInitialDelay      = time.Second
)

// Handler receives a broadcast event. The payload is a hint: callers are
// expected to re-fetch authoritative state through their ordinary read
// path.
type Handler func(*protocol.Event)

type Config struct {
	// URL of the relay's websocket endpoint, e.g. ws://localhost:4000/ws.
	URL string
	// Room to join: an order id, or protocol.AdminRoom.
	Room string
	// Token is the optional join token for relays with join auth enabled.
	Token string
	// ReconnectAttempts bounds reconnection per dropped connection.
	// Exhausting it leaves the subscriber permanently disconnected.
	ReconnectAttempts uint64
	// InitialDelay seeds the exponential reconnect backoff.
	InitialDelay time.Duration
	Logger       *log.Logger
}

// Subscriber manages one connection's lifecycle: Disconnected until Start,
// Connecting while dialing, Joined once the join request has been sent.
type Subscriber struct {
	url          string
	room         string
	token        string
	log          *log.Logger
	dialer       *websocket.Dialer
	maxAttempts  uint64
	initialDelay time.Duration

	mu       sync.Mutex
	handlers map[string]Handler
	state    State
	conn     *websocket.Conn
	closed   bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSubscriber(cfg Config) (*Subscriber, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("relay URL cannot be empty")
	}
	if cfg.Room == "" {
		return nil, fmt.Errorf("room cannot be empty")
	}

	if cfg.ReconnectAttempts == 0 {
		cfg.ReconnectAttempts = defaultReconnectAttempts
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = defaultInitialDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[subscriber] ", log.LstdFlags)
	}

	return &Subscriber{
		url:          cfg.URL,
		room:         cfg.Room,
		token:        cfg.Token,
		log:          cfg.Logger,
		dialer:       websocket.DefaultDialer,
		maxAttempts:  cfg.ReconnectAttempts,
		initialDelay: cfg.InitialDelay,
		handlers:     make(map[string]Handler),
		state:        StateDisconnected,
		done:         make(chan struct{}),
	}, nil
}

// On registers a handler for an event name. Register before Start.
func (s *Subscriber) On(event string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = h
}

func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start connects in the background. It returns immediately; connection and
// join progress is observable via State.
func (s *Subscriber) Start() {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.closed || s.cancel != nil {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(ctx)
}

func (s *Subscriber) run(ctx context.Context) {
	defer close(s.done)

	for {
		conn, err := s.connect(ctx)
		if err != nil {
			s.setState(StateDisconnected)
			if ctx.Err() == nil {
				s.log.Printf("reconnect attempts exhausted: %v", err)
			}
			return
		}

		if err := s.join(conn); err != nil {
			s.log.Printf("join room %q: %v", s.room, err)
			conn.Close()
			s.setState(StateDisconnected)
			if ctx.Err() != nil {
				return
			}
			continue
		}

		s.setConn(conn)
		s.setState(StateJoined)

		s.listen(conn)

		s.setConn(nil)
		s.setState(StateDisconnected)

		if ctx.Err() != nil {
			return
		}

		s.log.Println("connection lost, reconnecting")
	}
}

// connect dials the relay with bounded exponential backoff. The attempt
// budget is per dropped connection; it resets on every successful dial.
func (s *Subscriber) connect(ctx context.Context) (*websocket.Conn, error) {
	s.setState(StateConnecting)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.initialDelay

	var conn *websocket.Conn
	op := func() error {
		c, resp, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			if resp != nil {
				err = fmt.Errorf("%w (status %s)", err, resp.Status)
			}
			s.log.Printf("dial %s: %v", s.url, err)
			return err
		}

		conn = c
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, s.maxAttempts), ctx)); err != nil {
		return nil, err
	}

	return conn, nil
}

// join emits the join-room request. Join state is not preserved
// server-side across a dropped connection, so this runs after every dial.
func (s *Subscriber) join(conn *websocket.Conn) error {
	var msg protocol.ClientMessage
	if s.room == protocol.AdminRoom {
		msg.JoinAdminRoom = &protocol.JoinAdminRoom{Token: s.token}
	} else {
		msg.JoinOrderRoom = &protocol.JoinOrderRoom{OrderId: s.room, Token: s.token}
	}

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(&msg)
}

func (s *Subscriber) listen(conn *websocket.Conn) {
	for {
		var msg protocol.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			conn.Close()
			return
		}

		switch {
		case msg.Event != nil:
			event, err := protocol.ParseEvent(msg.Event.Name, msg.Event.Payload)
			if err != nil {
				s.log.Printf("discarding event: %v", err)
				continue
			}
			s.dispatch(event)
		case msg.Response != nil && msg.Response.Error != "":
			s.log.Printf("relay error %d: %s", msg.Response.ResponseCode, msg.Response.Error)
		}
	}
}

// dispatch runs the handler under the subscriber's lock: Close acquires
// the same lock, so no handler fires after Close returns. Handlers must
// not call back into the subscriber.
func (s *Subscriber) dispatch(event *protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if h, ok := s.handlers[event.Name]; ok {
		h(event)
	}
}

func (s *Subscriber) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.state = state
}

func (s *Subscriber) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

// Close leaves the room best-effort, tears down the connection, cancels
// any pending reconnect and waits for the background loop to exit.
// Idempotent; terminal.
func (s *Subscriber) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StateDisconnected

	conn := s.conn
	cancel := s.cancel
	started := cancel != nil
	s.mu.Unlock()

	if conn != nil {
		if s.room != protocol.AdminRoom {
			leave := protocol.ClientMessage{LeaveOrderRoom: &protocol.LeaveOrderRoom{OrderId: s.room}}
			conn.SetWriteDeadline(time.Now().Add(time.Second))
			if err := conn.WriteJSON(&leave); err != nil {
				s.log.Printf("leave room %q: %v", s.room, err)
			}
		}
		conn.Close()
	}

	if started {
		cancel()
		<-s.done
	}
}
