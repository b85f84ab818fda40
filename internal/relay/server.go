package relay

import (
	"context"
	"log"

	"github.com/sparkcart/order-relay/internal/stats"
	"github.com/sparkcart/order-relay/protocol"
)

type registerReq struct {
	client *Client
	done   chan struct{}
}

type joinReq struct {
	client *Client
	room   string
}

type leaveReq struct {
	client *Client
	room   string
}

// BroadcastResult reports how many pushes were attempted for a broadcast
// and how many could not be queued.
type BroadcastResult struct {
	Attempted int
	Failed    int
}

type broadcastReq struct {
	room  string
	event *protocol.Event
	done  chan BroadcastResult
}

type sizeReq struct {
	room string
	done chan int
}

type stopReq struct {
	done chan struct{}
}

// RelayServer tracks live connections and room membership and routes
// broadcast events to room members. All state is mutated by the single
// Run goroutine; connections, rooms and events are in-memory only and
// scoped to the process lifetime.
type RelayServer struct {
	log            *log.Logger
	stats          stats.StatsProvider
	verifier       *TokenVerifier
	registerChan   chan registerReq
	deregisterChan chan *Client
	joinChan       chan joinReq
	leaveChan      chan leaveReq
	broadcastChan  chan *broadcastReq
	sizeChan       chan sizeReq
	clients        map[*Client]struct{}
	rooms          map[string]map[*Client]struct{}
	stop           chan stopReq
	done           chan struct{}
}

func NewRelayServer(logger *log.Logger, su stats.StatsProvider, verifier *TokenVerifier) (*RelayServer, error) {
	for _, name := range []string{
		stats.NumConnections,
		stats.NumRooms,
		stats.EventsEmitted,
		stats.EventsDelivered,
		stats.DeliveryFailures,
	} {
		su.RegisterMetric(name)
	}

	return &RelayServer{
		log:            logger,
		stats:          su,
		verifier:       verifier,
		registerChan:   make(chan registerReq),
		deregisterChan: make(chan *Client, 64),
		joinChan:       make(chan joinReq, 256),
		leaveChan:      make(chan leaveReq, 256),
		broadcastChan:  make(chan *broadcastReq, 256),
		sizeChan:       make(chan sizeReq),
		clients:        make(map[*Client]struct{}),
		rooms:          make(map[string]map[*Client]struct{}),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
	}, nil
}

func (rs *RelayServer) Run() {
	for {
		select {
		case req := <-rs.registerChan:
			rs.addClient(req.client)
			close(req.done)
		case client := <-rs.deregisterChan:
			rs.removeClient(client)
		case req := <-rs.joinChan:
			rs.handleJoin(req)
		case req := <-rs.leaveChan:
			rs.handleLeave(req)
		case req := <-rs.broadcastChan:
			req.done <- rs.handleBroadcast(req)
		case req := <-rs.sizeChan:
			req.done <- len(rs.rooms[req.room])
		case req := <-rs.stop:
			rs.log.Println("stopping relay")
			for c := range rs.clients {
				c.stopClient()
			}
			close(rs.done)
			close(req.done)
			return
		}
	}
}

// Register records a new connection and returns once the run loop has
// processed it. The caller must not start the connection's read pump
// before Register returns: a join read off the wire would otherwise race
// the queued registration and be dropped.
func (rs *RelayServer) Register(c *Client) {
	req := registerReq{client: c, done: make(chan struct{})}

	select {
	case rs.registerChan <- req:
	case <-rs.done:
		return
	}

	select {
	case <-req.done:
	case <-rs.done:
	}
}

// deregister hands the connection to the run loop for removal. The send
// blocks so membership is always released; a stopped relay has no state
// left to release.
func (rs *RelayServer) deregister(c *Client) {
	select {
	case rs.deregisterChan <- c:
	case <-rs.done:
	}
}

// Broadcast pushes an event to every current member of room and returns
// once the push has been attempted on each. An empty room is not an error;
// the event is simply dropped.
func (rs *RelayServer) Broadcast(room string, event *protocol.Event) BroadcastResult {
	done := make(chan BroadcastResult, 1)
	rs.broadcastChan <- &broadcastReq{room: room, event: event, done: done}
	return <-done
}

// RoomSize reports the current number of members in room.
func (rs *RelayServer) RoomSize(room string) int {
	done := make(chan int, 1)
	rs.sizeChan <- sizeReq{room: room, done: done}
	return <-done
}

// authorizeJoin checks the join token for a room. With no verifier
// configured every join is permitted.
func (rs *RelayServer) authorizeJoin(room, token string) error {
	if rs.verifier == nil {
		return nil
	}

	return rs.verifier.Authorize(room, token)
}

func (rs *RelayServer) addClient(c *Client) {
	if _, ok := rs.clients[c]; ok {
		return
	}

	rs.log.Printf("connection %s registered", c.id)
	rs.clients[c] = struct{}{}
	rs.stats.Incr(stats.NumConnections)
}

// removeClient deregisters a connection, removing it from every room it
// joined. Safe to call more than once.
func (rs *RelayServer) removeClient(c *Client) {
	if _, ok := rs.clients[c]; !ok {
		return
	}

	for room := range c.rooms {
		rs.removeFromRoom(c, room)
	}

	delete(rs.clients, c)
	rs.stats.Decr(stats.NumConnections)
	rs.log.Printf("connection %s deregistered", c.id)
}

func (rs *RelayServer) handleJoin(req joinReq) {
	if _, ok := rs.clients[req.client]; !ok {
		rs.log.Printf("join from unregistered connection %s rejected", req.client.id)
		req.client.queueMessage(errServiceUnavailable())
		return
	}

	members, ok := rs.rooms[req.room]
	if !ok {
		members = make(map[*Client]struct{})
		rs.rooms[req.room] = members
		rs.stats.Incr(stats.NumRooms)
	}

	if _, ok := members[req.client]; ok {
		// joining a room already joined is a no-op
		return
	}

	members[req.client] = struct{}{}
	req.client.rooms[req.room] = struct{}{}
	rs.log.Printf("connection %s joined room %q", req.client.id, req.room)
}

func (rs *RelayServer) handleLeave(req leaveReq) {
	rs.removeFromRoom(req.client, req.room)
}

func (rs *RelayServer) removeFromRoom(c *Client, room string) {
	members, ok := rs.rooms[room]
	if !ok {
		return
	}

	if _, ok := members[c]; !ok {
		return
	}

	delete(members, c)
	delete(c.rooms, room)
	rs.log.Printf("connection %s left room %q", c.id, room)

	if len(members) == 0 {
		delete(rs.rooms, room)
		rs.stats.Decr(stats.NumRooms)
	}
}

func (rs *RelayServer) handleBroadcast(req *broadcastReq) BroadcastResult {
	rs.stats.Incr(stats.EventsEmitted)

	members := rs.rooms[req.room]
	if len(members) == 0 {
		return BroadcastResult{}
	}

	msg, err := req.event.Message()
	if err != nil {
		rs.log.Printf("serialize event %q: %v", req.event.Name, err)
		return BroadcastResult{}
	}

	result := BroadcastResult{Attempted: len(members)}
	for c := range members {
		if !c.queueMessage(&protocol.ServerMessage{Event: msg}) {
			rs.log.Printf("dropping %q for connection %s", msg.Name, c.id)
			result.Failed++
		}
	}

	rs.stats.Add(stats.EventsDelivered, result.Attempted-result.Failed)
	rs.stats.Add(stats.DeliveryFailures, result.Failed)

	return result
}

// Shutdown stops the run loop after closing every client connection.
func (rs *RelayServer) Shutdown(ctx context.Context) error {
	req := stopReq{done: make(chan struct{})}

	select {
	case rs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
