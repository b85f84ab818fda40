// Package notify is the best-effort side channel backend order logic uses
// to request a broadcast after its durable write has committed. Failures
// are logged and swallowed: a missed notification must never roll back or
// block the business transaction, since the authoritative record lives in
// the durable store and is reachable via the ordinary read path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sparkcart/order-relay/protocol"
)

const defaultTimeout = 3 * time.Second

type Notifier struct {
	baseURL   string
	client    *http.Client
	log       *log.Logger
	emitToken string
}

type Option func(*Notifier)

func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.client = c }
}

func WithLogger(l *log.Logger) Option {
	return func(n *Notifier) { n.log = l }
}

// WithEmitToken sets the bearer token for relays that guard /emit.
func WithEmitToken(token string) Option {
	return func(n *Notifier) { n.emitToken = token }
}

func NewNotifier(baseURL string, opts ...Option) *Notifier {
	n := &Notifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
		log:     log.New(os.Stderr, "[notify] ", log.LstdFlags),
	}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

type emitRequest struct {
	Room    string `json:"room"`
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// Notify posts a broadcast request to the relay's /emit endpoint. It never
// returns an error: an unreachable relay, a timeout or a rejected request
// is a warning, not a failure of the caller's transaction.
func (n *Notifier) Notify(ctx context.Context, room, event string, payload any) {
	body, err := json.Marshal(emitRequest{Room: room, Event: event, Payload: payload})
	if err != nil {
		n.log.Printf("warning: marshal emit request: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/emit", bytes.NewReader(body))
	if err != nil {
		n.log.Printf("warning: build emit request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if n.emitToken != "" {
		req.Header.Set("Authorization", "Bearer "+n.emitToken)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Printf("warning: emit %q to room %q failed: %v", event, room, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		n.log.Printf("warning: emit %q to room %q: relay returned %s", event, room, resp.Status)
	}
}

// OrderCreated notifies the admin dashboard of a newly created order.
func (n *Notifier) OrderCreated(ctx context.Context, order protocol.OrderSnapshot) {
	n.Notify(ctx, protocol.AdminRoom, protocol.EventOrderNew, protocol.OrderNewPayload{Order: order})
}

// OrderStatusChanged notifies the customer watching the order and the admin
// dashboard. Each leg is independently best-effort.
func (n *Notifier) OrderStatusChanged(ctx context.Context, orderId, status string) {
	n.Notify(ctx, orderId, protocol.EventOrderUpdated, protocol.OrderUpdatedPayload{Status: status})
	n.Notify(ctx, protocol.AdminRoom, protocol.EventOrderUpdated, protocol.OrderUpdatedPayload{OrderId: orderId, Status: status})
}
