// Package hub fans out consumed frames to every connected egress client,
// applying a backpressure policy when a client can't keep up.
//
// Adapted from the teacher's internal/hub package: same registration/
// broadcast/snapshot shape, generalized from can.Frame to an opaque
// []byte payload since the delay proxy forwards raw message bodies, not
// decoded CAN frames.
package hub

import (
	"sync"

	"github.com/dschor5/delayproxy/internal/logging"
	"github.com/dschor5/delayproxy/internal/metrics"
)

// Policy selects what happens to a client whose outbound buffer is full.
type Policy int

const (
	// PolicyDrop discards the frame and leaves the slow client connected.
	PolicyDrop Policy = iota
	// PolicyKick disconnects the slow client instead of dropping frames.
	PolicyKick
)

// Client is one egress connection's outbound channel.
type Client struct {
	Out       chan []byte
	Closed    chan struct{}
	closeOnce sync.Once
}

// NewClient returns a Client with the given outbound buffer size.
func NewClient(bufSize int) *Client {
	return &Client{Out: make(chan []byte, bufSize), Closed: make(chan struct{})}
}

// Close signals the client is closed. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.Closed) })
}

// Hub tracks connected egress clients and broadcasts frames to all of them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	Policy  Policy
}

// New creates an empty Hub with the given backpressure policy.
func New(policy Policy) *Hub {
	return &Hub{clients: make(map[*Client]struct{}), Policy: policy}
}

// Add registers a client with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	prev := len(h.clients)
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	metrics.SetHubClients(cur)
	if prev == 0 && cur == 1 {
		logging.L().Info("egress_clients_first_connected")
	}
}

// Remove unregisters a client; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	if existed {
		delete(h.clients, c)
	}
	cur := len(h.clients)
	h.mu.Unlock()
	c.Close()
	metrics.SetHubClients(cur)
	if existed && cur == 0 {
		logging.L().Info("egress_clients_last_disconnected")
	}
}

// Broadcast sends payload to every connected client, honoring the
// backpressure policy for clients whose outbound buffer is full.
func (h *Hub) Broadcast(payload []byte) {
	clients := h.Snapshot()
	metrics.SetBroadcastFanout(len(clients))
	for _, c := range clients {
		select {
		case c.Out <- payload:
		default:
			if h.Policy == PolicyKick {
				metrics.IncHubKick()
				c.Close()
			} else {
				metrics.IncHubDrop()
			}
		}
	}
}

// Snapshot returns a slice copy of the currently connected clients.
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

// Count returns the number of active clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
