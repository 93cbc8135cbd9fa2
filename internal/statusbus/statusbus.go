// Package statusbus publishes periodic proxy status snapshots and
// per-frame drop events to Redis (spec A5), so an external operator GUI
// or log aggregator can observe the running proxy without touching its
// hot path.
//
// Grounded on librescoot-bluetooth-service/pkg/redis/client.go: a thin
// wrapper over github.com/redis/go-redis/v9 exposing snapshot and event
// publish helpers. Snapshots and events are CBOR-encoded with
// github.com/fxamacker/cbor/v2.
package statusbus

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

const (
	// StatusChannel carries periodic StatusSnapshot publications.
	StatusChannel = "delay-proxy:status"
	// EventChannel carries per-frame drop/lifecycle events.
	EventChannel = "delay-proxy:events"
)

// Snapshot is the CBOR wire shape published to StatusChannel. It mirrors
// a point-in-time read of the proxy's counters; it is never persisted.
type Snapshot struct {
	Produced    uint64  `cbor:"produced"`
	Consumed    uint64  `cbor:"consumed"`
	Dropped     uint64  `cbor:"dropped"`
	QueueLength int     `cbor:"queue_length"`
	HoldSeconds float64 `cbor:"hold_seconds"`
	State       string  `cbor:"state"`
}

// Event is the CBOR wire shape published to EventChannel for a single
// per-frame drop or connection-lifecycle occurrence.
type Event struct {
	Reason string `cbor:"reason"`
	Remote string `cbor:"remote,omitempty"`
}

// Client wraps a Redis connection used only to publish status data. A
// nil *Client is valid and every method is then a no-op, so the status
// bus can be entirely absent when redis_addr is unconfigured (spec
// §4.11: "Redis is optional").
type Client struct {
	rdb *redis.Client
}

// New dials addr and pings it once to fail fast on a bad configuration.
// Pass "" to get a nil *Client (status bus disabled).
func New(addr, password string, db int) (*Client, error) {
	if addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("statusbus: connect: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// PublishSnapshot CBOR-encodes snap and publishes it to StatusChannel.
func (c *Client) PublishSnapshot(ctx context.Context, snap Snapshot) error {
	if c == nil {
		return nil
	}
	b, err := cbor.Marshal(snap)
	if err != nil {
		return fmt.Errorf("statusbus: encode snapshot: %w", err)
	}
	return c.rdb.Publish(ctx, StatusChannel, b).Err()
}

// PublishEvent CBOR-encodes ev and publishes it to EventChannel.
func (c *Client) PublishEvent(ctx context.Context, ev Event) error {
	if c == nil {
		return nil
	}
	b, err := cbor.Marshal(ev)
	if err != nil {
		return fmt.Errorf("statusbus: encode event: %w", err)
	}
	return c.rdb.Publish(ctx, EventChannel, b).Err()
}

// Close releases the underlying Redis connection, if any.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}
