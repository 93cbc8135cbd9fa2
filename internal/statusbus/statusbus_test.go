package statusbus

import (
	"context"
	"testing"
)

func TestNewWithEmptyAddrReturnsNilClient(t *testing.T) {
	c, err := New("", "", 0)
	if err != nil {
		t.Fatalf("New(\"\"): %v", err)
	}
	if c != nil {
		t.Fatalf("New(\"\") client = %v, want nil", c)
	}
}

func TestNilClientMethodsAreNoOps(t *testing.T) {
	var c *Client
	if err := c.PublishSnapshot(context.Background(), Snapshot{}); err != nil {
		t.Fatalf("PublishSnapshot on nil client: %v", err)
	}
	if err := c.PublishEvent(context.Background(), Event{Reason: "crc_mismatch"}); err != nil {
		t.Fatalf("PublishEvent on nil client: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close on nil client: %v", err)
	}
}
