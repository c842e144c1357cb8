// Package notify publishes append notifications for downstream consumers.
// The engine treats notification as fire-and-forget: a committed entry is the
// source of truth, and a lost notification never fails or rolls back an
// append.
package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Notice describes one committed entry. It intentionally carries linkage
// data only, never payload metadata, so consumers cannot treat the bus as an
// audit source.
type Notice struct {
	TenantID       uuid.UUID `json:"tenant_id"`
	SequenceNumber uint64    `json:"sequence_number"`
	IntegrityHash  string    `json:"integrity_hash"`
	EventType      string    `json:"event_type"`
	CorrelationID  string    `json:"correlation_id,omitempty"`
}

// Notifier receives a notice after each successful append.
type Notifier interface {
	EntryAppended(ctx context.Context, notice Notice) error
}

// Noop discards notices. Used when no broker is configured.
type Noop struct{}

func (Noop) EntryAppended(context.Context, Notice) error { return nil }

// Capture records notices in memory for tests.
type Capture struct {
	mu      sync.Mutex
	notices []Notice
}

func (c *Capture) EntryAppended(_ context.Context, notice Notice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notices = append(c.notices, notice)
	return nil
}

func (c *Capture) Notices() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notice{}, c.notices...)
}
