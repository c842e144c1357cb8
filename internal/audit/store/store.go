// Package store persists per-tenant audit chains. Implementations expose
// append and read operations only; the absence of update and delete is how
// the engine keeps entries immutable, rather than checking a flag at write
// time.
package store

import (
	"context"

	"github.com/google/uuid"

	"custodia/internal/audit/models"
)

// Store is the append-only chain storage contract. All state is partitioned
// by tenant; implementations never coordinate across tenants.
//
// Append commits the entry only if the stored tail's integrity hash still
// equals expectedPreviousHash at commit time. On a lost race it returns
// sentinel.ErrConflict and writes nothing: no partial entries, no duplicate
// sequence numbers, ever. That single conditional-write primitive is what
// prevents forked histories under concurrent writers.
type Store interface {
	// GetTail returns the tenant's current linkage point, or
	// sentinel.ErrNotFound if the chain is empty.
	GetTail(ctx context.Context, tenantID uuid.UUID) (models.Tail, error)

	// Append conditionally commits one entry. Returns sentinel.ErrConflict
	// if expectedPreviousHash no longer matches the tail.
	Append(ctx context.Context, entry models.Entry, expectedPreviousHash string) error

	// ReadRange returns committed entries with from <= sequence_number <= to,
	// ordered by sequence number. Reads never observe partial writes.
	ReadRange(ctx context.Context, tenantID uuid.UUID, from, to uint64) ([]models.Entry, error)
}
