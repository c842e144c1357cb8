package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"custodia/internal/audit/models"
	"custodia/pkg/platform/sentinel"
)

// Memory keeps chains in process memory. It backs unit tests and local
// development; the conditional-append semantics match the durable backends
// exactly so services cannot tell them apart.
type Memory struct {
	mu     sync.RWMutex
	chains map[uuid.UUID][]models.Entry
}

func NewMemory() *Memory {
	return &Memory{chains: make(map[uuid.UUID][]models.Entry)}
}

func (s *Memory) GetTail(_ context.Context, tenantID uuid.UUID) (models.Tail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.chains[tenantID]
	if len(chain) == 0 {
		return models.Tail{}, sentinel.ErrNotFound
	}
	last := chain[len(chain)-1]
	return models.Tail{
		SequenceNumber: last.SequenceNumber,
		IntegrityHash:  last.IntegrityHash,
		CreatedAt:      last.CreatedAt,
	}, nil
}

func (s *Memory) Append(_ context.Context, entry models.Entry, expectedPreviousHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[entry.TenantID]
	tailHash := models.SentinelHash
	if len(chain) > 0 {
		tailHash = chain[len(chain)-1].IntegrityHash
	}
	if tailHash != expectedPreviousHash {
		return sentinel.ErrConflict
	}
	// Backstop mirroring the durable backends' uniqueness constraint on
	// (tenant_id, sequence_number).
	if entry.SequenceNumber != uint64(len(chain)) {
		return sentinel.ErrConflict
	}
	s.chains[entry.TenantID] = append(chain, cloneEntry(entry))
	return nil
}

func (s *Memory) ReadRange(_ context.Context, tenantID uuid.UUID, from, to uint64) ([]models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.chains[tenantID]
	var out []models.Entry
	for _, e := range chain {
		if e.SequenceNumber >= from && e.SequenceNumber <= to {
			out = append(out, cloneEntry(e))
		}
	}
	return out, nil
}

// Corrupt mutates a stored entry in place, simulating out-of-band tampering
// with the underlying storage. It exists only so verifier tests can break a
// chain; it is not part of the Store interface and nothing in the engine
// reaches it.
func (s *Memory) Corrupt(tenantID uuid.UUID, seq uint64, mutate func(*models.Entry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[tenantID]
	for i := range chain {
		if chain[i].SequenceNumber == seq {
			mutate(&chain[i])
			return true
		}
	}
	return false
}

// cloneEntry copies the metadata map so callers can never alias stored state.
func cloneEntry(e models.Entry) models.Entry {
	if e.Metadata != nil {
		m := make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			m[k] = v
		}
		e.Metadata = m
	}
	if e.LegalHoldID != nil {
		id := *e.LegalHoldID
		e.LegalHoldID = &id
	}
	return e
}
