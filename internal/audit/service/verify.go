package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"custodia/internal/audit/canonical"
	"custodia/internal/audit/models"
	"custodia/pkg/platform/sentinel"
)

// Verify walks entries from..to (inclusive), recomputing each integrity hash
// from the running previous hash and checking sequence contiguity and tenant
// exclusivity. It is read-only and idempotent: repeating it on an unchanged
// chain yields the same result. A broken result is never repaired here or
// anywhere else; it is evidence for out-of-band investigation.
func (r *Recorder) Verify(ctx context.Context, tenantID uuid.UUID, from, to uint64) (models.VerificationResult, error) {
	ctx, span := r.tracer.Start(ctx, "audit.Verify",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID.String()),
			attribute.Int64("from_seq", int64(from)),
			attribute.Int64("to_seq", int64(to)),
		))
	defer span.End()

	start := r.now()
	result, _, err := r.verifyRange(ctx, tenantID, from, to)
	if err != nil {
		return models.VerificationResult{}, err
	}
	r.metrics.ObserveVerify(r.now().Sub(start))
	if result.Valid {
		r.metrics.IncVerification("valid")
	} else {
		r.metrics.IncVerification("broken")
		r.logger.ErrorContext(ctx, "audit chain broken",
			"tenant_id", tenantID,
			"sequence_number", result.Broken.SequenceNumber,
			"reason", result.Broken.Reason,
		)
	}
	return result, nil
}

// VerifyToTail verifies from the given sequence through the current tail.
func (r *Recorder) VerifyToTail(ctx context.Context, tenantID uuid.UUID, from uint64) (models.VerificationResult, error) {
	tail, err := r.store.GetTail(ctx, tenantID)
	if errors.Is(err, sentinel.ErrNotFound) {
		// An empty chain has nothing to contradict.
		return models.VerificationResult{TenantID: tenantID, Valid: true}, nil
	}
	if err != nil {
		return models.VerificationResult{}, fmt.Errorf("read tail for tenant %s: %w", tenantID, err)
	}
	return r.Verify(ctx, tenantID, from, tail.SequenceNumber)
}

// VerifyAll verifies several tenants' full chains concurrently. Tenants are
// fully independent, so this shards cleanly.
func (r *Recorder) VerifyAll(ctx context.Context, tenantIDs []uuid.UUID) (map[uuid.UUID]models.VerificationResult, error) {
	results := make(map[uuid.UUID]models.VerificationResult, len(tenantIDs))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for _, tenantID := range tenantIDs {
		g.Go(func() error {
			result, err := r.VerifyToTail(ctx, tenantID, 0)
			if err != nil {
				return err
			}
			mu.Lock()
			results[tenantID] = result
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// verifyRange returns the verification result together with the fetched
// entries and boundary previous hash so Export can reuse them without a
// second read.
func (r *Recorder) verifyRange(ctx context.Context, tenantID uuid.UUID, from, to uint64) (models.VerificationResult, rangeState, error) {
	result := models.VerificationResult{TenantID: tenantID, FromSeq: from, ToSeq: to}
	if to < from {
		return result, rangeState{}, fmt.Errorf("invalid range: to_seq %d precedes from_seq %d", to, from)
	}

	// Fetch the predecessor alongside the range to establish the expected
	// starting previous hash; for from = 0 the sentinel anchors the walk.
	fetchFrom := from
	if from > 0 {
		fetchFrom = from - 1
	}
	fetched, err := r.store.ReadRange(ctx, tenantID, fetchFrom, to)
	if err != nil {
		return result, rangeState{}, fmt.Errorf("read range for tenant %s: %w", tenantID, err)
	}

	expectedPrev := models.SentinelHash
	entries := fetched
	if from > 0 {
		if len(fetched) == 0 || fetched[0].SequenceNumber != from-1 {
			result.Broken = &models.BreakPoint{SequenceNumber: from, Reason: models.BreakSequenceGap}
			return result, rangeState{}, nil
		}
		expectedPrev = fetched[0].IntegrityHash
		entries = fetched[1:]
	}
	boundary := expectedPrev

	expectedSeq := from
	for _, entry := range entries {
		if entry.TenantID != tenantID {
			result.Broken = &models.BreakPoint{SequenceNumber: entry.SequenceNumber, Reason: models.BreakTenantMismatch}
			return result, rangeState{}, nil
		}
		if entry.SequenceNumber != expectedSeq {
			result.Broken = &models.BreakPoint{SequenceNumber: expectedSeq, Reason: models.BreakSequenceGap}
			return result, rangeState{}, nil
		}
		if entry.PreviousHash != expectedPrev {
			result.Broken = &models.BreakPoint{SequenceNumber: entry.SequenceNumber, Reason: models.BreakHashMismatch}
			return result, rangeState{}, nil
		}
		recomputed, err := canonical.EntryHash(r.alg, entry)
		if err != nil {
			// A stored entry that no longer canonicalizes has been tampered
			// with; report it as a mismatch rather than an engine error.
			result.Broken = &models.BreakPoint{SequenceNumber: entry.SequenceNumber, Reason: models.BreakHashMismatch}
			return result, rangeState{}, nil
		}
		if recomputed != entry.IntegrityHash {
			result.Broken = &models.BreakPoint{SequenceNumber: entry.SequenceNumber, Reason: models.BreakHashMismatch}
			return result, rangeState{}, nil
		}
		expectedPrev = entry.IntegrityHash
		expectedSeq++
	}
	if expectedSeq != to+1 {
		result.Broken = &models.BreakPoint{SequenceNumber: expectedSeq, Reason: models.BreakSequenceGap}
		return result, rangeState{}, nil
	}

	result.Valid = true
	return result, rangeState{entries: entries, boundaryHash: boundary}, nil
}

type rangeState struct {
	entries      []models.Entry
	boundaryHash string
}
