package service

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"custodia/internal/audit/models"
)

// Export produces a self-describing bundle of a verified contiguous range
// for external submission. The range must verify first; a broken range is
// refused with *models.UnverifiedRangeError and nothing is exported.
//
// The bundle digest is
//
//	Hash(hash(from) || ... || hash(to) || tenant_id || exported_at)
//
// over the raw digest bytes, the 16 tenant UUID bytes, and the export
// timestamp as big-endian unix nanoseconds. Given the same exported_at an
// unchanged chain reproduces the same ExportHash. The exact layout is a
// local convention, not a cross-system contract; it is documented here so a
// relying party can recompute it.
func (r *Recorder) Export(ctx context.Context, tenantID uuid.UUID, from, to uint64) (models.Bundle, error) {
	ctx, span := r.tracer.Start(ctx, "audit.Export",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID.String()),
			attribute.Int64("from_seq", int64(from)),
			attribute.Int64("to_seq", int64(to)),
		))
	defer span.End()

	result, state, err := r.verifyRange(ctx, tenantID, from, to)
	if err != nil {
		return models.Bundle{}, err
	}
	if !result.Valid {
		r.metrics.IncVerification("broken")
		return models.Bundle{}, &models.UnverifiedRangeError{Break: *result.Broken}
	}
	r.metrics.IncVerification("valid")

	exportedAt := r.now().UTC().Truncate(0)
	h := r.alg.New()
	for _, entry := range state.entries {
		digest, err := hex.DecodeString(entry.IntegrityHash)
		if err != nil {
			return models.Bundle{}, fmt.Errorf("malformed integrity hash at sequence %d: %w", entry.SequenceNumber, err)
		}
		h.Write(digest)
	}
	h.Write(tenantID[:])
	h.Write(binary.BigEndian.AppendUint64(nil, uint64(exportedAt.UnixNano())))

	bundle := models.Bundle{
		TenantID:     tenantID,
		FromSeq:      from,
		ToSeq:        to,
		PreviousHash: state.boundaryHash,
		Algorithm:    string(r.alg),
		Entries:      state.entries,
		ExportedAt:   exportedAt,
		ExportHash:   hex.EncodeToString(h.Sum(nil)),
	}
	r.metrics.IncExport(len(bundle.Entries))

	// The export itself is a chain-of-custody fact and gets recorded after
	// the bundle is sealed, so no bundle ever contains its own export event.
	// Failure to self-record is logged, not fatal: the bundle is already
	// verified and sealed.
	_, err = r.Record(ctx, models.Event{
		TenantID:     tenantID,
		EventType:    models.EventExportPerformed,
		ActorID:      "audit-engine",
		ActorType:    models.ActorSystem,
		ResourceType: "audit_chain",
		ResourceID:   tenantID.String(),
		Metadata: map[string]string{
			"from_seq":    strconv.FormatUint(from, 10),
			"to_seq":      strconv.FormatUint(to, 10),
			"export_hash": bundle.ExportHash,
		},
	})
	if err != nil {
		r.logger.WarnContext(ctx, "failed to record export event",
			"tenant_id", tenantID,
			"error", err,
		)
	}
	return bundle, nil
}
