// Package service implements the append protocol, verifier, and exporter on
// top of a chain store. The Recorder is the sole path by which entries enter
// a chain.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"custodia/internal/audit/canonical"
	"custodia/internal/audit/metrics"
	"custodia/internal/audit/models"
	"custodia/internal/audit/notify"
	"custodia/internal/audit/store"
	"custodia/pkg/platform/sentinel"
)

// defaultMaxAttempts bounds the optimistic-concurrency retry loop. Conflicts
// are expected under concurrent writers; five rounds with jittered backoff
// is enough for heavy fan-in without hiding a stuck store.
const defaultMaxAttempts = 5

const (
	backoffBase = 5 * time.Millisecond
	backoffCap  = 100 * time.Millisecond
)

// Recorder owns all chain state transitions for every tenant.
type Recorder struct {
	store       store.Store
	alg         models.Algorithm
	notifier    notify.Notifier
	metrics     *metrics.Metrics
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
	maxAttempts int
}

// Option configures a Recorder.
type Option func(*Recorder)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

func WithNotifier(n notify.Notifier) Option {
	return func(r *Recorder) { r.notifier = n }
}

func WithAlgorithm(alg models.Algorithm) Option {
	return func(r *Recorder) { r.alg = alg }
}

func WithMaxAttempts(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithClock overrides append-time timestamping in tests.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

func NewRecorder(s store.Store, opts ...Option) *Recorder {
	r := &Recorder{
		store:       s,
		alg:         models.SHA256,
		notifier:    notify.Noop{},
		logger:      slog.Default(),
		tracer:      otel.Tracer("custodia/audit"),
		now:         time.Now,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Algorithm reports the digest the recorder chains with.
func (r *Recorder) Algorithm() models.Algorithm { return r.alg }

// Tail exposes the current linkage point, mostly for operator tooling.
func (r *Recorder) Tail(ctx context.Context, tenantID uuid.UUID) (models.Tail, error) {
	return r.store.GetTail(ctx, tenantID)
}

// ReadRange returns committed entries, ordered by sequence number.
func (r *Recorder) ReadRange(ctx context.Context, tenantID uuid.UUID, from, to uint64) ([]models.Entry, error) {
	return r.store.ReadRange(ctx, tenantID, from, to)
}

// Record runs the append protocol for one domain event: read the tail, build
// the candidate entry, hash it against the previous hash, and commit with an
// optimistic-concurrency guard. Lost races are retried with jittered backoff
// up to the attempt budget; every other failure propagates untouched.
func (r *Recorder) Record(ctx context.Context, event models.Event) (models.Entry, error) {
	ctx, span := r.tracer.Start(ctx, "audit.Record",
		trace.WithAttributes(
			attribute.String("tenant_id", event.TenantID.String()),
			attribute.String("event_type", string(event.EventType)),
		))
	defer span.End()

	start := r.now()
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, backoffDelay(attempt)); err != nil {
				return models.Entry{}, err
			}
		}

		entry, err := r.buildCandidate(ctx, event)
		if err != nil {
			return models.Entry{}, err
		}

		err = r.store.Append(ctx, entry, entry.PreviousHash)
		if errors.Is(err, sentinel.ErrConflict) {
			r.metrics.IncConflict()
			continue
		}
		if err != nil {
			return models.Entry{}, fmt.Errorf("append entry for tenant %s: %w", event.TenantID, err)
		}

		r.metrics.IncAppend(string(event.EventType))
		r.metrics.ObserveAppend(r.now().Sub(start))
		r.notifyAppended(ctx, entry, event.CorrelationID)
		return entry, nil
	}

	r.metrics.IncContention()
	r.logger.WarnContext(ctx, "append retry budget exhausted",
		"tenant_id", event.TenantID,
		"event_type", event.EventType,
		"attempts", r.maxAttempts,
	)
	return models.Entry{}, models.ErrAppendContention
}

// buildCandidate reads the tail and assembles the next entry, including its
// integrity hash. Callers never influence sequence_number, previous_hash, or
// integrity_hash.
func (r *Recorder) buildCandidate(ctx context.Context, event models.Event) (models.Entry, error) {
	var (
		nextSeq  uint64
		prevHash = models.SentinelHash
		floor    time.Time
	)
	tail, err := r.store.GetTail(ctx, event.TenantID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		// Genesis: sequence 0, linked to the sentinel.
	case err != nil:
		return models.Entry{}, fmt.Errorf("read tail for tenant %s: %w", event.TenantID, err)
	default:
		nextSeq = tail.SequenceNumber + 1
		prevHash = tail.IntegrityHash
		floor = tail.CreatedAt
	}

	// Timestamps are truncated to microseconds so that every backend round
	// trips them exactly (TIMESTAMPTZ carries no nanoseconds), and clamped
	// to the tail's timestamp so created_at never decreases within a chain.
	createdAt := r.now().UTC().Truncate(time.Microsecond)
	if createdAt.Before(floor) {
		createdAt = floor
	}

	entry := models.Entry{
		TenantID:       event.TenantID,
		SequenceNumber: nextSeq,
		EventType:      event.EventType,
		ActorID:        event.ActorID,
		ActorType:      event.ActorType,
		ResourceType:   event.ResourceType,
		ResourceID:     event.ResourceID,
		IPAddress:      event.IPAddress,
		UserAgent:      event.UserAgent,
		LegalHoldID:    event.LegalHoldID,
		Metadata:       event.Metadata,
		CreatedAt:      createdAt,
		PreviousHash:   prevHash,
	}
	hash, err := canonical.EntryHash(r.alg, entry)
	if err != nil {
		return models.Entry{}, err
	}
	entry.IntegrityHash = hash
	return entry, nil
}

func (r *Recorder) notifyAppended(ctx context.Context, entry models.Entry, correlationID string) {
	err := r.notifier.EntryAppended(ctx, notify.Notice{
		TenantID:       entry.TenantID,
		SequenceNumber: entry.SequenceNumber,
		IntegrityHash:  entry.IntegrityHash,
		EventType:      string(entry.EventType),
		CorrelationID:  correlationID,
	})
	if err != nil {
		// Best-effort by contract: the committed entry is the source of
		// truth and a failed notice never unwinds an append.
		r.logger.WarnContext(ctx, "append notification failed",
			"tenant_id", entry.TenantID,
			"sequence_number", entry.SequenceNumber,
			"error", err,
		)
	}
}

func backoffDelay(attempt int) time.Duration {
	base := backoffBase
	for i := 1; i < attempt && base < backoffCap; i++ {
		base <<= 1
	}
	if base > backoffCap {
		base = backoffCap
	}
	return base + time.Duration(rand.Int63n(int64(base)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
