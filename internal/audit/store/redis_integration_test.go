//go:build integration

package store_test

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"custodia/internal/audit/canonical"
	"custodia/internal/audit/models"
	"custodia/internal/audit/service"
	"custodia/internal/audit/store"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *store.Redis
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = store.NewRedis(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.Client.FlushAll(context.Background()).Err())
}

func (s *RedisStoreSuite) genesisEntry(tenantID uuid.UUID) models.Entry {
	entry := models.Entry{
		TenantID:       tenantID,
		SequenceNumber: 0,
		EventType:      models.EventHoldCreated,
		ActorID:        "system",
		ActorType:      models.ActorSystem,
		ResourceType:   "legal_hold",
		ResourceID:     "hold-3",
		Metadata:       map[string]string{"case": "123"},
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
		PreviousHash:   models.SentinelHash,
	}
	hash, err := canonical.EntryHash(models.SHA256, entry)
	s.Require().NoError(err)
	entry.IntegrityHash = hash
	return entry
}

func (s *RedisStoreSuite) TestAppendAndRoundTrip() {
	ctx := context.Background()
	tenantID := uuid.New()
	entry := s.genesisEntry(tenantID)

	s.Require().NoError(s.store.Append(ctx, entry, models.SentinelHash))

	entries, err := s.store.ReadRange(ctx, tenantID, 0, 0)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)

	recomputed, err := canonical.EntryHash(models.SHA256, entries[0])
	s.Require().NoError(err)
	s.Equal(entry.IntegrityHash, recomputed)

	tail, err := s.store.GetTail(ctx, tenantID)
	s.Require().NoError(err)
	s.Equal(entry.IntegrityHash, tail.IntegrityHash)
}

func (s *RedisStoreSuite) TestReadRangeClampsToTail() {
	ctx := context.Background()
	tenantID := uuid.New()
	entry := s.genesisEntry(tenantID)
	s.Require().NoError(s.store.Append(ctx, entry, models.SentinelHash))

	// A range far past the tail returns only what exists; it must not
	// materialize a key per requested sequence.
	entries, err := s.store.ReadRange(ctx, tenantID, 0, math.MaxUint64)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(entry.IntegrityHash, entries[0].IntegrityHash)

	entries, err = s.store.ReadRange(ctx, uuid.New(), 0, math.MaxUint64)
	s.Require().NoError(err)
	s.Empty(entries)
}

func (s *RedisStoreSuite) TestConflictOnStaleTail() {
	ctx := context.Background()
	tenantID := uuid.New()
	entry := s.genesisEntry(tenantID)

	s.Require().NoError(s.store.Append(ctx, entry, models.SentinelHash))
	err := s.store.Append(ctx, s.genesisEntry(tenantID), models.SentinelHash)
	s.Require().ErrorIs(err, sentinel.ErrConflict)
}

func (s *RedisStoreSuite) TestEmptyChainHasNoTail() {
	_, err := s.store.GetTail(context.Background(), uuid.New())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisStoreSuite) TestConcurrentAppendsSerialize() {
	ctx := context.Background()
	tenantID := uuid.New()
	recorder := service.NewRecorder(s.store, service.WithMaxAttempts(200))
	const writers = 16

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := recorder.Record(ctx, models.Event{
				TenantID:     tenantID,
				EventType:    models.EventDocumentAccessed,
				ActorID:      "system",
				ActorType:    models.ActorSystem,
				ResourceType: "document",
				ResourceID:   "doc-2",
			})
			s.NoError(err)
		}()
	}
	wg.Wait()

	result, err := recorder.Verify(ctx, tenantID, 0, writers-1)
	s.Require().NoError(err)
	s.True(result.Valid)
}

func (s *RedisStoreSuite) TestTamperedValueFailsVerification() {
	ctx := context.Background()
	tenantID := uuid.New()
	recorder := service.NewRecorder(s.store)

	entry, err := recorder.Record(ctx, models.Event{
		TenantID:     tenantID,
		EventType:    models.EventPrivilegeChecked,
		ActorID:      "attorney-1",
		ActorType:    models.ActorAttorney,
		ResourceType: "document",
		ResourceID:   "doc-5",
	})
	s.Require().NoError(err)

	// Rewrite the stored JSON directly, as an attacker with Redis access would.
	key := "audit:" + tenantID.String() + ":entry:0"
	raw, err := s.redis.Client.Get(ctx, key).Result()
	s.Require().NoError(err)
	s.Require().Contains(raw, entry.ResourceID)
	forged := strings.Replace(raw, `"doc-5"`, `"doc-6"`, 1)
	s.Require().NoError(s.redis.Client.Set(ctx, key, forged, 0).Err())

	result, err := recorder.Verify(ctx, tenantID, 0, 0)
	s.Require().NoError(err)
	s.Require().False(result.Valid)
	s.Equal(uint64(0), result.Broken.SequenceNumber)
	s.Equal(models.BreakHashMismatch, result.Broken.Reason)
}
