package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"custodia/internal/audit/models"
	"custodia/pkg/platform/sentinel"
)

// Redis persists chains in Redis. The tail key is the single point of
// coordination per tenant: Append WATCHes it, compares the stored hash, and
// commits the entry and the new tail in one MULTI/EXEC. If another writer
// touches the tail between WATCH and EXEC the transaction aborts, which maps
// onto the same ErrConflict every other backend reports.
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

type redisTail struct {
	SequenceNumber uint64    `json:"seq"`
	IntegrityHash  string    `json:"hash"`
	CreatedAt      time.Time `json:"created_at"`
}

func tailKey(tenantID uuid.UUID) string {
	return "audit:" + tenantID.String() + ":tail"
}

func entryKey(tenantID uuid.UUID, seq uint64) string {
	return fmt.Sprintf("audit:%s:entry:%d", tenantID, seq)
}

func (s *Redis) GetTail(ctx context.Context, tenantID uuid.UUID) (models.Tail, error) {
	raw, err := s.client.Get(ctx, tailKey(tenantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Tail{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.Tail{}, fmt.Errorf("get chain tail: %w", err)
	}
	var tail redisTail
	if err := json.Unmarshal(raw, &tail); err != nil {
		return models.Tail{}, fmt.Errorf("decode chain tail: %w", err)
	}
	return models.Tail{
		SequenceNumber: tail.SequenceNumber,
		IntegrityHash:  tail.IntegrityHash,
		CreatedAt:      tail.CreatedAt,
	}, nil
}

func (s *Redis) Append(ctx context.Context, entry models.Entry, expectedPreviousHash string) error {
	key := tailKey(entry.TenantID)

	txn := func(tx *redis.Tx) error {
		current := models.SentinelHash
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			// Empty chain; the sentinel stands in for the tail hash.
		case err != nil:
			return fmt.Errorf("get chain tail: %w", err)
		default:
			var tail redisTail
			if err := json.Unmarshal(raw, &tail); err != nil {
				return fmt.Errorf("decode chain tail: %w", err)
			}
			current = tail.IntegrityHash
		}
		if current != expectedPreviousHash {
			return sentinel.ErrConflict
		}

		payload, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encode audit entry: %w", err)
		}
		newTail, err := json.Marshal(redisTail{
			SequenceNumber: entry.SequenceNumber,
			IntegrityHash:  entry.IntegrityHash,
			CreatedAt:      entry.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("encode chain tail: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, entryKey(entry.TenantID, entry.SequenceNumber), payload, 0)
			pipe.Set(ctx, key, newTail, 0)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txn, key)
	if errors.Is(err, redis.TxFailedErr) {
		return sentinel.ErrConflict
	}
	return err
}

func (s *Redis) ReadRange(ctx context.Context, tenantID uuid.UUID, from, to uint64) ([]models.Entry, error) {
	if to < from {
		return nil, nil
	}

	// Clamp to the current tail before materializing keys: sequences beyond
	// the tail do not exist, and an oversized range must not allocate one key
	// per requested sequence. The verifier still reports the missing suffix
	// as a gap, same as the other backends.
	tail, err := s.GetTail(ctx, tenantID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if to > tail.SequenceNumber {
		to = tail.SequenceNumber
	}
	if to < from {
		return nil, nil
	}

	// seq == to terminates inside the body so a tail at the top of the
	// uint64 range cannot wrap the loop variable.
	keys := make([]string, 0, to-from+1)
	for seq := from; ; seq++ {
		keys = append(keys, entryKey(tenantID, seq))
		if seq == to {
			break
		}
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read audit entries: %w", err)
	}

	var entries []models.Entry
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // absent sequence; the verifier reports the gap
		}
		var entry models.Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("decode audit entry: %w", err)
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	return entries, nil
}
