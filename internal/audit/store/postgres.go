package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"custodia/internal/audit/models"
	"custodia/pkg/platform/sentinel"
)

// Schema creates the append-only chain table. The primary key doubles as the
// uniqueness constraint on (tenant_id, sequence_number) and as the index
// serving ordered range reads.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	tenant_id       UUID        NOT NULL,
	sequence_number BIGINT      NOT NULL,
	event_type      TEXT        NOT NULL,
	actor_id        TEXT        NOT NULL,
	actor_type      TEXT        NOT NULL,
	resource_type   TEXT        NOT NULL,
	resource_id     TEXT        NOT NULL,
	ip_address      TEXT,
	user_agent      TEXT,
	legal_hold_id   UUID,
	payload_metadata JSONB      NOT NULL DEFAULT '{}',
	created_at      TIMESTAMPTZ NOT NULL,
	previous_hash   CHAR(64)    NOT NULL,
	integrity_hash  CHAR(64)    NOT NULL,
	PRIMARY KEY (tenant_id, sequence_number)
)`

// Postgres persists chains in PostgreSQL. The conditional append is a single
// INSERT ... SELECT guarded by the current tail hash, so the compare and the
// write commit atomically without any advisory locking.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the chain table if it does not exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

func (s *Postgres) GetTail(ctx context.Context, tenantID uuid.UUID) (models.Tail, error) {
	const query = `
		SELECT sequence_number, integrity_hash, created_at
		FROM audit_entries
		WHERE tenant_id = $1
		ORDER BY sequence_number DESC
		LIMIT 1
	`
	var tail models.Tail
	err := s.db.QueryRowContext(ctx, query, tenantID).
		Scan(&tail.SequenceNumber, &tail.IntegrityHash, &tail.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Tail{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.Tail{}, fmt.Errorf("query chain tail: %w", err)
	}
	return tail, nil
}

func (s *Postgres) Append(ctx context.Context, entry models.Entry, expectedPreviousHash string) error {
	metadata, err := json.Marshal(metadataOrEmpty(entry.Metadata))
	if err != nil {
		return fmt.Errorf("marshal payload metadata: %w", err)
	}

	// The WHERE clause re-reads the tail inside the same statement, so the
	// guard and the insert are atomic. A concurrent winner leaves either a
	// different tail hash (zero rows inserted) or a duplicate sequence
	// number (unique violation); both surface as ErrConflict.
	const query = `
		INSERT INTO audit_entries (
			tenant_id, sequence_number, event_type, actor_id, actor_type,
			resource_type, resource_id, ip_address, user_agent, legal_hold_id,
			payload_metadata, created_at, previous_hash, integrity_hash
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		WHERE COALESCE((
			SELECT integrity_hash FROM audit_entries
			WHERE tenant_id = $1
			ORDER BY sequence_number DESC
			LIMIT 1
		), $15) = $16
	`
	res, err := s.db.ExecContext(ctx, query,
		entry.TenantID,
		entry.SequenceNumber,
		string(entry.EventType),
		entry.ActorID,
		string(entry.ActorType),
		entry.ResourceType,
		entry.ResourceID,
		nullString(entry.IPAddress),
		nullString(entry.UserAgent),
		nullUUID(entry.LegalHoldID),
		metadata,
		entry.CreatedAt,
		entry.PreviousHash,
		entry.IntegrityHash,
		models.SentinelHash,
		expectedPreviousHash,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("append audit entry: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Postgres) ReadRange(ctx context.Context, tenantID uuid.UUID, from, to uint64) ([]models.Entry, error) {
	const query = `
		SELECT tenant_id, sequence_number, event_type, actor_id, actor_type,
		       resource_type, resource_id, ip_address, user_agent, legal_hold_id,
		       payload_metadata, created_at, previous_hash, integrity_hash
		FROM audit_entries
		WHERE tenant_id = $1 AND sequence_number BETWEEN $2 AND $3
		ORDER BY sequence_number
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.Entry
	for rows.Next() {
		var (
			entry     models.Entry
			eventType string
			actorType string
			ip        sql.NullString
			ua        sql.NullString
			holdID    uuid.NullUUID
			metadata  []byte
		)
		err := rows.Scan(
			&entry.TenantID,
			&entry.SequenceNumber,
			&eventType,
			&entry.ActorID,
			&actorType,
			&entry.ResourceType,
			&entry.ResourceID,
			&ip,
			&ua,
			&holdID,
			&metadata,
			&entry.CreatedAt,
			&entry.PreviousHash,
			&entry.IntegrityHash,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.EventType = models.EventType(eventType)
		entry.ActorType = models.ActorType(actorType)
		entry.IPAddress = ip.String
		entry.UserAgent = ua.String
		if holdID.Valid {
			id := holdID.UUID
			entry.LegalHoldID = &id
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal payload metadata: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func metadataOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
