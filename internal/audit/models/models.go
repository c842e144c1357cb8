package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType tags the domain action an entry records. The engine does not
// decide what to log; collaborators pick the tag when they emit an event.
type EventType string

const (
	EventPrivilegeChecked     EventType = "privilege_checked"
	EventPrivilegeLogCreated  EventType = "privilege_log_created"
	EventEDiscoveryJobCreated EventType = "ediscovery_job_created"
	EventHoldCreated          EventType = "hold_created"
	EventHoldReleased         EventType = "hold_released"
	EventDocumentAccessed     EventType = "document_accessed"
	EventExportPerformed      EventType = "export_performed"
)

// ActorType classifies who performed the recorded action.
type ActorType string

const (
	ActorUser     ActorType = "user"
	ActorSystem   ActorType = "system"
	ActorAttorney ActorType = "attorney"
	ActorAdmin    ActorType = "admin"
)

// SentinelHash is the previous_hash of every genesis entry. It doubles as the
// expected tail hash when appending to an empty chain, so the conditional
// write works the same for sequence 0 as for every later sequence.
const SentinelHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one immutable audit record. Entries are created exactly once by
// the append protocol and never mutated; the store exposes no update or
// delete operation, which is how immutability is enforced.
type Entry struct {
	TenantID       uuid.UUID         `json:"tenant_id"`
	SequenceNumber uint64            `json:"sequence_number"`
	EventType      EventType         `json:"event_type"`
	ActorID        string            `json:"actor_id"`
	ActorType      ActorType         `json:"actor_type"`
	ResourceType   string            `json:"resource_type"`
	ResourceID     string            `json:"resource_id"`
	IPAddress      string            `json:"ip_address,omitempty"`
	UserAgent      string            `json:"user_agent,omitempty"`
	LegalHoldID    *uuid.UUID        `json:"legal_hold_id,omitempty"`
	Metadata       map[string]string `json:"payload_metadata"`
	CreatedAt      time.Time         `json:"created_at"`
	PreviousHash   string            `json:"previous_hash"`
	IntegrityHash  string            `json:"integrity_hash"`
}

// Event is what a collaborator hands the engine when something worth
// recording happened. Callers never set sequence numbers or hashes; the
// append protocol owns all chain linkage fields.
type Event struct {
	TenantID      uuid.UUID         `json:"tenant_id"`
	EventType     EventType         `json:"event_type"`
	ActorID       string            `json:"actor_id"`
	ActorType     ActorType         `json:"actor_type"`
	ResourceType  string            `json:"resource_type"`
	ResourceID    string            `json:"resource_id"`
	IPAddress     string            `json:"ip_address,omitempty"`
	UserAgent     string            `json:"user_agent,omitempty"`
	LegalHoldID   *uuid.UUID        `json:"legal_hold_id,omitempty"`
	Metadata      map[string]string `json:"payload_metadata,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

// Tail identifies a chain's current linkage point: the last committed
// sequence number, its hash, and its timestamp. The timestamp lets the
// append protocol keep created_at non-decreasing across clock skew.
type Tail struct {
	SequenceNumber uint64
	IntegrityHash  string
	CreatedAt      time.Time
}

// BreakReason distinguishes why verification failed at a given entry.
type BreakReason string

const (
	BreakHashMismatch   BreakReason = "hash_mismatch"
	BreakSequenceGap    BreakReason = "sequence_gap"
	BreakTenantMismatch BreakReason = "tenant_mismatch"
)

// VerificationResult reports the outcome of walking a chain range. When the
// chain is intact Valid is true and Broken is nil; otherwise Broken names the
// first sequence number at which the chain diverges.
type VerificationResult struct {
	TenantID uuid.UUID   `json:"tenant_id"`
	FromSeq  uint64      `json:"from_seq"`
	ToSeq    uint64      `json:"to_seq"`
	Valid    bool        `json:"valid"`
	Broken   *BreakPoint `json:"broken,omitempty"`
}

// BreakPoint is the first point of divergence found by the verifier.
type BreakPoint struct {
	SequenceNumber uint64      `json:"sequence_number"`
	Reason         BreakReason `json:"reason"`
}

// Bundle is a self-describing export of a verified contiguous range,
// suitable for submission to an external party. Given the same chain state
// and the same ExportedAt, re-exporting a range reproduces the same
// ExportHash, so two parties can compare bundles byte for byte.
type Bundle struct {
	TenantID     uuid.UUID `json:"tenant_id"`
	FromSeq      uint64    `json:"from_seq"`
	ToSeq        uint64    `json:"to_seq"`
	PreviousHash string    `json:"previous_hash"`
	Algorithm    string    `json:"algorithm"`
	Entries      []Entry   `json:"entries"`
	ExportedAt   time.Time `json:"exported_at"`
	ExportHash   string    `json:"export_hash"`
}
