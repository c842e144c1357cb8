// Package canonical produces the deterministic byte encoding that integrity
// hashes are computed over. Two logically equal entries must encode to
// identical bytes in any process, on any platform, at any time; the encoding
// therefore fixes field order by schema, length-prefixes every string, and
// marks absent optional fields explicitly so they can never collide with
// empty ones.
package canonical

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"

	"custodia/internal/audit/models"

	"github.com/google/uuid"
)

// version is the first byte of every encoding. Bump it if the layout ever
// changes so old hashes remain verifiable against the layout that produced
// them.
const version byte = 0x01

// maxMetadataBytes bounds the combined size of metadata keys and values.
// The chain stores descriptive metadata, never document content; anything
// larger is almost certainly a caller shoving a payload where it does not
// belong.
const maxMetadataBytes = 64 * 1024

// Encode serializes an entry's logical fields (everything except
// integrity_hash) into the canonical byte sequence. It rejects entries that
// cannot be canonicalized with *models.EncodingError before any write
// happens.
func Encode(e models.Entry) ([]byte, error) {
	if err := validate(e); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 256)
	buf = append(buf, version)
	buf = append(buf, e.TenantID[:]...)
	buf = binary.BigEndian.AppendUint64(buf, e.SequenceNumber)
	buf = appendString(buf, string(e.EventType))
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.CreatedAt.UTC().UnixNano()))
	buf = appendString(buf, e.ActorID)
	buf = appendString(buf, string(e.ActorType))
	buf = appendString(buf, e.ResourceType)
	buf = appendString(buf, e.ResourceID)
	buf = appendOptional(buf, e.IPAddress, e.IPAddress != "")
	buf = appendOptional(buf, e.UserAgent, e.UserAgent != "")
	if e.LegalHoldID != nil {
		buf = append(buf, 0x01)
		buf = append(buf, e.LegalHoldID[:]...)
	} else {
		buf = append(buf, 0x00)
	}
	buf = appendMetadata(buf, e.Metadata)
	return buf, nil
}

// EntryHash computes an entry's integrity hash:
//
//	Hash(previous_hash_bytes || Encode(entry))
//
// returned as lowercase hex. The entry's own IntegrityHash field is ignored,
// which is what lets the verifier recompute and compare.
func EntryHash(alg models.Algorithm, e models.Entry) (string, error) {
	prev, err := hex.DecodeString(e.PreviousHash)
	if err != nil || len(prev) != 32 {
		return "", &models.EncodingError{Field: "previous_hash", Reason: "must be a 64-character hex digest"}
	}
	encoded, err := Encode(e)
	if err != nil {
		return "", err
	}
	h := alg.New()
	h.Write(prev)
	h.Write(encoded)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func validate(e models.Entry) error {
	if e.TenantID == uuid.Nil {
		return &models.EncodingError{Field: "tenant_id", Reason: "required"}
	}
	if e.EventType == "" {
		return &models.EncodingError{Field: "event_type", Reason: "required"}
	}
	if e.ActorID == "" {
		return &models.EncodingError{Field: "actor_id", Reason: "required"}
	}
	if e.ActorType == "" {
		return &models.EncodingError{Field: "actor_type", Reason: "required"}
	}
	if e.ResourceType == "" {
		return &models.EncodingError{Field: "resource_type", Reason: "required"}
	}
	if e.ResourceID == "" {
		return &models.EncodingError{Field: "resource_id", Reason: "required"}
	}
	if e.CreatedAt.IsZero() {
		return &models.EncodingError{Field: "created_at", Reason: "required"}
	}
	size := 0
	for k, v := range e.Metadata {
		if k == "" {
			return &models.EncodingError{Field: "payload_metadata", Reason: "empty key"}
		}
		size += len(k) + len(v)
	}
	if size > maxMetadataBytes {
		return &models.EncodingError{
			Field:  "payload_metadata",
			Reason: fmt.Sprintf("exceeds %d bytes; metadata must stay descriptive", maxMetadataBytes),
		}
	}
	return nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

// appendOptional writes a presence byte before the value so that an absent
// field and an empty one encode differently.
func appendOptional(buf []byte, s string, present bool) []byte {
	if !present {
		return append(buf, 0x00)
	}
	buf = append(buf, 0x01)
	return appendString(buf, s)
}

func appendMetadata(buf []byte, m map[string]string) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf = binary.AppendUvarint(buf, uint64(len(keys)))
	for _, k := range keys {
		buf = appendString(buf, k)
		buf = appendString(buf, m[k])
	}
	return buf
}
