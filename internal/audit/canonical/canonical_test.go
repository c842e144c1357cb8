package canonical

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/internal/audit/models"
)

func baseEntry() models.Entry {
	return models.Entry{
		TenantID:       uuid.MustParse("3f1c0f4e-8a1d-4a77-9c3a-2b8f1d6e5a01"),
		SequenceNumber: 4,
		EventType:      models.EventPrivilegeChecked,
		ActorID:        "attorney-17",
		ActorType:      models.ActorAttorney,
		ResourceType:   "document",
		ResourceID:     "doc-204",
		Metadata:       map[string]string{"confidence": "0.93", "matter": "acme-v-initech"},
		CreatedAt:      time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC),
		PreviousHash:   models.SentinelHash,
	}
}

func TestEncodeDeterministic(t *testing.T) {
	first, err := Encode(baseEntry())
	require.NoError(t, err)

	// Re-encoding a freshly built logical copy must be byte-identical; the
	// encoding may not depend on map iteration order or process state.
	for i := 0; i < 50; i++ {
		again, err := Encode(baseEntry())
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestEncodeTimestampNormalizedToUTC(t *testing.T) {
	e := baseEntry()
	utc, err := Encode(e)
	require.NoError(t, err)

	e.CreatedAt = e.CreatedAt.In(time.FixedZone("EST", -5*3600))
	local, err := Encode(e)
	require.NoError(t, err)
	assert.Equal(t, utc, local, "same instant must encode identically in any zone")
}

func TestEncodeDistinguishesLogicallyDifferentEntries(t *testing.T) {
	base, err := Encode(baseEntry())
	require.NoError(t, err)

	mutations := map[string]func(*models.Entry){
		"sequence":        func(e *models.Entry) { e.SequenceNumber++ },
		"event type":      func(e *models.Entry) { e.EventType = models.EventHoldCreated },
		"actor":           func(e *models.Entry) { e.ActorID = "attorney-18" },
		"resource":        func(e *models.Entry) { e.ResourceID = "doc-205" },
		"timestamp":       func(e *models.Entry) { e.CreatedAt = e.CreatedAt.Add(time.Nanosecond) },
		"metadata value":  func(e *models.Entry) { e.Metadata["confidence"] = "0.94" },
		"metadata key":    func(e *models.Entry) { e.Metadata["reviewer"] = "x" },
		"tenant":          func(e *models.Entry) { e.TenantID = uuid.MustParse("3f1c0f4e-8a1d-4a77-9c3a-2b8f1d6e5a02") },
		"ip present":      func(e *models.Entry) { e.IPAddress = "10.0.0.1" },
		"user agent":      func(e *models.Entry) { e.UserAgent = "curl/8.0" },
		"legal hold":      func(e *models.Entry) { id := uuid.New(); e.LegalHoldID = &id },
		"shifted key/val": func(e *models.Entry) { delete(e.Metadata, "matter"); e.Metadata["matte"] = "racme-v-initech" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			e := baseEntry()
			mutate(&e)
			got, err := Encode(e)
			require.NoError(t, err)
			assert.NotEqual(t, base, got)
		})
	}
}

func TestEncodeAbsentAndEmptyOptionalDiffer(t *testing.T) {
	// An absent optional field carries an explicit marker, so a hypothetical
	// empty value could never alias it. UserAgent exercises the same path.
	absent := baseEntry()
	withIP := baseEntry()
	withIP.IPAddress = "192.0.2.9"

	a, err := Encode(absent)
	require.NoError(t, err)
	b, err := Encode(withIP)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestEncodeRejectsMalformedEntries(t *testing.T) {
	cases := map[string]func(*models.Entry){
		"nil tenant":         func(e *models.Entry) { e.TenantID = uuid.Nil },
		"missing event type": func(e *models.Entry) { e.EventType = "" },
		"missing actor":      func(e *models.Entry) { e.ActorID = "" },
		"missing actor type": func(e *models.Entry) { e.ActorType = "" },
		"missing resource":   func(e *models.Entry) { e.ResourceType = "" },
		"missing resource id": func(e *models.Entry) {
			e.ResourceID = ""
		},
		"zero timestamp": func(e *models.Entry) { e.CreatedAt = time.Time{} },
		"empty metadata key": func(e *models.Entry) {
			e.Metadata[""] = "value"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			e := baseEntry()
			mutate(&e)
			_, err := Encode(e)
			var encErr *models.EncodingError
			require.ErrorAs(t, err, &encErr)
		})
	}
}

func TestEncodeRejectsOversizedMetadata(t *testing.T) {
	e := baseEntry()
	e.Metadata["blob"] = string(make([]byte, maxMetadataBytes+1))
	_, err := Encode(e)
	var encErr *models.EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, "payload_metadata", encErr.Field)
}

func TestEntryHash(t *testing.T) {
	t.Run("stable for equal entries", func(t *testing.T) {
		h1, err := EntryHash(models.SHA256, baseEntry())
		require.NoError(t, err)
		h2, err := EntryHash(models.SHA256, baseEntry())
		require.NoError(t, err)
		assert.Equal(t, h1, h2)
		assert.Len(t, h1, 64)
	})

	t.Run("depends on previous hash", func(t *testing.T) {
		genesis, err := EntryHash(models.SHA256, baseEntry())
		require.NoError(t, err)

		chained := baseEntry()
		chained.PreviousHash = genesis
		h, err := EntryHash(models.SHA256, chained)
		require.NoError(t, err)
		assert.NotEqual(t, genesis, h)
	})

	t.Run("algorithms disagree", func(t *testing.T) {
		a, err := EntryHash(models.SHA256, baseEntry())
		require.NoError(t, err)
		b, err := EntryHash(models.SHA3256, baseEntry())
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("rejects malformed previous hash", func(t *testing.T) {
		e := baseEntry()
		e.PreviousHash = "not-hex"
		_, err := EntryHash(models.SHA256, e)
		var encErr *models.EncodingError
		require.ErrorAs(t, err, &encErr)
		assert.Equal(t, "previous_hash", encErr.Field)
	})
}
