//go:build integration

package kafka_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"custodia/internal/audit/notify"
	"custodia/internal/audit/notify/kafka"
	"custodia/internal/platform/logger"
	"custodia/pkg/testutil/containers"
)

func TestPublisherDeliversNotice(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := containers.NewRedpandaContainer(t)

	publisher, err := kafka.New(ctx, []string{broker.Broker}, kafka.DefaultTopic, logger.New())
	require.NoError(t, err)

	notice := notify.Notice{
		TenantID:       uuid.New(),
		SequenceNumber: 7,
		IntegrityHash:  "4bf5122f344554c53bde2ebb8cd2b7e3d1600ad631c385a5d7cce23c7785459a",
		EventType:      "hold_created",
		CorrelationID:  "corr-42",
	}
	require.NoError(t, publisher.EntryAppended(ctx, notice))
	require.NoError(t, publisher.Close(ctx))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker.Broker),
		kgo.ConsumeTopics(kafka.DefaultTopic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.NoError(t, fetches.Err())
	records := fetches.Records()
	require.Len(t, records, 1)

	require.Equal(t, notice.TenantID.String(), string(records[0].Key))
	var got notify.Notice
	require.NoError(t, json.Unmarshal(records[0].Value, &got))
	require.Equal(t, notice, got)
}
