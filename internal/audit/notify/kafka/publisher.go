// Package kafka publishes append notices to a Kafka topic. Delivery is
// asynchronous and best-effort; failures are logged and surfaced as metrics
// through the broker client, never back to the append path.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"custodia/internal/audit/notify"
)

const DefaultTopic = "legal.audit.entry_appended"

// Publisher produces one JSON record per committed entry, keyed by tenant so
// a tenant's notices stay ordered within a partition.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// New connects to the brokers and makes sure the topic exists. A topic that
// already exists is fine; any other admin failure is fatal at startup rather
// than at first produce.
func New(ctx context.Context, brokers []string, topic string, logger *slog.Logger) (*Publisher, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(5*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	adm := kadm.NewClient(client)
	if _, err := adm.CreateTopic(ctx, 1, 1, nil, topic); err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		client.Close()
		return nil, fmt.Errorf("ensure topic %s: %w", topic, err)
	}

	return &Publisher{client: client, topic: topic, logger: logger}, nil
}

func (p *Publisher) EntryAppended(ctx context.Context, notice notify.Notice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal append notice: %w", err)
	}
	record := &kgo.Record{
		Key:   []byte(notice.TenantID.String()),
		Value: payload,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil && p.logger != nil {
			p.logger.Warn("append notice delivery failed",
				"tenant_id", notice.TenantID,
				"sequence_number", notice.SequenceNumber,
				"error", err,
			)
		}
	})
	return nil
}

// Close flushes outstanding notices and releases the client.
func (p *Publisher) Close(ctx context.Context) error {
	defer p.client.Close()
	return p.client.Flush(ctx)
}
