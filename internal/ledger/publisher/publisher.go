// Package publisher relays appended ledger entries to Kafka so notification
// and analytics consumers can follow the log without polling the API.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"landledger/internal/ledger"
)

// Publisher consumes entries from a channel and produces them to a topic.
// Delivery is at-least-once from the channel's perspective; consumers key on
// seq to deduplicate.
type Publisher struct {
	client *kgo.Client
	topic  string
	inbox  <-chan ledger.Entry
	logger *slog.Logger
}

// New connects to the brokers. Returns nil when brokers is empty (publishing
// disabled); the caller skips Run.
func New(brokers []string, topic string, inbox <-chan ledger.Entry, logger *slog.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("publisher: connect kafka: %w", err)
	}
	return &Publisher{client: client, topic: topic, inbox: inbox, logger: logger}, nil
}

// Run publishes entries until ctx is cancelled. Produce failures are logged
// and the entry dropped; the ledger store remains the source of truth and
// consumers can backfill via ListEventsSince.
func (p *Publisher) Run(ctx context.Context) error {
	defer p.client.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry := <-p.inbox:
			payload, err := json.Marshal(entry)
			if err != nil {
				p.logger.ErrorContext(ctx, "marshal ledger entry", "seq", entry.Seq, "error", err)
				continue
			}
			record := &kgo.Record{
				Topic: p.topic,
				Key:   []byte(entry.EntityID),
				Value: payload,
			}
			if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
				p.logger.WarnContext(ctx, "publish ledger entry failed", "seq", entry.Seq, "error", err)
			}
		}
	}
}
