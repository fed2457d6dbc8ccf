// Package consumer materializes audit events from Kafka into a queryable
// store.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "veriface/pkg/platform/audit"
	kafkastore "veriface/pkg/platform/audit/store/kafka"
)

// Message is a record as seen by Handle.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
}

// Transactor runs fn inside one transaction carried by ctx.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Materializer decodes audit records and appends them to a store.
type Materializer struct {
	store  audit.Store
	tx     Transactor
	logger *slog.Logger
}

type MaterializerOption func(*Materializer)

// WithBatchTx makes every fetch batch land in one transaction, so a failed
// batch leaves nothing behind for the redelivery to collide with.
func WithBatchTx(tx Transactor) MaterializerOption {
	return func(m *Materializer) { m.tx = tx }
}

func NewMaterializer(store audit.Store, logger *slog.Logger, opts ...MaterializerOption) *Materializer {
	m := &Materializer{store: store, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HandleBatch hands every message to Handle, inside one transaction when a
// Transactor is set. It stops at the first store failure.
func (m *Materializer) HandleBatch(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	apply := func(ctx context.Context) error {
		for _, msg := range msgs {
			if err := m.Handle(ctx, msg); err != nil {
				return err
			}
		}
		return nil
	}
	if m.tx == nil {
		return apply(ctx)
	}
	return m.tx.InTx(ctx, apply)
}

// Handle appends one record. Malformed records are logged and skipped so
// they do not block the partition; store failures are returned so the
// offset is not committed.
func (m *Materializer) Handle(ctx context.Context, msg *Message) error {
	event, err := kafkastore.Decode(msg.Value)
	if err != nil {
		m.logger.Error("dropping malformed audit record",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}
	if err := m.store.Append(ctx, event); err != nil {
		return fmt.Errorf("materialize audit event %s: %w", event.ID, err)
	}
	return nil
}

// Consumer polls a consumer group and hands records to a Materializer,
// committing offsets only after a whole fetch was stored.
type Consumer struct {
	client  *kgo.Client
	handler *Materializer
	logger  *slog.Logger
}

func New(client *kgo.Client, handler *Materializer, logger *slog.Logger) (*Consumer, error) {
	if client == nil {
		return nil, errors.New("kafka client is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{client: client, handler: handler, logger: logger}, nil
}

// Run consumes until ctx is done. The client must be created with
// kgo.ConsumerGroup, kgo.ConsumeTopics and kgo.DisableAutoCommit.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.ErrorContext(ctx, "audit fetch failed",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		var batch []*Message
		fetches.EachRecord(func(r *kgo.Record) {
			batch = append(batch, &Message{
				Topic:     r.Topic,
				Partition: r.Partition,
				Offset:    r.Offset,
				Key:       r.Key,
				Value:     r.Value,
			})
		})
		if err := c.handler.HandleBatch(ctx, batch); err != nil {
			// Uncommitted records are redelivered after a rebalance or restart.
			return err
		}
		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			c.logger.ErrorContext(ctx, "audit offset commit failed", "error", err)
		}
	}
}
