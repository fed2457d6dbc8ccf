// Package kafka ships audit events to a Kafka topic. Records are keyed by
// request id so one request's events stay ordered on one partition.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "veriface/pkg/platform/audit"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "veriface.audit"

// Payload is the wire form of an audit event.
type Payload struct {
	ID            string `json:"id"`
	Category      string `json:"category"`
	Timestamp     string `json:"timestamp"`
	RequestID     string `json:"request_id"`
	Action        string `json:"action"`
	Stage         string `json:"stage,omitempty"`
	Decision      string `json:"decision,omitempty"`
	Reason        string `json:"reason,omitempty"`
	SubjectIDHash string `json:"subject_id_hash,omitempty"`
	Detail        string `json:"detail,omitempty"`
}

// Encode serializes event; a missing ID is filled in.
func Encode(event audit.Event) ([]byte, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	p := Payload{
		ID:            event.ID,
		Category:      string(audit.AuditEvent(event.Action).Category()),
		Timestamp:     event.Timestamp.UTC().Format(time.RFC3339Nano),
		RequestID:     event.RequestID,
		Action:        event.Action,
		Stage:         event.Stage,
		Decision:      event.Decision,
		Reason:        event.Reason,
		SubjectIDHash: event.SubjectIDHash,
		Detail:        event.Detail,
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal audit payload: %w", err)
	}
	return b, nil
}

// Decode parses a record value produced by Encode.
func Decode(value []byte) (audit.Event, error) {
	var p Payload
	if err := json.Unmarshal(value, &p); err != nil {
		return audit.Event{}, fmt.Errorf("unmarshal audit payload: %w", err)
	}
	if _, err := uuid.Parse(p.ID); err != nil {
		return audit.Event{}, fmt.Errorf("audit payload id: %w", err)
	}
	if p.Action == "" {
		return audit.Event{}, errors.New("audit payload missing action")
	}
	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return audit.Event{}, fmt.Errorf("audit payload timestamp: %w", err)
	}
	return audit.Event{
		ID:            p.ID,
		Category:      audit.EventCategory(p.Category),
		Timestamp:     ts,
		RequestID:     p.RequestID,
		Action:        p.Action,
		Stage:         p.Stage,
		Decision:      p.Decision,
		Reason:        p.Reason,
		SubjectIDHash: p.SubjectIDHash,
		Detail:        p.Detail,
	}, nil
}

// Store produces each appended event synchronously, so Append only returns
// once the broker acknowledged the record.
type Store struct {
	client *kgo.Client
	topic  string
}

// Option configures the Store.
type Option func(*Store)

func WithTopic(topic string) Option {
	return func(s *Store) {
		if topic != "" {
			s.topic = topic
		}
	}
}

func New(client *kgo.Client, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New("kafka client is required")
	}
	s := &Store{client: client, topic: DefaultTopic}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Topic() string { return s.topic }

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	value, err := Encode(event)
	if err != nil {
		return err
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.RequestID),
		Value: value,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// EnsureTopic creates topic if it does not exist yet.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicas int16) error {
	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopic(ctx, partitions, replicas, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, resp.Err)
	}
	return nil
}
