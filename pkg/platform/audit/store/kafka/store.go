// Package kafka publishes audit events to a Kafka topic. Kafka is the system
// of record for the event trail; this store keeps no local copy.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "escrow/pkg/platform/audit"
)

// Producer is the subset of *kgo.Client the store needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

type Store struct {
	producer Producer
	topic    string
}

func New(producer Producer, topic string) *Store {
	return &Store{producer: producer, topic: topic}
}

// payload is the JSON document written to Kafka. Field names are part of the
// downstream contract.
type payload struct {
	ID         string `json:"id"`
	Category   string `json:"category"`
	Timestamp  string `json:"timestamp"`
	IdentityID string `json:"identity_id,omitempty"`
	Action     string `json:"action"`
	Subject    string `json:"subject,omitempty"`
	Amount     string `json:"amount,omitempty"`
	Fee        string `json:"fee,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// Append produces the event synchronously. The record key is the subject so
// all events for one item land on the same partition in order.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	body := payload{
		ID:        event.ID,
		Category:  string(event.Category),
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		Action:    event.Action,
		Subject:   event.Subject,
		Amount:    event.Amount,
		Fee:       event.Fee,
		RequestID: event.RequestID,
	}
	if !event.IdentityID.IsNil() {
		body.IdentityID = event.IdentityID.String()
	}
	value, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.Subject),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(event.Action)},
		},
	}
	if err := s.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}
