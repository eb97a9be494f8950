package audit

import (
	"context"
	"encoding/json"
	"fmt"
)

// RecordProducer is the publish surface the Kafka sink needs. Satisfied by
// internal/platform/kafka.Producer.
type RecordProducer interface {
	Publish(ctx context.Context, key, value []byte) error
}

// KafkaStore ships audit events to a Kafka topic. Events are keyed by actor so
// one user's trail stays ordered within a partition.
type KafkaStore struct {
	producer RecordProducer
}

func NewKafkaStore(producer RecordProducer) *KafkaStore {
	return &KafkaStore{producer: producer}
}

func (s *KafkaStore) Append(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	return s.producer.Publish(ctx, []byte(event.ActorID), value)
}
