package sink

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"kyc-intake/internal/kyc/models"
)

// Producer is the slice of *kgo.Client the kafka sink needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaSink publishes submissions keyed by session id so every record for a
// form lands on the same partition.
type KafkaSink struct {
	producer Producer
	topic    string
}

func NewKafkaSink(producer Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Name() string {
	return "kafka"
}

func (s *KafkaSink) Deliver(ctx context.Context, sub *models.Submission) error {
	value, err := encodeSubmission(sub, false)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(sub.SessionID.String()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "submission_id", Value: []byte(sub.ID.String())},
			{Key: "content_type", Value: []byte("application/json")},
		},
	}
	if err := s.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce submission: %w", err)
	}
	return nil
}
