package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"service-dispatch/internal/booking/domain"
)

// KafkaLocationArchive appends every accepted sample to a topic keyed by
// provider, so one provider's samples stay ordered within a partition.
type KafkaLocationArchive struct {
	writer *kafka.Writer
}

func NewKafkaLocationArchive(brokers []string, topic string) *KafkaLocationArchive {
	return &KafkaLocationArchive{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}
}

func (a *KafkaLocationArchive) Append(ctx context.Context, s domain.LocationSample) error {
	msg, err := sampleMessage(s)
	if err != nil {
		return err
	}
	if err := a.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("archive location for %s: %w", s.ProviderID, err)
	}
	return nil
}

func (a *KafkaLocationArchive) Close() error {
	return a.writer.Close()
}

func sampleMessage(s domain.LocationSample) (kafka.Message, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal location sample: %w", err)
	}
	return kafka.Message{
		Key:   []byte(s.ProviderID),
		Value: body,
		Time:  s.Timestamp,
	}, nil
}
