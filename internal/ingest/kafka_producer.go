package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/minyan-finder/internal/models"
)

// KafkaProducer publishes created minyan reports for downstream consumers
// (the status-cache consumer, analytics).
type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w}
}

// PublishReport is keyed by synagogue so all reports for one place land in
// order on the same partition.
func (k *KafkaProducer) PublishReport(r models.MinyanReport) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(r)
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(r.SynagogueID), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
