package stream

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer abstracts publication so the outbox writer, sweeper and DLQ
// router can be tested without a broker.
type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
	Close() error
}

// KafkaProducer publishes through a single writer. The Hash balancer
// routes every message with the same key to the same partition, which
// is what keeps one account's mutations in order.
type KafkaProducer struct {
	w *kafka.Writer
}

func NewKafkaProducer(brokers []string) *KafkaProducer {
	return &KafkaProducer{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}}
}

func (p *KafkaProducer) Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
		Time:  time.Now(),
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return p.w.WriteMessages(ctx, msg)
}

func (p *KafkaProducer) Close() error { return p.w.Close() }
