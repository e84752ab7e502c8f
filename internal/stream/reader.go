package stream

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Message is one consumed log record.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Time      time.Time
}

// Source yields records for exactly one partition. Offsets are managed
// by the caller (they live in the relational store), so Sources carry
// no group state.
type Source interface {
	Fetch(ctx context.Context) (Message, error)
	Close() error
}

// SourceFactory opens a Source positioned at startOffset. Workers call
// it each time they win the lease so consumption resumes from the
// committed offset.
type SourceFactory func(startOffset int64) (Source, error)

// PartitionReader reads a single partition directly, without consumer
// group management.
type PartitionReader struct {
	r *kafka.Reader
}

func NewPartitionReader(brokers []string, topic string, partition int, startOffset int64) (*PartitionReader, error) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: partition,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	if err := r.SetOffset(startOffset); err != nil {
		r.Close()
		return nil, err
	}
	return &PartitionReader{r: r}, nil
}

func (p *PartitionReader) Fetch(ctx context.Context) (Message, error) {
	m, err := p.r.ReadMessage(ctx)
	if err != nil {
		return Message{}, err
	}
	hdrs := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		hdrs[h.Key] = string(h.Value)
	}
	return Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Headers:   hdrs,
		Time:      m.Time,
	}, nil
}

func (p *PartitionReader) Close() error { return p.r.Close() }
