package consumer

import (
	"context"

	"github.com/brianYuDesign/balance-engine/internal/record"
	"github.com/brianYuDesign/balance-engine/internal/stream"
)

// KafkaDeadLetter publishes DLQ wrappers to the dead-letter topic.
type KafkaDeadLetter struct {
	pub   stream.Producer
	topic string
}

func NewKafkaDeadLetter(pub stream.Producer, topic string) *KafkaDeadLetter {
	return &KafkaDeadLetter{pub: pub, topic: topic}
}

func (d *KafkaDeadLetter) Route(ctx context.Context, msg stream.Message, retries int, kind, cause string) error {
	wrapper := record.NewDLQMessage(msg.Topic, msg.Partition, msg.Offset, msg.Key, msg.Value, retries, kind, cause)
	body, err := wrapper.Encode()
	if err != nil {
		return err
	}
	return d.pub.Publish(ctx, d.topic, msg.Key, body, nil)
}
