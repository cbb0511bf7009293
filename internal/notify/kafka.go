package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/zainulabideen041/storink/internal/apperr"
)

// producer is the part of *kgo.Client the notifier uses.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaNotifier publishes messages as JSON records keyed by recipient. The
// mailer service consumes the topic and does the actual delivery.
type KafkaNotifier struct {
	client producer
	topic  string
}

// NewKafkaNotifier connects a producer to brokers.
func NewKafkaNotifier(brokers []string, topic string) (*KafkaNotifier, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaNotifier{client: client, topic: topic}, nil
}

// Send publishes m and waits for the broker acknowledgement.
func (n *KafkaNotifier) Send(ctx context.Context, m Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	rec := &kgo.Record{
		Topic: n.topic,
		Key:   []byte(m.Recipient),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "purpose", Value: []byte(m.Purpose)},
		},
	}
	if err := n.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce notification: %w: %w", apperr.ErrUpstream, err)
	}
	return nil
}

// Close releases the client. Call it after the dispatcher is drained.
func (n *KafkaNotifier) Close() {
	n.client.Close()
}
