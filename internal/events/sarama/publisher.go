package sarama

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	interfaces "github.com/sheikh-saqib/exchange-ledger/internal/interfaces"
)

// Publisher sends JSON events through a sarama SyncProducer.
type Publisher struct {
	producer sarama.SyncProducer
}

// NewPublisher connects a synchronous producer that waits for all in-sync
// replicas to acknowledge each message.
func NewPublisher(brokers []string) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return NewPublisherFromProducer(producer), nil
}

// NewPublisherFromProducer wraps an existing producer, e.g. sarama/mocks in tests.
func NewPublisherFromProducer(producer sarama.SyncProducer) *Publisher {
	return &Publisher{producer: producer}
}

// Publish blocks until the broker acknowledges. sarama has no per-call
// context, so ctx is only checked before sending.
func (p *Publisher) Publish(ctx context.Context, topic, key string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	})
	return err
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}

var _ interfaces.EventPublisher = (*Publisher)(nil)
