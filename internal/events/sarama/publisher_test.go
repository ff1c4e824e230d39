package sarama

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/sheikh-saqib/exchange-ledger/internal/models/events"
)

func TestPublishSendsKeyedJSON(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "ledger.deposit_completed" {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil || string(key) != "alice" {
			return errors.New("wrong key " + string(key))
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var evt events.LedgerEvent
		if err := json.Unmarshal(value, &evt); err != nil {
			return err
		}
		if evt.Kind != events.DepositCompleted || evt.AccountID != "alice" {
			return errors.New("wrong payload " + string(value))
		}
		return nil
	})

	p := NewPublisherFromProducer(producer)
	err := p.Publish(context.Background(), "ledger.deposit_completed", "alice",
		events.LedgerEvent{Kind: events.DepositCompleted, AccountID: "alice", Asset: "USD"})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestPublishReturnsBrokerError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	p := NewPublisherFromProducer(producer)
	defer p.Close()
	err := p.Publish(context.Background(), "ledger.hold_created", "bob", events.LedgerEvent{})
	if !errors.Is(err, sarama.ErrNotLeaderForPartition) {
		t.Fatalf("want ErrNotLeaderForPartition, got %v", err)
	}
}

func TestPublishHonoursCancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil) // no expectations: nothing may be sent
	p := NewPublisherFromProducer(producer)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Publish(ctx, "t", "k", events.LedgerEvent{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
