// Package notify forwards ledger events to a message broker.
//
// Delivery is at-most-once: events are queued in memory and dropped when
// the queue is full or the broker rejects them. Consumers that need every
// change should reconcile from ledger entries.
package notify

import (
	"context"
	"sync/atomic"
	"time"

	interfaces "github.com/sheikh-saqib/exchange-ledger/internal/interfaces"
	"github.com/sheikh-saqib/exchange-ledger/internal/models/events"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// Forwarder publishes each event to topic "<prefix>.<kind>", keyed by
// account id so that one account's events stay ordered on a partition.
type Forwarder struct {
	pub     interfaces.EventPublisher
	prefix  string
	queue   chan events.LedgerEvent
	logger  *zap.SugaredLogger
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func NewForwarder(pub interfaces.EventPublisher, prefix string, buffer int, logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 1
	}
	return &Forwarder{
		pub:    pub,
		prefix: prefix,
		queue:  make(chan events.LedgerEvent, buffer),
		logger: logger.Sugar(),
	}
}

// Handle queues evt without blocking. It has the signature of a ledger event
// handler and never fails the operation that produced the event.
func (f *Forwarder) Handle(evt events.LedgerEvent) error {
	select {
	case f.queue <- evt:
	default:
		f.dropped.Add(1)
		f.logger.Warnw("event_dropped", "kind", evt.Kind, "account_id", evt.AccountID, "reason", "queue_full")
	}
	return nil
}

// Topic returns the broker topic for an event kind.
func (f *Forwarder) Topic(kind events.Kind) string {
	if f.prefix == "" {
		return string(kind)
	}
	return f.prefix + "." + string(kind)
}

// Run publishes queued events until ctx is done, then drains what is already
// queued and returns.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		select {
		case evt := <-f.queue:
			f.publish(ctx, evt)
		case <-ctx.Done():
			f.drain()
			return
		}
	}
}

func (f *Forwarder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	for {
		select {
		case evt := <-f.queue:
			f.publish(ctx, evt)
		default:
			return
		}
	}
}

func (f *Forwarder) publish(ctx context.Context, evt events.LedgerEvent) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := f.pub.Publish(ctx, f.Topic(evt.Kind), evt.AccountID, evt); err != nil {
		f.failed.Add(1)
		f.logger.Warnw("event_publish_failed",
			"kind", evt.Kind,
			"account_id", evt.AccountID,
			"err", err)
	}
}

// Dropped counts events discarded because the queue was full.
func (f *Forwarder) Dropped() uint64 { return f.dropped.Load() }

// Failed counts events the publisher rejected.
func (f *Forwarder) Failed() uint64 { return f.failed.Load() }
