package ledger

import (
	"fmt"
	"sync"

	"github.com/sheikh-saqib/exchange-ledger/internal/models/events"
	"go.uber.org/zap"
)

// EventHandler receives ledger events after the producing transaction commits.
// A returned error is logged and otherwise ignored.
type EventHandler func(evt events.LedgerEvent) error

type subscription struct {
	id uint64
	fn EventHandler
}

// Bus is a synchronous, in-process observer registry. Handlers run in
// registration order on the goroutine that emits.
type Bus struct {
	mu       sync.RWMutex
	handlers []subscription
	nextID   uint64
	logger   *zap.SugaredLogger
}

// NewBus creates an empty registry. A nil logger discards output.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger.Sugar()}
}

// Subscribe registers fn and returns a function that removes it again.
// Calling the returned function more than once is harmless.
func (b *Bus) Subscribe(fn EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.handlers {
		if s.id == id {
			b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
			return
		}
	}
}

// Len reports how many handlers are registered.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

// Emit delivers each event to every handler registered at the time of the call.
func (b *Bus) Emit(evts ...events.LedgerEvent) {
	if len(evts) == 0 {
		return
	}
	b.mu.RLock()
	handlers := make([]subscription, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, evt := range evts {
		for _, s := range handlers {
			if err := b.dispatch(s, evt); err != nil {
				b.logger.Warnw("event_handler_failed",
					"kind", evt.Kind,
					"account_id", evt.AccountID,
					"asset", evt.Asset,
					"handler", s.id,
					"err", err)
			}
		}
	}
}

func (b *Bus) dispatch(s subscription, evt events.LedgerEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return s.fn(evt)
}
