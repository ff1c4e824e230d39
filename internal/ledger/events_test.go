package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/sheikh-saqib/exchange-ledger/internal/models/events"
)

func TestBusOrderAndUnsubscribe(t *testing.T) {
	bus := NewBus(nil)
	var got []string
	handler := func(name string) EventHandler {
		return func(events.LedgerEvent) error {
			got = append(got, name)
			return nil
		}
	}
	unsubA := bus.Subscribe(handler("a"))
	bus.Subscribe(handler("b"))
	unsubC := bus.Subscribe(handler("c"))

	bus.Emit(events.LedgerEvent{Kind: events.BalanceUpdated})
	if want := "abc"; join(got) != want {
		t.Fatalf("order = %q, want %q", join(got), want)
	}

	got = nil
	unsubA()
	unsubA()
	unsubC()
	if bus.Len() != 1 {
		t.Fatalf("Len = %d after unsubscribing two, want 1", bus.Len())
	}
	bus.Emit(events.LedgerEvent{}, events.LedgerEvent{})
	if want := "bb"; join(got) != want {
		t.Fatalf("after unsubscribe = %q, want %q", join(got), want)
	}
}

func join(s []string) string {
	out := ""
	for _, v := range s {
		out += v
	}
	return out
}

func TestHandlerFailuresDoNotFailOperation(t *testing.T) {
	l := newTestLedger(t)
	l.OnEvent(func(events.LedgerEvent) error { panic("boom") })
	l.OnEvent(func(events.LedgerEvent) error { return errors.New("nope") })
	rec := record(l)

	if _, err := l.Deposit(context.Background(), "alice", "USD", d("10"), ""); err != nil {
		t.Fatalf("deposit failed because of a handler: %v", err)
	}
	if n := len(rec.events()); n != 1 {
		t.Fatalf("later handler saw %d events, want 1", n)
	}
	expectBalance(t, l, "alice", "USD", "10", "0")
}

func TestHandlerSeesCommittedState(t *testing.T) {
	l := newTestLedger(t)
	var seen string
	l.OnEvent(func(evt events.LedgerEvent) error {
		// the store's transaction lock is released by now
		b, err := l.GetBalance(context.Background(), evt.AccountID, evt.Asset)
		if err != nil {
			return err
		}
		seen = b.Available.String()
		return nil
	})

	deposit(t, l, "alice", "USD", "42")
	if seen != "42" {
		t.Fatalf("handler read available %q, want 42", seen)
	}
}

func TestFailedOperationEmitsNothing(t *testing.T) {
	l := newTestLedger(t)
	deposit(t, l, "alice", "USD", "10")
	rec := record(l)
	ctx := context.Background()

	l.Withdraw(ctx, "alice", "USD", d("11"), "")
	l.ReleaseHold(ctx, "missing")
	l.ConsumeHold(ctx, "missing")
	hold(t, l, "alice", "USD", "50", "too-big")

	if evs := rec.events(); len(evs) != 0 {
		t.Fatalf("got %d events from failed operations: %+v", len(evs), evs)
	}
}

func TestOnEventUnsubscribe(t *testing.T) {
	l := newTestLedger(t)
	calls := 0
	stop := l.OnEvent(func(events.LedgerEvent) error {
		calls++
		return nil
	})
	deposit(t, l, "alice", "USD", "1")
	stop()
	if n := l.Bus().Len(); n != 0 {
		t.Fatalf("%d handlers left after unsubscribe", n)
	}
	deposit(t, l, "alice", "USD", "1")
	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
}
