package ledger

import (
	"context"
	"slices"

	interfaces "github.com/sheikh-saqib/exchange-ledger/internal/interfaces"
	"github.com/sheikh-saqib/exchange-ledger/internal/models"
	"github.com/sheikh-saqib/exchange-ledger/internal/models/events"
	"github.com/shopspring/decimal"
)

// inTx runs fn in one store transaction and hands back its value.
func inTx[T any](ctx context.Context, store interfaces.LedgerStore, fn func(tx interfaces.LedgerStore) (T, error)) (T, error) {
	var out T
	err := store.WithTransaction(ctx, func(tx interfaces.LedgerStore) error {
		v, err := fn(tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// unit is the state of one ledger operation inside its transaction.
// Events queued on it are emitted only after the commit.
type unit struct {
	ctx     context.Context
	l       *Ledger
	tx      interfaces.LedgerStore
	pending []events.LedgerEvent
	entries []models.LedgerEntry
}

// run executes fn as a single unit of work and emits its queued events once
// the transaction has committed.
func run[T any](ctx context.Context, l *Ledger, fn func(u *unit) (T, error)) (T, error) {
	var u *unit
	out, err := inTx(ctx, l.store, func(tx interfaces.LedgerStore) (T, error) {
		u = &unit{ctx: ctx, l: l, tx: tx} // fresh per attempt
		return fn(u)
	})
	if err != nil {
		return out, err
	}
	l.bus.Emit(u.pending...)
	return out, nil
}

// lock touches the given balance rows in canonical order so that two units
// touching the same pair of accounts always lock them in the same sequence.
// A zero-delta update creates a missing row, so rows that do not exist yet are
// locked too; a read alone would lock nothing.
func (u *unit) lock(keys ...models.BalanceKey) error {
	sorted := slices.Clone(keys)
	slices.SortFunc(sorted, func(a, b models.BalanceKey) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
	sorted = slices.Compact(sorted)
	for _, k := range sorted {
		if _, err := u.tx.UpdateBalance(u.ctx, k.AccountID, k.Asset, decimal.Zero, decimal.Zero); err != nil {
			return err
		}
	}
	return nil
}

func (u *unit) emit(kind events.Kind, b models.Balance, change decimal.Decimal, metadata map[string]string) {
	u.pending = append(u.pending, events.LedgerEvent{
		Kind:       kind,
		AccountID:  b.AccountID,
		Asset:      b.Asset,
		Change:     change,
		NewBalance: b,
		Timestamp:  u.l.now().UTC(),
		Metadata:   metadata,
	})
}
