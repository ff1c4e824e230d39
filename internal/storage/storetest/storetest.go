// Package storetest checks that a LedgerStore implementation honours the
// contract the ledger relies on. Each backend's tests call Run with a
// constructor for a fresh, empty store.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	interfaces "github.com/sheikh-saqib/exchange-ledger/internal/interfaces"
	"github.com/sheikh-saqib/exchange-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// Run executes the suite. newStore is called once per subtest.
func Run(t *testing.T, newStore func(t *testing.T) interfaces.LedgerStore) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s interfaces.LedgerStore)
	}{
		{"Balances", testBalances},
		{"Rollback", testRollback},
		{"NestedTransaction", testNestedTransaction},
		{"Holds", testHolds},
		{"Entries", testEntries},
		{"IdempotencyKey", testIdempotencyKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var errAbort = errors.New("abort")

func testBalances(t *testing.T, s interfaces.LedgerStore) {
	ctx := context.Background()
	acct := uuid.NewString()

	if _, found, err := s.GetBalance(ctx, acct, "USD"); err != nil || found {
		t.Fatalf("GetBalance on empty store: found=%v err=%v", found, err)
	}

	b, err := s.UpdateBalance(ctx, acct, "USD", d("10.5"), d("2"))
	if err != nil {
		t.Fatal(err)
	}
	if !b.Available.Equal(d("10.5")) || !b.Held.Equal(d("2")) || !b.Total.Equal(d("12.5")) {
		t.Fatalf("UpdateBalance from zero = %+v", b)
	}
	b, err = s.UpdateBalance(ctx, acct, "USD", d("-0.5"), d("-2"))
	if err != nil {
		t.Fatal(err)
	}
	if !b.Available.Equal(d("10")) || !b.Held.IsZero() || !b.Total.Equal(d("10")) {
		t.Fatalf("second UpdateBalance = %+v", b)
	}

	// Total is derived, whatever the caller passed
	if err := s.UpsertBalance(ctx, models.Balance{
		AccountID: acct, Asset: "BTC",
		Available: d("0.12345678"), Held: d("1"), Total: d("999"),
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}
	got, found, err := s.GetBalance(ctx, acct, "BTC")
	if err != nil || !found {
		t.Fatalf("GetBalance after upsert: found=%v err=%v", found, err)
	}
	if !got.Total.Equal(d("1.12345678")) {
		t.Fatalf("Total = %s, want 1.12345678", got.Total)
	}

	all, err := s.GetAccountBalances(ctx, acct)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Asset != "BTC" || all[1].Asset != "USD" {
		t.Fatalf("GetAccountBalances = %+v, want BTC then USD", all)
	}
	// an account id that prefixes another must not see its rows
	if other, err := s.GetAccountBalances(ctx, acct[:8]); err != nil || len(other) != 0 {
		t.Fatalf("prefix account sees %d balances, err=%v", len(other), err)
	}
}

func testRollback(t *testing.T, s interfaces.LedgerStore) {
	ctx := context.Background()
	acct := uuid.NewString()
	if _, err := s.UpdateBalance(ctx, acct, "USD", d("100"), decimal.Zero); err != nil {
		t.Fatal(err)
	}

	err := s.WithTransaction(ctx, func(tx interfaces.LedgerStore) error {
		if _, err := tx.UpdateBalance(ctx, acct, "USD", d("-100"), decimal.Zero); err != nil {
			return err
		}
		if err := tx.CreateHold(ctx, models.Hold{OrderID: acct, AccountID: acct, Asset: "USD", Amount: d("1"), CreatedAt: time.Now().UTC()}); err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, entry(acct, "USD", "-100", "ref-"+acct)); err != nil {
			return err
		}
		// the transaction sees its own writes
		b, _, err := tx.GetBalance(ctx, acct, "USD")
		if err != nil {
			return err
		}
		if !b.Available.IsZero() {
			t.Errorf("in-transaction read = %s, want 0", b.Available)
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("WithTransaction = %v, want errAbort", err)
	}

	b, _, err := s.GetBalance(ctx, acct, "USD")
	if err != nil {
		t.Fatal(err)
	}
	if !b.Available.Equal(d("100")) {
		t.Fatalf("balance after rollback = %s, want 100", b.Available)
	}
	if h, err := s.GetHold(ctx, acct); err != nil || h != nil {
		t.Fatalf("hold survived rollback: %+v, %v", h, err)
	}
	if e, err := s.GetEntryByIdempotencyKey(ctx, "ref-"+acct, models.ReferenceDeposit); err != nil || e != nil {
		t.Fatalf("entry survived rollback: %+v, %v", e, err)
	}
}

func testNestedTransaction(t *testing.T, s interfaces.LedgerStore) {
	ctx := context.Background()
	acct := uuid.NewString()

	err := s.WithTransaction(ctx, func(outer interfaces.LedgerStore) error {
		if _, err := outer.UpdateBalance(ctx, acct, "USD", d("1"), decimal.Zero); err != nil {
			return err
		}
		return outer.WithTransaction(ctx, func(inner interfaces.LedgerStore) error {
			b, found, err := inner.GetBalance(ctx, acct, "USD")
			if err != nil {
				return err
			}
			if !found || !b.Available.Equal(d("1")) {
				t.Errorf("inner transaction cannot see outer write: found=%v %+v", found, b)
			}
			_, err = inner.UpdateBalance(ctx, acct, "USD", d("1"), decimal.Zero)
			return err
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	b, _, _ := s.GetBalance(ctx, acct, "USD")
	if !b.Available.Equal(d("2")) {
		t.Fatalf("after nested commit = %s, want 2", b.Available)
	}

	// an inner failure aborts the whole unit
	err = s.WithTransaction(ctx, func(outer interfaces.LedgerStore) error {
		if _, err := outer.UpdateBalance(ctx, acct, "USD", d("5"), decimal.Zero); err != nil {
			return err
		}
		return outer.WithTransaction(ctx, func(interfaces.LedgerStore) error { return errAbort })
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("want errAbort, got %v", err)
	}
	b, _, _ = s.GetBalance(ctx, acct, "USD")
	if !b.Available.Equal(d("2")) {
		t.Fatalf("after nested rollback = %s, want 2", b.Available)
	}
}

func testHolds(t *testing.T, s interfaces.LedgerStore) {
	ctx := context.Background()
	acct := uuid.NewString()
	first, second := uuid.NewString(), uuid.NewString()
	t0 := time.Now().UTC().Truncate(time.Millisecond)

	if err := s.CreateHold(ctx, models.Hold{OrderID: first, AccountID: acct, Asset: "USD", Amount: d("10"), CreatedAt: t0}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateHold(ctx, models.Hold{OrderID: second, AccountID: acct, Asset: "BTC", Amount: d("0.5"), CreatedAt: t0.Add(time.Second)}); err != nil {
		t.Fatal(err)
	}
	err := s.CreateHold(ctx, models.Hold{OrderID: first, AccountID: acct, Asset: "USD", Amount: d("1"), CreatedAt: t0})
	if !errors.Is(err, interfaces.ErrHoldExists) {
		t.Fatalf("duplicate CreateHold = %v, want ErrHoldExists", err)
	}

	holds, err := s.GetAccountHolds(ctx, acct)
	if err != nil {
		t.Fatal(err)
	}
	if len(holds) != 2 || holds[0].OrderID != first || holds[1].OrderID != second {
		t.Fatalf("GetAccountHolds = %+v, want oldest first", holds)
	}

	h, err := s.ConsumeHold(ctx, first, d("4"))
	if err != nil {
		t.Fatal(err)
	}
	if h == nil || !h.Amount.Equal(d("6")) {
		t.Fatalf("partial ConsumeHold = %+v, want 6 remaining", h)
	}
	if h, err := s.ConsumeHold(ctx, first, d("6")); err != nil || h != nil {
		t.Fatalf("full ConsumeHold = %+v, %v; want nil", h, err)
	}
	if h, err := s.GetHold(ctx, first); err != nil || h != nil {
		t.Fatalf("consumed hold still readable: %+v, %v", h, err)
	}
	if h, err := s.ConsumeHold(ctx, first, d("1")); err != nil || h != nil {
		t.Fatalf("ConsumeHold of missing hold = %+v, %v", h, err)
	}

	if err := s.ReleaseHold(ctx, second); err != nil {
		t.Fatal(err)
	}
	if err := s.ReleaseHold(ctx, second); err != nil {
		t.Fatalf("releasing a missing hold: %v", err)
	}
	if holds, err := s.GetAccountHolds(ctx, acct); err != nil || len(holds) != 0 {
		t.Fatalf("holds left after release: %+v, %v", holds, err)
	}
}

func testEntries(t *testing.T, s interfaces.LedgerStore) {
	ctx := context.Background()
	acct := uuid.NewString()
	base := time.Now().UTC().Truncate(time.Second)

	var ids []string
	for i, asset := range []string{"USD", "BTC", "USD", "USD"} {
		e := entry(acct, asset, "1", "")
		e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		ids = append(ids, e.ID)
		if err := s.InsertEntry(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	// another account's entry must stay out of the results
	if err := s.InsertEntry(ctx, entry(uuid.NewString(), "USD", "1", "")); err != nil {
		t.Fatal(err)
	}

	all, err := s.GetEntries(ctx, acct, models.EntryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 || all[0].ID != ids[3] || all[3].ID != ids[0] {
		t.Fatalf("GetEntries not newest first: %v", entryIDs(all))
	}

	usd, err := s.GetEntries(ctx, acct, models.EntryFilter{Asset: "USD", Limit: 2, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(usd) != 2 || usd[0].ID != ids[2] || usd[1].ID != ids[0] {
		t.Fatalf("USD page = %v, want [%s %s]", entryIDs(usd), ids[2], ids[0])
	}

	start, end := base.Add(time.Minute), base.Add(3*time.Minute)
	ranged, err := s.GetEntries(ctx, acct, models.EntryFilter{StartTime: &start, EndTime: &end})
	if err != nil {
		t.Fatal(err)
	}
	if len(ranged) != 2 || ranged[0].ID != ids[2] || ranged[1].ID != ids[1] {
		t.Fatalf("time range = %v, want [%s %s]", entryIDs(ranged), ids[2], ids[1])
	}

	fees, err := s.GetEntries(ctx, acct, models.EntryFilter{Type: models.EntryFee})
	if err != nil {
		t.Fatal(err)
	}
	if fees == nil || len(fees) != 0 {
		t.Fatalf("want empty non-nil result, got %#v", fees)
	}
}

func testIdempotencyKey(t *testing.T, s interfaces.LedgerStore) {
	ctx := context.Background()
	acct := uuid.NewString()
	ref := uuid.NewString()

	first := entry(acct, "USD", "5", ref)
	second := entry(acct, "USD", "-5", ref)
	if err := s.InsertEntry(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertEntry(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetEntryByIdempotencyKey(ctx, ref, models.ReferenceDeposit)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != first.ID {
		t.Fatalf("GetEntryByIdempotencyKey = %+v, want first entry %s", got, first.ID)
	}
	if !got.Amount.Equal(d("5")) || got.Status != models.EntryCompleted {
		t.Fatalf("entry did not round-trip: %+v", got)
	}
	if got, err := s.GetEntryByIdempotencyKey(ctx, ref, models.ReferenceWithdrawal); err != nil || got != nil {
		t.Fatalf("lookup under another reference type = %+v, %v", got, err)
	}
}

func entry(account, asset, amount, ref string) models.LedgerEntry {
	e := models.LedgerEntry{
		ID:           uuid.NewString(),
		AccountID:    account,
		Asset:        asset,
		Type:         models.EntryDeposit,
		Amount:       d(amount),
		BalanceAfter: d(amount),
		Status:       models.EntryCompleted,
		CreatedAt:    time.Now().UTC(),
	}
	if ref != "" {
		e.ReferenceID = ref
		e.ReferenceType = models.ReferenceDeposit
	}
	return e
}

func entryIDs(entries []models.LedgerEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}
