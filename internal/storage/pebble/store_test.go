package pebble

import (
	"bytes"
	"context"
	"testing"

	interfaces "github.com/sheikh-saqib/exchange-ledger/internal/interfaces"
	"github.com/sheikh-saqib/exchange-ledger/internal/models"
	"github.com/sheikh-saqib/exchange-ledger/internal/storage/storetest"
	"github.com/shopspring/decimal"
)

func openTemp(t *testing.T, dir string) *PebbleLedgerStore {
	t.Helper()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestPebbleLedgerStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) interfaces.LedgerStore {
		s := openTemp(t, t.TempDir())
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := openTemp(t, dir)
	if _, err := s.UpdateBalance(ctx, "alice", "BTC", decimal.RequireFromString("0.00000001"), decimal.Zero); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertEntry(ctx, models.LedgerEntry{ID: "e1", AccountID: "alice", Asset: "BTC", Type: models.EntryDeposit}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s = openTemp(t, dir)
	defer s.Close()
	b, found, err := s.GetBalance(ctx, "alice", "BTC")
	if err != nil || !found {
		t.Fatalf("balance lost on reopen: found=%v err=%v", found, err)
	}
	if b.Available.String() != "0.00000001" {
		t.Fatalf("available = %s after reopen", b.Available)
	}

	// the sequence continues where it stopped
	if err := s.InsertEntry(ctx, models.LedgerEntry{ID: "e2", AccountID: "alice", Asset: "BTC", Type: models.EntryDeposit}); err != nil {
		t.Fatal(err)
	}
	entries, err := s.GetEntries(ctx, "alice", models.EntryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].ID != "e2" || entries[1].ID != "e1" {
		t.Fatalf("entries after reopen = %+v", entries)
	}
}

func TestReadOnlyViewRejectsWrites(t *testing.T) {
	s := openTemp(t, t.TempDir())
	defer s.Close()

	if err := s.read().UpsertBalance(context.Background(), models.ZeroBalance("a", "USD")); err == nil {
		t.Fatal("write through a read view succeeded")
	}
}

func TestKeyUpperBound(t *testing.T) {
	tests := []struct {
		in, want []byte
	}{
		{[]byte("bal:a\x00"), []byte("bal:a\x01")},
		{[]byte{'a', 0xff}, []byte{'b'}},
		{[]byte{0xff, 0xff}, nil},
	}
	for _, tt := range tests {
		if got := keyUpperBound(tt.in); !bytes.Equal(got, tt.want) {
			t.Errorf("keyUpperBound(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestKeysDoNotOverlap(t *testing.T) {
	// "ab" must not fall inside the iteration range of account "a"
	prefix := balancePrefix("a")
	key := balanceKey("ab", "USD")
	if bytes.Compare(key, prefix) >= 0 && bytes.Compare(key, keyUpperBound(prefix)) < 0 {
		t.Fatalf("balance key of account ab lies under prefix of account a")
	}
	if a, b := entryKey("a", 1), entryKey("a", 256); bytes.Compare(a, b) >= 0 {
		t.Fatal("entry keys do not sort by sequence")
	}
}
