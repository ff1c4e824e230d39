package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sheikh-saqib/exchange-ledger/internal/config"
	"github.com/sheikh-saqib/exchange-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/exchange-ledger/internal/storage/pebble"
)

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()

	s, closeFn, err := Open(ctx, config.Store{Driver: config.StoreMemory})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*memory.MemoryLedgerStore); !ok {
		t.Fatalf("memory driver returned %T", s)
	}
	if err := closeFn(); err != nil {
		t.Fatal(err)
	}

	s, closeFn, err = Open(ctx, config.Store{Driver: config.StorePebble, PebblePath: filepath.Join(t.TempDir(), "db")})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*pebble.PebbleLedgerStore); !ok {
		t.Fatalf("pebble driver returned %T", s)
	}
	if err := closeFn(); err != nil {
		t.Fatal(err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, closeFn, err := Open(context.Background(), config.Store{Driver: "sqlite"})
	if err == nil {
		t.Fatal("unknown driver accepted")
	}
	if closeFn == nil || closeFn() != nil {
		t.Fatal("close function must be a usable no-op on failure")
	}
}
