package storage

import (
	"context"
	"fmt"

	"github.com/sheikh-saqib/exchange-ledger/internal/config"
	interfaces "github.com/sheikh-saqib/exchange-ledger/internal/interfaces"
	"github.com/sheikh-saqib/exchange-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/exchange-ledger/internal/storage/pebble"
	"github.com/sheikh-saqib/exchange-ledger/internal/storage/postgres"
)

// Open builds the LedgerStore selected by cfg.Driver. The returned close
// function releases the underlying database and is never nil. Postgres
// schemas are migrated on open.
func Open(ctx context.Context, cfg config.Store) (interfaces.LedgerStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case config.StoreMemory, "":
		return memory.NewMemoryLedgerStore(), noop, nil

	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, noop, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, noop, err
		}
		return postgres.NewPostgresLedgerStore(db), db.Close, nil

	case config.StorePebble:
		s, err := pebble.Open(cfg.PebblePath)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	}
	return nil, noop, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
