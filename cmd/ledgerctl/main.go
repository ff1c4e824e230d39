// Command ledgerctl administers a ledger database: it migrates schemas,
// seeds balances and prints balances and entries. It reads the same
// configuration as the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path"

	"github.com/google/subcommands"
	"github.com/sheikh-saqib/exchange-ledger/internal/config"
	"github.com/sheikh-saqib/exchange-ledger/internal/ledger"
	"github.com/sheikh-saqib/exchange-ledger/internal/logging"
	"github.com/sheikh-saqib/exchange-ledger/internal/storage"
)

var envPath = flag.String("env", "", "path to a .env file (default: ./.env if present)")

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	commander.Register(&migrateCmd{}, "admin")
	commander.Register(&seedCmd{}, "admin")
	commander.Register(&balancesCmd{}, "inspect")
	commander.Register(&entriesCmd{}, "inspect")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

func loadConfig() (config.Config, error) {
	return config.LoadFromEnv(*envPath)
}

// openLedger opens the configured store and wraps it in a ledger. The
// returned function closes the store.
func openLedger(ctx context.Context) (*ledger.Ledger, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Store.Driver == config.StoreMemory {
		fmt.Fprintln(os.Stderr, "warning: STORE_DRIVER=memory, nothing will persist")
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return nil, nil, err
	}
	store, closeStore, err := storage.Open(ctx, cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		closeStore()
		logger.Sync()
	}
	return ledger.NewLedger(store, ledger.WithLogger(logger)), cleanup, nil
}

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, err)
	return subcommands.ExitFailure
}
