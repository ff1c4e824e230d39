package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/subcommands"
	"github.com/sheikh-saqib/exchange-ledger/internal/models"
	"github.com/sheikh-saqib/exchange-ledger/internal/storage/postgres"
	"github.com/shopspring/decimal"
)

type migrateCmd struct{}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "create the ledger tables in PostgreSQL" }
func (*migrateCmd) Usage() string {
	return `ledgerctl migrate

  Applies the ledger schema to the database in POSTGRES_DSN. Safe to run
  repeatedly.
`
}
func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (*migrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig()
	if err != nil {
		return fail(err)
	}
	if cfg.Store.PostgresDSN == "" {
		return fail(errors.New("migrate: POSTGRES_DSN is not set"))
	}
	db, err := postgres.Open(ctx, cfg.Store.PostgresDSN)
	if err != nil {
		return fail(err)
	}
	defer db.Close()

	if err := postgres.Migrate(ctx, db); err != nil {
		return fail(err)
	}
	fmt.Println("schema up to date")
	return subcommands.ExitSuccess
}

type seedCmd struct {
	account   string
	asset     string
	available string
	held      string
}

func (*seedCmd) Name() string     { return "seed" }
func (*seedCmd) Synopsis() string { return "overwrite a balance without writing ledger entries" }
func (*seedCmd) Usage() string {
	return `ledgerctl seed -account <id> -asset <code> -available <amount> [-held <amount>]

  Sets a balance directly. No entry is recorded and no event is emitted, so
  use it only to bootstrap or migrate data.
`
}

func (c *seedCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.account, "account", "", "account id")
	f.StringVar(&c.asset, "asset", "", "asset code, e.g. USD or BTC")
	f.StringVar(&c.available, "available", "0", "available amount")
	f.StringVar(&c.held, "held", "0", "held amount")
}

func (c *seedCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	available, err := decimal.NewFromString(c.available)
	if err != nil {
		return fail(fmt.Errorf("-available: %w", err))
	}
	held, err := decimal.NewFromString(c.held)
	if err != nil {
		return fail(fmt.Errorf("-held: %w", err))
	}

	l, cleanup, err := openLedger(ctx)
	if err != nil {
		return fail(err)
	}
	defer cleanup()

	b, err := l.InitializeBalance(ctx, c.account, c.asset, available, held)
	if err != nil {
		return fail(err)
	}
	printBalances(os.Stdout, []models.Balance{b})
	return subcommands.ExitSuccess
}

type balancesCmd struct {
	account string
}

func (*balancesCmd) Name() string     { return "balances" }
func (*balancesCmd) Synopsis() string { return "print an account's balances and open holds" }
func (*balancesCmd) Usage() string {
	return `ledgerctl balances -account <id>
`
}

func (c *balancesCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.account, "account", "", "account id")
}

func (c *balancesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.account == "" {
		return fail(errors.New("-account is required"))
	}
	l, cleanup, err := openLedger(ctx)
	if err != nil {
		return fail(err)
	}
	defer cleanup()

	balances, err := l.GetAccountBalances(ctx, c.account)
	if err != nil {
		return fail(err)
	}
	holds, err := l.GetAccountHolds(ctx, c.account)
	if err != nil {
		return fail(err)
	}
	printBalances(os.Stdout, balances)
	if len(holds) > 0 {
		fmt.Println()
		printHolds(os.Stdout, holds)
	}
	return subcommands.ExitSuccess
}

type entriesCmd struct {
	account string
	asset   string
	typ     string
	limit   int
	offset  int
	since   string
}

func (*entriesCmd) Name() string     { return "entries" }
func (*entriesCmd) Synopsis() string { return "print an account's ledger entries, newest first" }
func (*entriesCmd) Usage() string {
	return `ledgerctl entries -account <id> [-asset <code>] [-type <type>] [-limit n] [-offset n] [-since <RFC3339>]
`
}

func (c *entriesCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.account, "account", "", "account id")
	f.StringVar(&c.asset, "asset", "", "only entries in this asset")
	f.StringVar(&c.typ, "type", "", "only entries of this type (deposit, withdrawal, trade_buy, trade_sell, fee)")
	f.IntVar(&c.limit, "limit", 50, "page size, at most 1000")
	f.IntVar(&c.offset, "offset", 0, "entries to skip")
	f.StringVar(&c.since, "since", "", "only entries created at or after this time")
}

func (c *entriesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.account == "" {
		return fail(errors.New("-account is required"))
	}
	filter := models.EntryFilter{
		Asset:  c.asset,
		Type:   models.EntryType(c.typ),
		Limit:  c.limit,
		Offset: c.offset,
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return fail(fmt.Errorf("-type: unknown entry type %q", c.typ))
	}
	if c.since != "" {
		t, err := time.Parse(time.RFC3339, c.since)
		if err != nil {
			return fail(fmt.Errorf("-since: %w", err))
		}
		filter.StartTime = &t
	}

	l, cleanup, err := openLedger(ctx)
	if err != nil {
		return fail(err)
	}
	defer cleanup()

	entries, err := l.GetEntries(ctx, c.account, filter)
	if err != nil {
		return fail(err)
	}
	printEntries(os.Stdout, entries)
	return subcommands.ExitSuccess
}
