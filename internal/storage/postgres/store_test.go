package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/lib/pq"
	interfaces "github.com/sheikh-saqib/exchange-ledger/internal/interfaces"
	"github.com/sheikh-saqib/exchange-ledger/internal/ledger"
	"github.com/sheikh-saqib/exchange-ledger/internal/models"
	"github.com/sheikh-saqib/exchange-ledger/internal/storage/storetest"
	"github.com/shopspring/decimal"
)

// These tests need a scratch database, e.g.
// LEDGER_TEST_POSTGRES_DSN=postgres://postgres@localhost/ledger_test?sslmode=disable
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("LEDGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LEDGER_TEST_POSTGRES_DSN not set")
	}
	db, err := Open(context.Background(), dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPostgresLedgerStore(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// twice: migrations must be idempotent
	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, db); err != nil {
			t.Fatal(err)
		}
	}

	// the suite uses random account and order ids, so runs do not collide
	storetest.Run(t, func(*testing.T) interfaces.LedgerStore {
		return NewPostgresLedgerStore(db)
	})
}

// Two settlements in opposite directions create the same balance rows. Both
// must lock them in one order or Postgres aborts one with a deadlock.
func TestOppositeSettlementsOnFreshRows(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := Migrate(ctx, db); err != nil {
		t.Fatal(err)
	}
	l := ledger.NewLedger(NewPostgresLedgerStore(db))

	for round := 0; round < 5; round++ {
		a, b := uuid.NewString(), uuid.NewString()
		if _, err := l.Deposit(ctx, a, "USD", decimal.NewFromInt(1000), ""); err != nil {
			t.Fatal(err)
		}
		if _, err := l.Deposit(ctx, b, "BTC", decimal.NewFromInt(10), ""); err != nil {
			t.Fatal(err)
		}

		var wg sync.WaitGroup
		start := make(chan struct{})
		for i, pair := range [][2]string{{a, b}, {b, a}} {
			wg.Add(1)
			go func(i int, buyer, seller string) {
				defer wg.Done()
				<-start
				_, err := l.SettleTrade(ctx, models.TradeSettlementInput{
					TradeID:         uuid.NewString(),
					BuyerAccountID:  buyer,
					SellerAccountID: seller,
					Symbol:          "BTC-USD",
					Price:           decimal.NewFromInt(100),
					Quantity:        decimal.NewFromInt(1),
				})
				// the reverse trade may run first and find nothing to spend
				if err != nil && !errors.Is(err, ledger.ErrInsufficientBalance) {
					t.Errorf("settlement %d: %v", i, err)
				}
			}(i, pair[0], pair[1])
		}
		close(start)
		wg.Wait()

		usd, btc := decimal.Zero, decimal.Zero
		for _, acct := range []string{a, b} {
			u, err := l.GetBalance(ctx, acct, "USD")
			if err != nil {
				t.Fatal(err)
			}
			c, err := l.GetBalance(ctx, acct, "BTC")
			if err != nil {
				t.Fatal(err)
			}
			usd, btc = usd.Add(u.Total), btc.Add(c.Total)
		}
		if !usd.Equal(decimal.NewFromInt(1000)) || !btc.Equal(decimal.NewFromInt(10)) {
			t.Fatalf("round %d: USD %s BTC %s across both accounts", round, usd, btc)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if isUniqueViolation(nil) {
		t.Fatal("nil is not a unique violation")
	}
	if !isUniqueViolation(&pq.Error{Code: "23505"}) {
		t.Fatal("23505 is a unique violation")
	}
	if isUniqueViolation(&pq.Error{Code: "40001"}) {
		t.Fatal("40001 is not a unique violation")
	}
}
