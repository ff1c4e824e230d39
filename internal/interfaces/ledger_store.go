package interfaces

import (
	"context"
	"errors"

	"github.com/sheikh-saqib/exchange-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// ErrHoldExists is returned by CreateHold when the order id already has a hold.
var ErrHoldExists = errors.New("hold already exists")

// LedgerStore is the persistence contract the ledger core is written against.
//
// Every mutating call made on the store passed to a WithTransaction closure is
// part of that transaction: it commits when the closure returns nil and rolls
// back on an error or a panic. Implementations must serialize concurrent
// mutations to the same (account, asset) balance; inside a transaction
// GetBalance and GetHold lock the rows they read.
type LedgerStore interface {
	// GetBalance returns the stored balance; found is false when no row exists.
	GetBalance(ctx context.Context, accountID, asset string) (balance models.Balance, found bool, err error)
	GetAccountBalances(ctx context.Context, accountID string) ([]models.Balance, error)
	// UpsertBalance overwrites the balance row, creating it if needed.
	UpsertBalance(ctx context.Context, balance models.Balance) error
	// UpdateBalance atomically adds both deltas to the row (creating it from zero)
	// and returns the result. It enforces no invariants.
	UpdateBalance(ctx context.Context, accountID, asset string, availableDelta, heldDelta decimal.Decimal) (models.Balance, error)

	CreateHold(ctx context.Context, hold models.Hold) error
	// ReleaseHold deletes the hold record. Missing holds are not an error.
	ReleaseHold(ctx context.Context, orderID string) error
	// ConsumeHold reduces the hold by amount, deleting it once nothing remains.
	// It returns the remaining hold, or nil when the hold was deleted or absent.
	ConsumeHold(ctx context.Context, orderID string, amount decimal.Decimal) (*models.Hold, error)
	// GetHold returns nil when the order has no hold.
	GetHold(ctx context.Context, orderID string) (*models.Hold, error)
	GetAccountHolds(ctx context.Context, accountID string) ([]models.Hold, error)

	InsertEntry(ctx context.Context, entry models.LedgerEntry) error
	// GetEntries returns matching entries newest first, in a stable order.
	GetEntries(ctx context.Context, accountID string, filter models.EntryFilter) ([]models.LedgerEntry, error)
	// GetEntryByIdempotencyKey returns nil when no entry carries the reference pair.
	GetEntryByIdempotencyKey(ctx context.Context, referenceID, referenceType string) (*models.LedgerEntry, error)

	// WithTransaction runs fn inside one unit of work. Calling it on a store
	// that is already transaction-scoped runs fn in the same transaction.
	WithTransaction(ctx context.Context, fn func(tx LedgerStore) error) error
}
