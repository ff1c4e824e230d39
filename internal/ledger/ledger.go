package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	interfaces "github.com/sheikh-saqib/exchange-ledger/internal/interfaces"
	"github.com/sheikh-saqib/exchange-ledger/internal/models"
	"github.com/sheikh-saqib/exchange-ledger/internal/models/events"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger is the ledger service. It owns no balance state itself: every
// operation is one transaction against the store, and the store is what
// serializes concurrent changes to the same balance.
type Ledger struct {
	store  interfaces.LedgerStore // any storage implementation: memory, postgres, pebble
	bus    *Bus                   // observers, notified after commit
	logger *zap.SugaredLogger
	now    func() time.Time
	newID  func() string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger used by the ledger and its event bus.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger.Sugar()
			l.bus = NewBus(logger)
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a Ledger on top of store.
func NewLedger(store interfaces.LedgerStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		bus:    NewBus(nil),
		logger: zap.NewNop().Sugar(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Bus returns the ledger's event registry.
func (l *Ledger) Bus() *Bus { return l.bus }

// OnEvent registers a handler for every event the ledger emits.
func (l *Ledger) OnEvent(h EventHandler) (unsubscribe func()) {
	return l.bus.Subscribe(h)
}

// Deposit credits amount to the account. referenceID, when set, makes the
// deposit idempotent: repeating it returns the current balance unchanged.
func (l *Ledger) Deposit(ctx context.Context, accountID, asset string, amount decimal.Decimal, referenceID string) (models.Balance, error) {
	if !amount.IsPositive() {
		return models.Balance{}, fmt.Errorf("%w: deposit amount must be positive, got %s", ErrInvalidAmount, amount)
	}
	b, err := l.applyChange(ctx, models.BalanceChange{
		AccountID:     accountID,
		Asset:         asset,
		Amount:        amount,
		Type:          models.EntryDeposit,
		ReferenceID:   referenceID,
		ReferenceType: models.ReferenceDeposit,
		Description:   "deposit",
	}, events.DepositCompleted)
	if err != nil {
		return models.Balance{}, err
	}
	l.logger.Infow("deposit_completed",
		"account_id", accountID,
		"asset", asset,
		"amount", amount.String(),
		"reference_id", referenceID)
	return b, nil
}

// Withdraw debits a positive amount from the available balance.
func (l *Ledger) Withdraw(ctx context.Context, accountID, asset string, amount decimal.Decimal, referenceID string) (models.Balance, error) {
	if !amount.IsPositive() {
		return models.Balance{}, fmt.Errorf("%w: withdrawal amount must be positive, got %s", ErrInvalidAmount, amount)
	}
	b, err := l.applyChange(ctx, models.BalanceChange{
		AccountID:     accountID,
		Asset:         asset,
		Amount:        amount.Neg(),
		Type:          models.EntryWithdrawal,
		ReferenceID:   referenceID,
		ReferenceType: models.ReferenceWithdrawal,
		Description:   "withdrawal",
	}, events.WithdrawalCompleted)
	if err != nil {
		return models.Balance{}, err
	}
	l.logger.Infow("withdrawal_completed",
		"account_id", accountID,
		"asset", asset,
		"amount", amount.String(),
		"reference_id", referenceID)
	return b, nil
}

// InitializeBalance overwrites a balance without writing an entry or
// emitting an event. It exists for seeding and migrations only.
func (l *Ledger) InitializeBalance(ctx context.Context, accountID, asset string, available, held decimal.Decimal) (models.Balance, error) {
	if accountID == "" || asset == "" {
		return models.Balance{}, ErrInvalidAccount
	}
	if available.IsNegative() || held.IsNegative() {
		return models.Balance{}, fmt.Errorf("%w: initial balances cannot be negative", ErrInvalidAmount)
	}

	b := models.ZeroBalance(accountID, asset).Apply(available, held, l.now().UTC())
	if err := l.store.WithTransaction(ctx, func(tx interfaces.LedgerStore) error {
		return tx.UpsertBalance(ctx, b)
	}); err != nil {
		return models.Balance{}, err
	}

	l.logger.Warnw("balance_initialized",
		"account_id", accountID,
		"asset", asset,
		"available", available.String(),
		"held", held.String())
	return b, nil
}
