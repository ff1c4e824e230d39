package ledger

import (
	"context"
	"fmt"

	"github.com/sheikh-saqib/exchange-ledger/internal/models"
	"github.com/sheikh-saqib/exchange-ledger/internal/models/events"
	"github.com/shopspring/decimal"
)

// GetBalance returns the account's balance in asset. An account that never
// held the asset has a zero balance; it is synthesized, not stored.
func (l *Ledger) GetBalance(ctx context.Context, accountID, asset string) (models.Balance, error) {
	b, found, err := l.store.GetBalance(ctx, accountID, asset)
	if err != nil {
		return models.Balance{}, err
	}
	if !found {
		return models.ZeroBalance(accountID, asset), nil
	}
	return b, nil
}

// GetAccountBalances returns every stored balance of the account.
func (l *Ledger) GetAccountBalances(ctx context.Context, accountID string) ([]models.Balance, error) {
	balances, err := l.store.GetAccountBalances(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if balances == nil {
		balances = []models.Balance{}
	}
	return balances, nil
}

// HasAvailableBalance reports whether at least amount is available. It does
// not reserve anything; use CreateHold for that. The amount must be positive.
func (l *Ledger) HasAvailableBalance(ctx context.Context, accountID, asset string, amount decimal.Decimal) (bool, error) {
	if !amount.IsPositive() {
		return false, fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidAmount, amount)
	}
	b, err := l.GetBalance(ctx, accountID, asset)
	if err != nil {
		return false, err
	}
	return b.Available.GreaterThanOrEqual(amount), nil
}

// Credit adds a positive amount to the available balance and records one entry.
// The entry type defaults to deposit.
func (l *Ledger) Credit(ctx context.Context, change models.BalanceChange) (models.Balance, error) {
	if !change.Amount.IsPositive() {
		return models.Balance{}, fmt.Errorf("%w: credit amount must be positive, got %s", ErrInvalidAmount, change.Amount)
	}
	if change.Type == "" {
		change.Type = models.EntryDeposit
	}
	return l.applyChange(ctx, change, events.BalanceUpdated)
}

// Debit removes funds from the available balance and records one entry.
// The amount is the signed delta and must be negative. The entry type
// defaults to withdrawal.
func (l *Ledger) Debit(ctx context.Context, change models.BalanceChange) (models.Balance, error) {
	if !change.Amount.IsNegative() {
		return models.Balance{}, fmt.Errorf("%w: debit amount must be negative, got %s", ErrInvalidAmount, change.Amount)
	}
	if change.Type == "" {
		change.Type = models.EntryWithdrawal
	}
	return l.applyChange(ctx, change, events.BalanceUpdated)
}

// applyChange is the shared credit/debit unit of work: one balance mutation,
// one entry, one event of the given kind. A change whose idempotency key was
// already recorded for the same account, asset and amount is a replay and
// changes nothing; any other reuse of the key is a conflict.
func (l *Ledger) applyChange(ctx context.Context, change models.BalanceChange, kind events.Kind) (models.Balance, error) {
	if change.AccountID == "" || change.Asset == "" {
		return models.Balance{}, ErrInvalidAccount
	}
	if !change.Type.Valid() {
		return models.Balance{}, fmt.Errorf("%w: %q", ErrInvalidEntryType, change.Type)
	}
	if change.ReferenceType == models.ReferenceTrade {
		return models.Balance{}, fmt.Errorf("%w: reference type %q is reserved for trade settlement", ErrInvalidReference, change.ReferenceType)
	}

	return run(ctx, l, func(u *unit) (models.Balance, error) {
		if refID, refType, ok := change.IdempotencyKey(); ok {
			prev, err := u.tx.GetEntryByIdempotencyKey(u.ctx, refID, refType)
			if err != nil {
				return models.Balance{}, err
			}
			if prev != nil {
				if !change.Replays(*prev) {
					return models.Balance{}, fmt.Errorf("%w: %s %s was recorded for %s %s %s",
						ErrIdempotencyConflict, refType, refID, prev.AccountID, prev.Amount, prev.Asset)
				}
				l.logger.Infow("balance_change_replayed",
					"account_id", change.AccountID,
					"asset", change.Asset,
					"reference_id", refID,
					"reference_type", refType,
					"entry_id", prev.ID)
				return u.balance(change.AccountID, change.Asset)
			}
		}

		b, err := u.updateBalance(change.AccountID, change.Asset, change.Amount, decimal.Zero)
		if err != nil {
			return models.Balance{}, err
		}
		entry, err := u.appendEntry(models.LedgerEntry{
			AccountID:     change.AccountID,
			Asset:         change.Asset,
			Type:          change.Type,
			Amount:        change.Amount,
			BalanceAfter:  b.Total,
			ReferenceID:   change.ReferenceID,
			ReferenceType: change.ReferenceType,
			Description:   change.Description,
		})
		if err != nil {
			return models.Balance{}, err
		}

		meta := map[string]string{"entry_id": entry.ID, "entry_type": string(entry.Type)}
		if change.ReferenceID != "" {
			meta["reference_id"] = change.ReferenceID
		}
		u.emit(kind, b, change.Amount, meta)
		return b, nil
	})
}

// balance reads (and, in stores that support it, locks) a balance row,
// synthesizing zero for a missing one.
func (u *unit) balance(accountID, asset string) (models.Balance, error) {
	b, found, err := u.tx.GetBalance(u.ctx, accountID, asset)
	if err != nil {
		return models.Balance{}, err
	}
	if !found {
		return models.ZeroBalance(accountID, asset), nil
	}
	return b, nil
}

// updateBalance applies both deltas in one store call. If either side of the
// result ends below -Epsilon the error aborts the whole unit of work.
func (u *unit) updateBalance(accountID, asset string, availableDelta, heldDelta decimal.Decimal) (models.Balance, error) {
	b, err := u.tx.UpdateBalance(u.ctx, accountID, asset, availableDelta, heldDelta)
	if err != nil {
		return models.Balance{}, err
	}
	floor := models.Epsilon.Neg()
	if b.Available.LessThan(floor) {
		return models.Balance{}, fmt.Errorf("%w: account %s %s: available %s, short by %s",
			ErrInsufficientBalance, accountID, asset, b.Available.Sub(availableDelta), b.Available.Neg())
	}
	if b.Held.LessThan(floor) {
		return models.Balance{}, fmt.Errorf("%w: account %s %s: held %s, short by %s",
			ErrInsufficientBalance, accountID, asset, b.Held.Sub(heldDelta), b.Held.Neg())
	}
	return b, nil
}
