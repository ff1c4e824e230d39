package ledger

import (
	"context"
	"errors"
	"fmt"

	interfaces "github.com/sheikh-saqib/exchange-ledger/internal/interfaces"
	"github.com/sheikh-saqib/exchange-ledger/internal/models"
	"github.com/sheikh-saqib/exchange-ledger/internal/models/events"
	"github.com/shopspring/decimal"
)

// CreateHold escrows req.Amount for req.OrderID by moving it from available
// to held. It returns false, changing nothing, when the available balance is
// short or the order already has a hold.
func (l *Ledger) CreateHold(ctx context.Context, req models.HoldRequest) (bool, error) {
	if req.AccountID == "" || req.Asset == "" {
		return false, ErrInvalidAccount
	}
	if req.OrderID == "" {
		return false, ErrInvalidOrderID
	}
	if !req.Amount.IsPositive() {
		return false, fmt.Errorf("%w: hold amount must be positive, got %s", ErrInvalidAmount, req.Amount)
	}

	ok, err := run(ctx, l, func(u *unit) (bool, error) {
		existing, err := u.tx.GetHold(u.ctx, req.OrderID)
		if err != nil {
			return false, err
		}
		if existing != nil {
			l.logger.Warnw("hold_rejected_duplicate",
				"order_id", req.OrderID,
				"account_id", existing.AccountID)
			return false, nil
		}

		current, err := u.balance(req.AccountID, req.Asset)
		if err != nil {
			return false, err
		}
		if current.Available.LessThan(req.Amount) {
			return false, nil
		}

		b, err := u.updateBalance(req.AccountID, req.Asset, req.Amount.Neg(), req.Amount)
		if err != nil {
			return false, err
		}
		if err := u.tx.CreateHold(u.ctx, models.Hold{
			OrderID:   req.OrderID,
			AccountID: req.AccountID,
			Asset:     req.Asset,
			Amount:    req.Amount,
			CreatedAt: l.now().UTC(),
		}); err != nil {
			return false, err
		}

		u.emit(events.HoldCreated, b, req.Amount, map[string]string{"order_id": req.OrderID})
		return true, nil
	})
	if errors.Is(err, interfaces.ErrHoldExists) {
		// lost a race with a concurrent hold for the same order; rolled back
		l.logger.Warnw("hold_rejected_duplicate", "order_id", req.OrderID, "account_id", req.AccountID)
		return false, nil
	}
	return ok, err
}

// ReleaseHold returns an order's remaining hold to the available balance and
// deletes it. It returns false when the order has no hold.
func (l *Ledger) ReleaseHold(ctx context.Context, orderID string) (bool, error) {
	return run(ctx, l, func(u *unit) (bool, error) {
		h, err := u.tx.GetHold(u.ctx, orderID)
		if err != nil || h == nil {
			return false, err
		}
		b, err := u.updateBalance(h.AccountID, h.Asset, h.Amount, h.Amount.Neg())
		if err != nil {
			return false, err
		}
		if err := u.tx.ReleaseHold(u.ctx, orderID); err != nil {
			return false, err
		}

		u.emit(events.HoldReleased, b, h.Amount, map[string]string{"order_id": orderID})
		return true, nil
	})
}

// ConsumeHold spends the whole remaining hold of an order. The funds leave
// the account; they do not return to available.
func (l *Ledger) ConsumeHold(ctx context.Context, orderID string) (bool, error) {
	return l.consumeHold(ctx, orderID, nil)
}

// ConsumePartialHold spends amount from an order's hold. A hold larger than
// amount survives with the difference; anything else is spent in full.
func (l *Ledger) ConsumePartialHold(ctx context.Context, orderID string, amount decimal.Decimal) (bool, error) {
	if !amount.IsPositive() {
		return false, fmt.Errorf("%w: consume amount must be positive, got %s", ErrInvalidAmount, amount)
	}
	return l.consumeHold(ctx, orderID, &amount)
}

func (l *Ledger) consumeHold(ctx context.Context, orderID string, amount *decimal.Decimal) (bool, error) {
	return run(ctx, l, func(u *unit) (bool, error) {
		h, err := u.tx.GetHold(u.ctx, orderID)
		if err != nil || h == nil {
			return false, err
		}
		want := h.Amount
		if amount != nil {
			want = *amount
		}
		consumed, remaining, err := u.takeHold(h, want)
		if err != nil {
			return false, err
		}
		b, err := u.updateBalance(h.AccountID, h.Asset, decimal.Zero, consumed.Neg())
		if err != nil {
			return false, err
		}

		meta := map[string]string{"order_id": orderID, "remaining": "0"}
		if remaining != nil {
			meta["remaining"] = remaining.Amount.String()
		}
		u.emit(events.HoldConsumed, b, consumed.Neg(), meta)
		return true, nil
	})
}

// takeHold reduces h by up to amount and reports how much was taken. The
// caller owns the matching change to the held balance.
func (u *unit) takeHold(h *models.Hold, amount decimal.Decimal) (consumed decimal.Decimal, remaining *models.Hold, err error) {
	consumed = decimal.Min(amount, h.Amount)
	remaining, err = u.tx.ConsumeHold(u.ctx, h.OrderID, consumed)
	if err != nil {
		return decimal.Zero, nil, err
	}
	return consumed, remaining, nil
}

// GetHold returns the order's hold, or nil if it has none.
func (l *Ledger) GetHold(ctx context.Context, orderID string) (*models.Hold, error) {
	return l.store.GetHold(ctx, orderID)
}

// GetAccountHolds lists the account's open holds, oldest first.
func (l *Ledger) GetAccountHolds(ctx context.Context, accountID string) ([]models.Hold, error) {
	holds, err := l.store.GetAccountHolds(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if holds == nil {
		holds = []models.Hold{}
	}
	return holds, nil
}
