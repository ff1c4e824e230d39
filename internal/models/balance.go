package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Epsilon absorbs decimal rounding when checking that a balance stays non-negative.
var Epsilon = decimal.New(1, -8)

// Balance is the state of one asset for one account.
// Total is always Available + Held.
type Balance struct {
	AccountID string          `json:"account_id"`
	Asset     string          `json:"asset"`
	Available decimal.Decimal `json:"available"` // spendable
	Held      decimal.Decimal `json:"held"`      // escrowed against open orders
	Total     decimal.Decimal `json:"total"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ZeroBalance is what an account holds in an asset it never touched.
func ZeroBalance(accountID, asset string) Balance {
	return Balance{
		AccountID: accountID,
		Asset:     asset,
		Available: decimal.Zero,
		Held:      decimal.Zero,
		Total:     decimal.Zero,
	}
}

// Apply returns a copy of the balance with both deltas added and Total recomputed.
func (b Balance) Apply(availableDelta, heldDelta decimal.Decimal, at time.Time) Balance {
	b.Available = b.Available.Add(availableDelta)
	b.Held = b.Held.Add(heldDelta)
	b.Total = b.Available.Add(b.Held)
	b.UpdatedAt = at
	return b
}

// Key identifies a balance row. Keys sort by account, then asset.
func (b Balance) Key() BalanceKey {
	return BalanceKey{AccountID: b.AccountID, Asset: b.Asset}
}

// BalanceKey is the (account, asset) pair a balance row is stored under.
type BalanceKey struct {
	AccountID string
	Asset     string
}

// Less orders keys canonically, used to take row locks without deadlocking.
func (k BalanceKey) Less(o BalanceKey) bool {
	if k.AccountID != o.AccountID {
		return k.AccountID < o.AccountID
	}
	return k.Asset < o.Asset
}
