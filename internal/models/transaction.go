package models

import "github.com/shopspring/decimal"

// BalanceChange represents an intent to credit or debit one balance.
// Credits carry a positive Amount, debits a negative one.
type BalanceChange struct {
	AccountID     string
	Asset         string
	Amount        decimal.Decimal
	Type          EntryType
	ReferenceID   string // optional, with ReferenceType forms the idempotency key
	ReferenceType string
	Description   string
}

// IdempotencyKey reports the change's reference pair, if it has a complete one.
func (c BalanceChange) IdempotencyKey() (id, typ string, ok bool) {
	if c.ReferenceID == "" || c.ReferenceType == "" {
		return "", "", false
	}
	return c.ReferenceID, c.ReferenceType, true
}

// Replays reports whether prev, the entry already recorded under the change's
// idempotency key, was written by this same change.
func (c BalanceChange) Replays(prev LedgerEntry) bool {
	return prev.AccountID == c.AccountID &&
		prev.Asset == c.Asset &&
		prev.Type == c.Type &&
		prev.Amount.Equal(c.Amount)
}
