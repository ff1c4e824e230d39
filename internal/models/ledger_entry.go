package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType classifies what produced a ledger entry.
type EntryType string

const (
	EntryDeposit    EntryType = "deposit"
	EntryWithdrawal EntryType = "withdrawal"
	EntryTradeBuy   EntryType = "trade_buy"
	EntryTradeSell  EntryType = "trade_sell"
	EntryFee        EntryType = "fee"
)

// Valid reports whether t is one of the known entry types.
func (t EntryType) Valid() bool {
	switch t {
	case EntryDeposit, EntryWithdrawal, EntryTradeBuy, EntryTradeSell, EntryFee:
		return true
	}
	return false
}

// EntryStatus of a written entry. Failed operations never write entries,
// so every persisted entry is completed.
type EntryStatus string

const EntryCompleted EntryStatus = "completed"

// Reference types used for idempotency lookups.
const (
	ReferenceDeposit    = "deposit"
	ReferenceWithdrawal = "withdrawal"
	ReferenceTrade      = "trade"
)

// LedgerEntry is one immutable audit record of a balance-affecting operation.
type LedgerEntry struct {
	ID            string          `json:"id"`         // uuid
	AccountID     string          `json:"account_id"` // which account this entry belongs to
	Asset         string          `json:"asset"`
	Type          EntryType       `json:"type"`
	Amount        decimal.Decimal `json:"amount"`        // signed: positive credits, negative debits
	BalanceAfter  decimal.Decimal `json:"balance_after"` // balance total once this entry is applied
	ReferenceID   string          `json:"reference_id,omitempty"`
	ReferenceType string          `json:"reference_type,omitempty"`
	Description   string          `json:"description,omitempty"`
	Status        EntryStatus     `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// EntryFilter narrows an account's entry history. Zero values mean "any".
type EntryFilter struct {
	Asset     string
	Type      EntryType
	Limit     int
	Offset    int
	StartTime *time.Time // inclusive
	EndTime   *time.Time // exclusive
}

// Match reports whether e passes the asset, type and time filters.
// Limit and Offset are applied by the caller.
func (f EntryFilter) Match(e LedgerEntry) bool {
	if f.Asset != "" && e.Asset != f.Asset {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.StartTime != nil && e.CreatedAt.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && !e.CreatedAt.Before(*f.EndTime) {
		return false
	}
	return true
}

// Page applies Offset and Limit to entries that already passed Match.
// A non-positive Limit returns everything after Offset.
func (f EntryFilter) Page(entries []LedgerEntry) []LedgerEntry {
	if f.Offset > 0 {
		if f.Offset >= len(entries) {
			return []LedgerEntry{}
		}
		entries = entries[f.Offset:]
	}
	if f.Limit > 0 && len(entries) > f.Limit {
		entries = entries[:f.Limit]
	}
	return entries
}
