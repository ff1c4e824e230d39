package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Hold is an amount moved from Available to Held for a pending order.
// There is at most one hold per order id.
type Hold struct {
	OrderID   string          `json:"order_id"`
	AccountID string          `json:"account_id"`
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"` // remaining escrowed amount
	CreatedAt time.Time       `json:"created_at"`
}

// HoldRequest asks the ledger to escrow funds for an order.
type HoldRequest struct {
	AccountID string          `json:"account_id"`
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	OrderID   string          `json:"order_id"`
}
