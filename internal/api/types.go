package api

import (
	"github.com/sheikh-saqib/exchange-ledger/internal/models"
	"github.com/sheikh-saqib/exchange-ledger/internal/models/events"
	"github.com/shopspring/decimal"
)

// TransferRequest is the body of POST /deposits and POST /withdrawals.
// ReferenceID falls back to the Idempotency-Key header.
type TransferRequest struct {
	AccountID   string          `json:"account_id"`
	Asset       string          `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	ReferenceID string          `json:"reference_id,omitempty"`
}

// ConsumeRequest is the optional body of POST /holds/{order_id}/consume.
// Without an amount the whole hold is consumed.
type ConsumeRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

// HoldResult reports the boolean outcome of a hold lifecycle call.
type HoldResult struct {
	OrderID string       `json:"order_id"`
	OK      bool         `json:"ok"`
	Hold    *models.Hold `json:"hold,omitempty"`
}

// BalancesResponse lists an account's balances.
type BalancesResponse struct {
	AccountID string           `json:"account_id"`
	Balances  []models.Balance `json:"balances"`
}

// EntriesResponse is one page of an account's entries.
type EntriesResponse struct {
	AccountID string               `json:"account_id"`
	Entries   []models.LedgerEntry `json:"entries"`
	Limit     int                  `json:"limit"`
	Offset    int                  `json:"offset"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WSSubscribeRequest is sent by clients to join or leave channels,
// e.g. {"op":"subscribe","channels":["account:alice"]}.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// WSEvent wraps a ledger event pushed to subscribers.
type WSEvent struct {
	Type    string             `json:"type"` // always "ledger_event"
	Channel string             `json:"channel"`
	Event   events.LedgerEvent `json:"event"`
}
