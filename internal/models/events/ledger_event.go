package events

import (
	"time"

	"github.com/sheikh-saqib/exchange-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// Kind names what happened to a balance.
type Kind string

const (
	BalanceUpdated      Kind = "balance_updated"
	HoldCreated         Kind = "hold_created"
	HoldReleased        Kind = "hold_released"
	HoldConsumed        Kind = "hold_consumed"
	TradeSettled        Kind = "trade_settled"
	DepositCompleted    Kind = "deposit_completed"
	WithdrawalCompleted Kind = "withdrawal_completed"
)

// LedgerEvent is emitted after the transaction that produced it commits.
type LedgerEvent struct {
	Kind       Kind              `json:"kind"`
	AccountID  string            `json:"account_id"`
	Asset      string            `json:"asset"`
	Change     decimal.Decimal   `json:"change"`
	NewBalance models.Balance    `json:"new_balance"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
