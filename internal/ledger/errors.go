package ledger

import "errors"

// Failures of balance-mutating operations. Detail is wrapped around these with
// %w, so match them with errors.Is. Repository errors are returned as they are.
var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidSymbol       = errors.New("invalid symbol")
	ErrInvalidAccount      = errors.New("account id and asset are required")
	ErrInvalidOrderID      = errors.New("order id is required")
	ErrInvalidTradeID      = errors.New("trade id is required")
	ErrInvalidEntryType    = errors.New("invalid entry type")
	ErrHoldMismatch        = errors.New("hold does not belong to this account and asset")
	ErrInvalidReference    = errors.New("invalid reference")

	// ErrIdempotencyConflict reports a reference that was already used by an
	// operation with a different account, asset or amount.
	ErrIdempotencyConflict = errors.New("reference already used by a different operation")

	// ErrHoldNotFound describes a failed hold lookup. The lifecycle
	// operations report a missing hold as false instead, so repeated calls
	// are no-ops.
	ErrHoldNotFound = errors.New("hold not found")
)
