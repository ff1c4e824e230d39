package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/sheikh-saqib/exchange-ledger/internal/models"
	"github.com/shopspring/decimal"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount, asset, want string
	}{
		{"12345.67", "USD", "$12,345.67"},
		{"-25", "USD", "-$25.00"},
		{"0.001", "USD", "0.001 USD"}, // finer than cents
		{"0.12345678", "USDT", "0.12345678 USDT"},
	}
	for _, tt := range tests {
		if got := formatAmount(decimal.RequireFromString(tt.amount), tt.asset); got != tt.want {
			t.Errorf("formatAmount(%s, %s) = %q, want %q", tt.amount, tt.asset, got, tt.want)
		}
	}
}

func TestPrintEntries(t *testing.T) {
	var buf bytes.Buffer
	printEntries(&buf, []models.LedgerEntry{{
		Asset:         "BTC",
		Type:          models.EntryTradeBuy,
		Amount:        decimal.RequireFromString("0.5"),
		BalanceAfter:  decimal.RequireFromString("0.5"),
		ReferenceID:   "t-1",
		ReferenceType: models.ReferenceTrade,
		CreatedAt:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}})

	out := buf.String()
	for _, want := range []string{"BALANCE AFTER", "trade_buy", "trade:t-1", "2024-05-01T12:00:00Z"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}
