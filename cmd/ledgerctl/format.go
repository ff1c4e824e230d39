package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/sheikh-saqib/exchange-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// formatAmount renders fiat amounts with go-money's currency formatting
// (symbol, grouping, minor units) and anything else, such as crypto assets,
// as a plain decimal followed by the asset code.
func formatAmount(amount decimal.Decimal, asset string) string {
	cur := money.GetCurrency(asset)
	if cur == nil {
		return amount.String() + " " + asset
	}
	minor := amount.Shift(int32(cur.Fraction))
	if !minor.Equal(minor.Truncate(0)) {
		// more precision than the currency has minor units for
		return amount.String() + " " + asset
	}
	return money.New(minor.IntPart(), cur.Code).Display()
}

func printBalances(w io.Writer, balances []models.Balance) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ASSET\tAVAILABLE\tHELD\tTOTAL\tUPDATED")
	for _, b := range balances {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			b.Asset,
			formatAmount(b.Available, b.Asset),
			formatAmount(b.Held, b.Asset),
			formatAmount(b.Total, b.Asset),
			formatTime(b.UpdatedAt))
	}
	tw.Flush()
}

func printHolds(w io.Writer, holds []models.Hold) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tASSET\tHELD\tSINCE")
	for _, h := range holds {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", h.OrderID, h.Asset, formatAmount(h.Amount, h.Asset), formatTime(h.CreatedAt))
	}
	tw.Flush()
}

func printEntries(w io.Writer, entries []models.LedgerEntry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTYPE\tASSET\tAMOUNT\tBALANCE AFTER\tREFERENCE\tDESCRIPTION")
	for _, e := range entries {
		ref := "-"
		if e.ReferenceID != "" {
			ref = e.ReferenceType + ":" + e.ReferenceID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			formatTime(e.CreatedAt),
			e.Type,
			e.Asset,
			formatAmount(e.Amount, e.Asset),
			formatAmount(e.BalanceAfter, e.Asset),
			ref,
			e.Description)
	}
	tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
