package ledger

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/sheikh-saqib/exchange-ledger/internal/models"
	"github.com/sheikh-saqib/exchange-ledger/internal/models/events"
)

func btcTrade(id string) models.TradeSettlementInput {
	return models.TradeSettlementInput{
		TradeID:         id,
		BuyerAccountID:  "buyer",
		SellerAccountID: "seller",
		Symbol:          "BTC-USD",
		Price:           d("50000"),
		Quantity:        d("0.5"),
		BuyerFee:        d("50"),
		SellerFee:       d("25"),
	}
}

func fundTraders(t *testing.T, l *Ledger) {
	t.Helper()
	deposit(t, l, "buyer", "USD", "30000")
	deposit(t, l, "seller", "BTC", "1")
}

func TestSettleTrade(t *testing.T) {
	l := newTestLedger(t)
	fundTraders(t, l)
	rec := record(l)

	res, err := l.SettleTrade(context.Background(), btcTrade("t-1"))
	if err != nil {
		t.Fatal(err)
	}
	if res.AlreadySettled || res.BaseAsset != "BTC" || res.QuoteAsset != "USD" || !res.TradeValue.Equal(d("25000")) {
		t.Fatalf("unexpected result header: %+v", res)
	}

	expectBalance(t, l, "buyer", "USD", "4950", "0")
	expectBalance(t, l, "buyer", "BTC", "0.5", "0")
	expectBalance(t, l, "seller", "BTC", "0.5", "0")
	expectBalance(t, l, "seller", "USD", "24975", "0")

	if !res.Buyer.Quote.Available.Equal(d("4950")) || !res.Seller.Quote.Available.Equal(d("24975")) {
		t.Fatalf("result balances disagree with store: buyer %+v seller %+v", res.Buyer, res.Seller)
	}

	want := []struct {
		account, asset string
		typ            models.EntryType
		amount, after  string
	}{
		{"buyer", "USD", models.EntryTradeBuy, "-25000", "5000"},
		{"buyer", "USD", models.EntryFee, "-50", "4950"},
		{"buyer", "BTC", models.EntryTradeBuy, "0.5", "0.5"},
		{"seller", "BTC", models.EntryTradeSell, "-0.5", "0.5"},
		{"seller", "USD", models.EntryTradeSell, "25000", "25000"},
		{"seller", "USD", models.EntryFee, "-25", "24975"},
	}
	if len(res.Entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(res.Entries), len(want))
	}
	for i, w := range want {
		e := res.Entries[i]
		if e.AccountID != w.account || e.Asset != w.asset || e.Type != w.typ ||
			!e.Amount.Equal(d(w.amount)) || !e.BalanceAfter.Equal(d(w.after)) {
			t.Errorf("entry %d: got %s %s %s %s after %s, want %+v",
				i, e.AccountID, e.Asset, e.Type, e.Amount, e.BalanceAfter, w)
		}
		if e.ReferenceID != "t-1" || e.ReferenceType != models.ReferenceTrade {
			t.Errorf("entry %d: reference %s:%s", i, e.ReferenceType, e.ReferenceID)
		}
	}

	evs := rec.events()
	if len(evs) != 2 {
		t.Fatalf("want 2 trade events, got %d", len(evs))
	}
	buy, sell := evs[0], evs[1]
	if buy.Kind != events.TradeSettled || buy.AccountID != "buyer" || buy.Asset != "BTC" || !buy.Change.Equal(d("0.5")) {
		t.Fatalf("bad buyer event: %+v", buy)
	}
	if buy.Metadata["side"] != "buy" || buy.Metadata["trade_id"] != "t-1" || buy.Metadata["quote_change"] != "-25050" {
		t.Fatalf("bad buyer metadata: %v", buy.Metadata)
	}
	if sell.AccountID != "seller" || !sell.Change.Equal(d("-0.5")) || sell.Metadata["quote_change"] != "24975" {
		t.Fatalf("bad seller event: %+v", sell)
	}
}

func TestSettleTradeConservesMinusFees(t *testing.T) {
	l := newTestLedger(t)
	fundTraders(t, l)
	if _, err := l.SettleTrade(context.Background(), btcTrade("t-1")); err != nil {
		t.Fatal(err)
	}

	sum := func(asset string) string {
		b1, _ := l.GetBalance(context.Background(), "buyer", asset)
		b2, _ := l.GetBalance(context.Background(), "seller", asset)
		return b1.Total.Add(b2.Total).String()
	}
	if got := sum("BTC"); got != "1" {
		t.Fatalf("BTC across parties = %s, want 1", got)
	}
	// 75 USD of fees leave the two accounts
	if got := sum("USD"); got != "29925" {
		t.Fatalf("USD across parties = %s, want 29925", got)
	}
}

func TestSettleTradeConsumesHolds(t *testing.T) {
	tests := []struct {
		name          string
		buyerHold     string
		sellerHold    string
		buyerHeld     string
		sellerHeldBTC string
	}{
		{"exact holds", "25050", "0.5", "0", "0"},
		{"partial buyer hold", "20000", "0.5", "0", "0"},
		{"seller hold larger than trade", "25050", "1", "0", "0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLedger(t)
			fundTraders(t, l)
			hold(t, l, "buyer", "USD", tt.buyerHold, "buy-1")
			hold(t, l, "seller", "BTC", tt.sellerHold, "sell-1")

			in := btcTrade("t-1")
			in.BuyerOrderID = "buy-1"
			in.SellerOrderID = "sell-1"
			if _, err := l.SettleTrade(context.Background(), in); err != nil {
				t.Fatal(err)
			}

			expectBalance(t, l, "buyer", "USD", "4950", tt.buyerHeld)
			expectBalance(t, l, "buyer", "BTC", "0.5", "0")
			b, _ := l.GetBalance(context.Background(), "seller", "BTC")
			if !b.Total.Equal(d("0.5")) || !b.Held.Equal(d(tt.sellerHeldBTC)) {
				t.Fatalf("seller BTC = %+v", b)
			}
			if h, _ := l.GetHold(context.Background(), "buy-1"); h != nil {
				t.Fatalf("buyer hold survived: %+v", h)
			}
			h, _ := l.GetHold(context.Background(), "sell-1")
			if tt.sellerHeldBTC == "0" && h != nil {
				t.Fatalf("seller hold survived: %+v", h)
			}
			if tt.sellerHeldBTC != "0" && (h == nil || !h.Amount.Equal(d(tt.sellerHeldBTC))) {
				t.Fatalf("seller hold = %+v, want %s left", h, tt.sellerHeldBTC)
			}
		})
	}
}

func TestSettleTradeHoldMismatch(t *testing.T) {
	l := newTestLedger(t)
	fundTraders(t, l)
	hold(t, l, "seller", "BTC", "0.5", "sell-1")

	in := btcTrade("t-1")
	in.BuyerOrderID = "sell-1" // belongs to the other party
	if _, err := l.SettleTrade(context.Background(), in); !errors.Is(err, ErrHoldMismatch) {
		t.Fatalf("want ErrHoldMismatch, got %v", err)
	}
	expectBalance(t, l, "seller", "BTC", "0.5", "0.5")
	expectBalance(t, l, "buyer", "USD", "30000", "0")
}

func TestSettleTradeRollsBack(t *testing.T) {
	l := newTestLedger(t)
	deposit(t, l, "buyer", "USD", "100")
	deposit(t, l, "seller", "BTC", "1")
	rec := record(l)

	_, err := l.SettleTrade(context.Background(), btcTrade("t-1"))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("want ErrInsufficientBalance, got %v", err)
	}
	expectBalance(t, l, "buyer", "USD", "100", "0")
	expectBalance(t, l, "buyer", "BTC", "0", "0")
	expectBalance(t, l, "seller", "BTC", "1", "0")
	expectBalance(t, l, "seller", "USD", "0", "0")
	if n := entryCount(t, l, "buyer") + entryCount(t, l, "seller"); n != 2 {
		t.Fatalf("failed settlement left entries behind: %d total", n)
	}
	if n := len(rec.events()); n != 0 {
		t.Fatalf("failed settlement emitted %d events", n)
	}

	// the seller side fails after the buyer legs were written
	deposit(t, l, "buyer", "USD", "30000")
	in := btcTrade("t-2")
	in.Price = d("10000")
	in.Quantity = d("2")
	in.BuyerFee = d("0")
	in.SellerFee = d("0")
	if _, err := l.SettleTrade(context.Background(), in); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("want ErrInsufficientBalance, got %v", err)
	}
	expectBalance(t, l, "buyer", "USD", "30100", "0")
	expectBalance(t, l, "buyer", "BTC", "0", "0")
}

func TestSettleTradeReplay(t *testing.T) {
	l := newTestLedger(t)
	fundTraders(t, l)
	ctx := context.Background()

	if _, err := l.SettleTrade(ctx, btcTrade("t-1")); err != nil {
		t.Fatal(err)
	}
	rec := record(l)
	res, err := l.SettleTrade(ctx, btcTrade("t-1"))
	if err != nil {
		t.Fatal(err)
	}
	if !res.AlreadySettled || len(res.Entries) != 0 {
		t.Fatalf("replay: already=%v entries=%d", res.AlreadySettled, len(res.Entries))
	}
	if !res.Buyer.Quote.Available.Equal(d("4950")) || !res.Seller.Base.Available.Equal(d("0.5")) {
		t.Fatalf("replay reported wrong balances: %+v", res)
	}
	expectBalance(t, l, "buyer", "USD", "4950", "0")
	if n := entryCount(t, l, "buyer"); n != 4 {
		t.Fatalf("buyer has %d entries, want 4", n)
	}
	if n := len(rec.events()); n != 0 {
		t.Fatalf("replay emitted %d events", n)
	}
}

func TestSettleTradeReplayWithOtherParties(t *testing.T) {
	l := newTestLedger(t)
	fundTraders(t, l)
	deposit(t, l, "carol", "USD", "30000")
	ctx := context.Background()

	if _, err := l.SettleTrade(ctx, btcTrade("t-1")); err != nil {
		t.Fatal(err)
	}
	in := btcTrade("t-1")
	in.BuyerAccountID = "carol"
	if _, err := l.SettleTrade(ctx, in); !errors.Is(err, ErrIdempotencyConflict) {
		t.Fatalf("want ErrIdempotencyConflict, got %v", err)
	}
	in = btcTrade("t-1")
	in.Symbol = "BTC-EUR"
	if _, err := l.SettleTrade(ctx, in); !errors.Is(err, ErrIdempotencyConflict) {
		t.Fatalf("other quote asset: want ErrIdempotencyConflict, got %v", err)
	}
	expectBalance(t, l, "carol", "USD", "30000", "0")
}

func TestConcurrentOppositeSettlements(t *testing.T) {
	l := newTestLedger(t)
	for _, acct := range []string{"a", "b"} {
		deposit(t, l, acct, "USD", "100000")
		deposit(t, l, acct, "BTC", "100")
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			buyer, seller := "a", "b"
			if i%2 == 1 {
				buyer, seller = seller, buyer
			}
			_, err := l.SettleTrade(ctx, models.TradeSettlementInput{
				TradeID:         "t-" + strconv.Itoa(i),
				BuyerAccountID:  buyer,
				SellerAccountID: seller,
				Symbol:          "BTC-USD",
				Price:           d("100"),
				Quantity:        d("1"),
			})
			if err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	// each side bought and sold the same number of times
	for _, acct := range []string{"a", "b"} {
		expectBalance(t, l, acct, "USD", "100000", "0")
		expectBalance(t, l, acct, "BTC", "100", "0")
		if n := entryCount(t, l, acct); n != 2+40*2 {
			t.Fatalf("%s has %d entries, want %d", acct, n, 2+40*2)
		}
	}
}

func TestSettleTradeSelfTrade(t *testing.T) {
	l := newTestLedger(t)
	deposit(t, l, "mm", "USD", "30000")
	deposit(t, l, "mm", "BTC", "1")

	in := btcTrade("t-1")
	in.BuyerAccountID = "mm"
	in.SellerAccountID = "mm"
	res, err := l.SettleTrade(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	expectBalance(t, l, "mm", "USD", "29925", "0")
	expectBalance(t, l, "mm", "BTC", "1", "0")
	if !res.Buyer.Quote.Total.Equal(res.Seller.Quote.Total) {
		t.Fatalf("self-trade parties disagree: %s vs %s", res.Buyer.Quote.Total, res.Seller.Quote.Total)
	}
}

func TestSettleTradeValidation(t *testing.T) {
	l := newTestLedger(t)
	fundTraders(t, l)

	tests := []struct {
		name   string
		mutate func(in *models.TradeSettlementInput)
		want   error
	}{
		{"bad symbol", func(in *models.TradeSettlementInput) { in.Symbol = "BTCUSD" }, ErrInvalidSymbol},
		{"no trade id", func(in *models.TradeSettlementInput) { in.TradeID = "" }, ErrInvalidTradeID},
		{"no buyer", func(in *models.TradeSettlementInput) { in.BuyerAccountID = "" }, ErrInvalidAccount},
		{"zero price", func(in *models.TradeSettlementInput) { in.Price = d("0") }, ErrInvalidAmount},
		{"negative quantity", func(in *models.TradeSettlementInput) { in.Quantity = d("-1") }, ErrInvalidAmount},
		{"negative fee", func(in *models.TradeSettlementInput) { in.BuyerFee = d("-1") }, ErrInvalidAmount},
		{"seller fee above value", func(in *models.TradeSettlementInput) { in.SellerFee = d("25000.01") }, ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := btcTrade("t-" + tt.name)
			tt.mutate(&in)
			if _, err := l.SettleTrade(context.Background(), in); !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
		})
	}
	expectBalance(t, l, "buyer", "USD", "30000", "0")
}

func TestSplitSymbol(t *testing.T) {
	tests := []struct {
		symbol, base, quote string
		ok                  bool
	}{
		{"BTC-USD", "BTC", "USD", true},
		{"ETH/USDT", "ETH", "USDT", true},
		{" SOL-EUR ", "SOL", "EUR", true},
		{"BTCUSD", "", "", false},
		{"-USD", "", "", false},
		{"BTC-", "", "", false},
		{"A-B-C", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		base, quote, err := splitSymbol(tt.symbol)
		if tt.ok != (err == nil) {
			t.Errorf("splitSymbol(%q): err = %v", tt.symbol, err)
			continue
		}
		if !tt.ok && !errors.Is(err, ErrInvalidSymbol) {
			t.Errorf("splitSymbol(%q): want ErrInvalidSymbol, got %v", tt.symbol, err)
		}
		if base != tt.base || quote != tt.quote {
			t.Errorf("splitSymbol(%q) = %q, %q", tt.symbol, base, quote)
		}
	}
}
