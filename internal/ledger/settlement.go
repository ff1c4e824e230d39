package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/sheikh-saqib/exchange-ledger/internal/models"
	"github.com/sheikh-saqib/exchange-ledger/internal/models/events"
	"github.com/shopspring/decimal"
)

// SettleTrade exchanges base and quote assets between buyer and seller in a
// single transaction. The buyer pays price*quantity plus buyerFee in quote
// and receives quantity in base; the seller delivers quantity in base and
// receives price*quantity minus sellerFee in quote. Fees are platform revenue.
//
// When an order id is given, that order's hold is consumed first and covers
// the matching debit; only the uncovered part is taken from available.
// Settling a trade id a second time changes nothing and reports AlreadySettled,
// unless the earlier settlement had a different buyer or quote asset.
func (l *Ledger) SettleTrade(ctx context.Context, in models.TradeSettlementInput) (models.TradeSettlement, error) {
	base, quote, err := splitSymbol(in.Symbol)
	if err != nil {
		return models.TradeSettlement{}, err
	}
	if err := validateTrade(in); err != nil {
		return models.TradeSettlement{}, err
	}

	tradeValue := in.Price.Mul(in.Quantity)
	buyerDebit := tradeValue.Add(in.BuyerFee)
	sellerCredit := tradeValue.Sub(in.SellerFee)
	if sellerCredit.IsNegative() {
		return models.TradeSettlement{}, fmt.Errorf("%w: seller fee %s exceeds trade value %s", ErrInvalidAmount, in.SellerFee, tradeValue)
	}

	result, err := run(ctx, l, func(u *unit) (models.TradeSettlement, error) {
		res := models.TradeSettlement{
			TradeID:    in.TradeID,
			Symbol:     in.Symbol,
			BaseAsset:  base,
			QuoteAsset: quote,
			TradeValue: tradeValue,
		}

		prev, err := u.tx.GetEntryByIdempotencyKey(u.ctx, in.TradeID, models.ReferenceTrade)
		if err != nil {
			return res, err
		}
		if prev != nil {
			// the first entry of a settlement is always the buyer's quote debit
			if prev.AccountID != in.BuyerAccountID || prev.Asset != quote {
				return res, fmt.Errorf("%w: trade %s was settled for buyer %s in %s",
					ErrIdempotencyConflict, in.TradeID, prev.AccountID, prev.Asset)
			}
			res.AlreadySettled = true
			if res.Buyer, err = u.party(in.BuyerAccountID, base, quote); err != nil {
				return res, err
			}
			res.Seller, err = u.party(in.SellerAccountID, base, quote)
			return res, err
		}

		if err := u.lock(
			models.BalanceKey{AccountID: in.BuyerAccountID, Asset: quote},
			models.BalanceKey{AccountID: in.BuyerAccountID, Asset: base},
			models.BalanceKey{AccountID: in.SellerAccountID, Asset: base},
			models.BalanceKey{AccountID: in.SellerAccountID, Asset: quote},
		); err != nil {
			return res, err
		}

		leg := tradeLeg{u: u, tradeID: in.TradeID}

		// buyer: pays quote, receives base
		desc := fmt.Sprintf("buy %s %s @ %s", in.Quantity, in.Symbol, in.Price)
		buyerQuote, err := u.spend(in.BuyerAccountID, quote, buyerDebit, in.BuyerOrderID)
		if err != nil {
			return res, err
		}
		if err := leg.record(buyerQuote, models.EntryTradeBuy, tradeValue.Neg(), buyerQuote.Total.Add(in.BuyerFee), desc); err != nil {
			return res, err
		}
		if in.BuyerFee.IsPositive() {
			if err := leg.record(buyerQuote, models.EntryFee, in.BuyerFee.Neg(), buyerQuote.Total, "trade fee"); err != nil {
				return res, err
			}
		}
		buyerBase, err := u.updateBalance(in.BuyerAccountID, base, in.Quantity, decimal.Zero)
		if err != nil {
			return res, err
		}
		if err := leg.record(buyerBase, models.EntryTradeBuy, in.Quantity, buyerBase.Total, desc); err != nil {
			return res, err
		}

		// seller: delivers base, receives quote
		desc = fmt.Sprintf("sell %s %s @ %s", in.Quantity, in.Symbol, in.Price)
		sellerBase, err := u.spend(in.SellerAccountID, base, in.Quantity, in.SellerOrderID)
		if err != nil {
			return res, err
		}
		if err := leg.record(sellerBase, models.EntryTradeSell, in.Quantity.Neg(), sellerBase.Total, desc); err != nil {
			return res, err
		}
		sellerQuote, err := u.updateBalance(in.SellerAccountID, quote, sellerCredit, decimal.Zero)
		if err != nil {
			return res, err
		}
		if err := leg.record(sellerQuote, models.EntryTradeSell, tradeValue, sellerQuote.Total.Add(in.SellerFee), desc); err != nil {
			return res, err
		}
		if in.SellerFee.IsPositive() {
			if err := leg.record(sellerQuote, models.EntryFee, in.SellerFee.Neg(), sellerQuote.Total, "trade fee"); err != nil {
				return res, err
			}
		}

		// a self-trade touches the same rows twice; report the final state
		if res.Buyer, err = u.party(in.BuyerAccountID, base, quote); err != nil {
			return res, err
		}
		if res.Seller, err = u.party(in.SellerAccountID, base, quote); err != nil {
			return res, err
		}
		res.Entries = u.entries

		u.emit(events.TradeSettled, res.Buyer.Base, in.Quantity, map[string]string{
			"trade_id":     in.TradeID,
			"symbol":       in.Symbol,
			"side":         "buy",
			"quote_asset":  quote,
			"quote_change": buyerDebit.Neg().String(),
			"quote_total":  res.Buyer.Quote.Total.String(),
		})
		u.emit(events.TradeSettled, res.Seller.Base, in.Quantity.Neg(), map[string]string{
			"trade_id":     in.TradeID,
			"symbol":       in.Symbol,
			"side":         "sell",
			"quote_asset":  quote,
			"quote_change": sellerCredit.String(),
			"quote_total":  res.Seller.Quote.Total.String(),
		})
		return res, nil
	})
	if err != nil {
		return models.TradeSettlement{}, err
	}

	if result.AlreadySettled {
		l.logger.Infow("trade_settlement_replayed", "trade_id", in.TradeID)
	} else {
		l.logger.Infow("trade_settled",
			"trade_id", in.TradeID,
			"symbol", in.Symbol,
			"trade_value", tradeValue.String(),
			"entries", len(result.Entries))
	}
	return result, nil
}

// spend debits amount from the account, drawing first on the order's hold
// (when there is one) and then on available.
func (u *unit) spend(accountID, asset string, amount decimal.Decimal, orderID string) (models.Balance, error) {
	covered := decimal.Zero
	if orderID != "" {
		h, err := u.tx.GetHold(u.ctx, orderID)
		if err != nil {
			return models.Balance{}, err
		}
		if h != nil {
			if h.AccountID != accountID || h.Asset != asset {
				return models.Balance{}, fmt.Errorf("%w: order %s holds %s for %s", ErrHoldMismatch, orderID, h.Asset, h.AccountID)
			}
			if covered, _, err = u.takeHold(h, amount); err != nil {
				return models.Balance{}, err
			}
		}
	}
	return u.updateBalance(accountID, asset, covered.Sub(amount), covered.Neg())
}

func (u *unit) party(accountID, base, quote string) (models.SettlementParty, error) {
	b, err := u.balance(accountID, base)
	if err != nil {
		return models.SettlementParty{}, err
	}
	q, err := u.balance(accountID, quote)
	if err != nil {
		return models.SettlementParty{}, err
	}
	return models.SettlementParty{AccountID: accountID, Base: b, Quote: q}, nil
}

// tradeLeg writes the entries of one settlement under the trade's reference.
type tradeLeg struct {
	u       *unit
	tradeID string
}

func (t tradeLeg) record(b models.Balance, typ models.EntryType, amount, balanceAfter decimal.Decimal, desc string) error {
	_, err := t.u.appendEntry(models.LedgerEntry{
		AccountID:     b.AccountID,
		Asset:         b.Asset,
		Type:          typ,
		Amount:        amount,
		BalanceAfter:  balanceAfter,
		ReferenceID:   t.tradeID,
		ReferenceType: models.ReferenceTrade,
		Description:   desc,
	})
	return err
}

func validateTrade(in models.TradeSettlementInput) error {
	if in.TradeID == "" {
		return ErrInvalidTradeID
	}
	if in.BuyerAccountID == "" || in.SellerAccountID == "" {
		return ErrInvalidAccount
	}
	if !in.Price.IsPositive() || !in.Quantity.IsPositive() {
		return fmt.Errorf("%w: price and quantity must be positive", ErrInvalidAmount)
	}
	if in.BuyerFee.IsNegative() || in.SellerFee.IsNegative() {
		return fmt.Errorf("%w: fees cannot be negative", ErrInvalidAmount)
	}
	return nil
}

// splitSymbol parses BASE-QUOTE (or BASE/QUOTE) into its two assets.
func splitSymbol(symbol string) (base, quote string, err error) {
	trimmed := strings.TrimSpace(symbol)
	for _, sep := range []string{"-", "/"} {
		if b, q, ok := strings.Cut(trimmed, sep); ok && b != "" && q != "" && !strings.ContainsAny(q, "-/") {
			return b, q, nil
		}
	}
	return "", "", fmt.Errorf("%w: %q must be in BASE-QUOTE format", ErrInvalidSymbol, symbol)
}
