package models

import "github.com/shopspring/decimal"

// TradeSettlementInput describes a matched trade to settle between two accounts.
// Symbol is BASE-QUOTE, e.g. BTC-USD.
type TradeSettlementInput struct {
	TradeID         string          `json:"trade_id"`
	BuyerAccountID  string          `json:"buyer_account_id"`
	SellerAccountID string          `json:"seller_account_id"`
	Symbol          string          `json:"symbol"`
	Price           decimal.Decimal `json:"price"`
	Quantity        decimal.Decimal `json:"quantity"`
	BuyerFee        decimal.Decimal `json:"buyer_fee"`  // in quote asset
	SellerFee       decimal.Decimal `json:"seller_fee"` // in quote asset
	BuyerOrderID    string          `json:"buyer_order_id,omitempty"`
	SellerOrderID   string          `json:"seller_order_id,omitempty"`
}

// SettlementParty is one counterparty's balances after settlement.
type SettlementParty struct {
	AccountID string  `json:"account_id"`
	Base      Balance `json:"base"`
	Quote     Balance `json:"quote"`
}

// TradeSettlement is the outcome of settling a trade.
type TradeSettlement struct {
	TradeID        string          `json:"trade_id"`
	Symbol         string          `json:"symbol"`
	BaseAsset      string          `json:"base_asset"`
	QuoteAsset     string          `json:"quote_asset"`
	TradeValue     decimal.Decimal `json:"trade_value"`
	Buyer          SettlementParty `json:"buyer"`
	Seller         SettlementParty `json:"seller"`
	Entries        []LedgerEntry   `json:"entries,omitempty"`
	AlreadySettled bool            `json:"already_settled"` // true when the trade id was settled before
}
