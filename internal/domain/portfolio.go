package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PositionKey identifies a portfolio position.
type PositionKey struct {
	Account string
	Symbol  string
}

// NewPositionKey builds a key with the symbol upper-cased.
func NewPositionKey(account, symbol string) PositionKey {
	return PositionKey{Account: strings.TrimSpace(account), Symbol: strings.ToUpper(strings.TrimSpace(symbol))}
}

func (k PositionKey) String() string {
	return k.Account + "/" + k.Symbol
}

// PortfolioPosition is the running average-cost state of one (account, symbol).
// Positions are never deleted; a fully sold position keeps Shares at zero.
type PortfolioPosition struct {
	Account    string          `json:"account"`
	Symbol     string          `json:"symbol"`
	Shares     decimal.Decimal `json:"shares"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
	RealizedPL decimal.Decimal `json:"realized_pl"`
	Currency   string          `json:"currency"`

	PurchaseDate  time.Time       `json:"purchase_date"`
	TotalValueUSD decimal.Decimal `json:"total_value_usd"`
	TotalValueIDR decimal.Decimal `json:"total_value_idr"`

	RowIndex int `json:"row_index,omitempty"`
}

// Key returns the position's key.
func (p PortfolioPosition) Key() PositionKey {
	return NewPositionKey(p.Account, p.Symbol)
}

// CostBasis is shares times average price.
func (p PortfolioPosition) CostBasis() decimal.Decimal {
	return p.Shares.Mul(p.AvgPrice)
}
