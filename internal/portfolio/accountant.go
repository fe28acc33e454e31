// Package portfolio implements average-cost-basis accounting for stock positions.
package portfolio

import (
	"fmt"

	"github.com/dvloznov/sheet-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Buy adds shares bought at price to pos and returns the new position.
// The average price becomes the shares-weighted mean of the old average and price.
// pos is not modified.
func Buy(pos domain.PortfolioPosition, shares, price decimal.Decimal) (domain.PortfolioPosition, error) {
	if !shares.IsPositive() {
		return pos, domain.NewValidationError(domain.ErrInvalidShareCount, "shares",
			fmt.Sprintf("cannot buy %s shares", shares))
	}
	if !price.IsPositive() {
		return pos, domain.NewValidationError(domain.ErrMalformedAmount, "price",
			fmt.Sprintf("cannot buy at price %s", price))
	}

	next := pos
	total := pos.Shares.Add(shares)
	if pos.Shares.IsZero() {
		next.AvgPrice = price
	} else {
		next.AvgPrice = pos.Shares.Mul(pos.AvgPrice).Add(shares.Mul(price)).Div(total)
	}
	next.Shares = total
	return next, nil
}

// Sell removes shares from pos for saleAmount and returns the new position
// together with the cost basis of the sold shares and the realized gain.
// baseCost + gain always equals saleAmount. The average price is unchanged.
func Sell(pos domain.PortfolioPosition, shares, saleAmount decimal.Decimal) (next domain.PortfolioPosition, baseCost, gain decimal.Decimal, err error) {
	if !shares.IsPositive() {
		return pos, decimal.Zero, decimal.Zero, domain.NewValidationError(domain.ErrInvalidShareCount, "shares",
			fmt.Sprintf("cannot sell %s shares", shares))
	}
	if shares.GreaterThan(pos.Shares) {
		return pos, decimal.Zero, decimal.Zero, domain.NewValidationError(domain.ErrInsufficientShares, "shares",
			fmt.Sprintf("cannot sell %s %s from %s: only %s held", shares, pos.Symbol, pos.Account, pos.Shares))
	}

	baseCost = shares.Mul(pos.AvgPrice)
	gain = saleAmount.Sub(baseCost)

	next = pos
	next.Shares = pos.Shares.Sub(shares)
	next.RealizedPL = pos.RealizedPL.Add(gain)
	return next, baseCost, gain, nil
}

// Revalue recomputes the total value columns at the last trade price.
// usdToIDR converts USD positions; IDR positions leave the USD value at zero.
func Revalue(pos domain.PortfolioPosition, price, usdToIDR decimal.Decimal) domain.PortfolioPosition {
	native := pos.Shares.Mul(price)
	if pos.Currency == "USD" {
		pos.TotalValueUSD = native
		pos.TotalValueIDR = native.Mul(usdToIDR)
	} else {
		pos.TotalValueUSD = decimal.Zero
		pos.TotalValueIDR = native
	}
	return pos
}
