package domain

import (
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// NormalizeCurrency upper-cases code and reports whether it is a known ISO 4217 code.
func NormalizeCurrency(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	return code, money.GetCurrency(code) != nil
}

// FormatMoney renders amount in currency with its symbol and grouping,
// e.g. "Rp50.000" or "$12.50". Unknown currencies fall back to "<amount> <code>".
func FormatMoney(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return amount.String() + " " + currency
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0)
	return money.New(minor.IntPart(), cur.Code).Display()
}
