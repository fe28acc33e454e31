package parser

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/sheet-ledger/internal/domain"
)

// BuildPrompt renders the instructions for one message. Categories, accounts
// and positions come from ref so the model can only pick existing names.
func BuildPrompt(ref domain.Reference, message string, now time.Time) string {
	var b strings.Builder

	b.WriteString("You are a financial transaction parser for an Indonesian user.\n")
	b.WriteString("Extract transaction details from the user's message and/or image (if provided).\n\n")
	fmt.Fprintf(&b, "CURRENT DATE: %s\n\n", now.Format("2006-01-02 15:04"))

	b.WriteString("VALID CATEGORIES:\n")
	b.WriteString(categoriesContext(ref.Categories))
	b.WriteString("\nVALID ACCOUNTS:\n")
	b.WriteString(accountsContext(ref.Accounts))
	b.WriteString("\nCURRENT PORTFOLIO:\n")
	b.WriteString(portfolioContext(ref.Portfolio))

	b.WriteString(`
RULES:
1. Amount: Parse Indonesian Rupiah formats (20k=20,000, 1.5jt=1,500,000) or USD formats ($100, 100 USD).
2. Category/Subcategory: Use only names from VALID CATEGORIES. If nothing fits use "Miscellaneous" / "Other".
3. Account: Use only names from VALID ACCOUNTS. Never invent account names; flag the transaction instead.
4. transaction_type is one of "Expense", "Income", "Transfer", "Trade_Buy", "Trade_Sell".
5. For transfers "account" is the SOURCE and "destination_account" the TARGET.
6. For trades give "investment_symbol", "shares" and "price_per_share". For Trade_Buy, "account" is the
   investment account holding the stock and "source_account" the bank account paying for it, or null.
   For Trade_Sell "amount" is the total received.
7. currency is "IDR" for Indonesian stocks and "USD" for US stocks. Default to "IDR".
8. date is "YYYY-MM-DD"; use the current date when the message gives none.
9. Set "is_flagged" with a "flag_reason" and lower "confidence" whenever you are unsure.

`)
	if strings.TrimSpace(message) == "" {
		message = "(No text message, only image)"
	}
	fmt.Fprintf(&b, "USER MESSAGE: %s\n\n", message)

	b.WriteString(`Respond ONLY with one JSON object in this exact format:
{
    "amount": 400000,
    "category": "Investment",
    "subcategory": "Stocks",
    "account": "RDN Wallet",
    "destination_account": null,
    "source_account": null,
    "note": "Sell 1000 ARCI",
    "transaction_type": "Trade_Sell",
    "investment_symbol": "ARCI",
    "shares": 1000,
    "price_per_share": 400,
    "currency": "IDR",
    "date": "2025-01-31",
    "is_flagged": false,
    "flag_reason": null,
    "confidence": 0.95
}
`)
	return b.String()
}

func categoriesContext(cats []domain.Category) string {
	grouped := make(map[string][]string)
	for _, c := range cats {
		if _, ok := grouped[c.Category]; !ok {
			grouped[c.Category] = nil
		}
		if c.Subcategory != "" {
			grouped[c.Category] = append(grouped[c.Category], c.Subcategory)
		}
	}
	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		subs := grouped[name]
		if len(subs) == 0 {
			fmt.Fprintf(&b, "- %s\n", name)
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", name, strings.Join(subs, ", "))
	}
	if len(names) == 0 {
		b.WriteString("(none)\n")
	}
	return b.String()
}

func accountsContext(accounts []domain.Account) string {
	var b strings.Builder
	for _, a := range accounts {
		fmt.Fprintf(&b, "- %s (%s, %s)\n", a.Name, a.Type, a.Currency)
	}
	if len(accounts) == 0 {
		b.WriteString("(none)\n")
	}
	return b.String()
}

func portfolioContext(positions []domain.PortfolioPosition) string {
	var b strings.Builder
	n := 0
	for _, p := range positions {
		if !p.Shares.IsPositive() {
			continue
		}
		n++
		fmt.Fprintf(&b, "- %s in %s: %s shares @ %s\n", p.Symbol, p.Account, p.Shares, domain.FormatMoney(p.AvgPrice, p.Currency))
	}
	if n == 0 {
		b.WriteString("(no open positions)\n")
	}
	return b.String()
}
