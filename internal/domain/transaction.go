package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the kind of financial event an intent or a ledger row describes.
type TransactionType string

const (
	TypeExpense   TransactionType = "Expense"
	TypeIncome    TransactionType = "Income"
	TypeTransfer  TransactionType = "Transfer"
	TypeTradeBuy  TransactionType = "Trade_Buy"
	TypeTradeSell TransactionType = "Trade_Sell"

	// TypeAsset only appears on ledger rows produced by trades.
	TypeAsset TransactionType = "Asset"
)

var intentTypes = []TransactionType{TypeExpense, TypeIncome, TypeTransfer, TypeTradeBuy, TypeTradeSell}

// ParseTransactionType resolves s case-insensitively against the intent types.
// Spaces and dashes are accepted in place of the underscore ("trade buy").
func ParseTransactionType(s string) (TransactionType, bool) {
	norm := strings.NewReplacer(" ", "_", "-", "_").Replace(strings.TrimSpace(s))
	for _, t := range intentTypes {
		if strings.EqualFold(norm, string(t)) {
			return t, true
		}
	}
	return "", false
}

// ParseEntryType resolves the type of a ledger row: Expense, Income,
// Transfer or Asset.
func ParseEntryType(s string) (TransactionType, bool) {
	for _, t := range []TransactionType{TypeExpense, TypeIncome, TypeTransfer, TypeAsset} {
		if strings.EqualFold(strings.TrimSpace(s), string(t)) {
			return t, true
		}
	}
	return "", false
}

// IsTrade reports whether t is Trade_Buy or Trade_Sell.
func (t TransactionType) IsTrade() bool {
	return t == TypeTradeBuy || t == TypeTradeSell
}

// TransactionIntent is a validated, type-complete description of a financial
// event awaiting ledger commit.
type TransactionIntent struct {
	// Amount is always positive. For trades it is the gross trade value.
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`

	Account string `json:"account"`
	// CounterAccount is the destination of a Transfer.
	CounterAccount string `json:"counter_account,omitempty"`
	// SourceAccount optionally funds a Trade_Buy from another account.
	SourceAccount string `json:"source_account,omitempty"`

	Category    string          `json:"category"`
	Subcategory string          `json:"subcategory"`
	Type        TransactionType `json:"type"`

	Symbol string          `json:"symbol,omitempty"`
	Shares decimal.Decimal `json:"shares"`
	Price  decimal.Decimal `json:"price"`

	Description string    `json:"description"`
	Date        time.Time `json:"date"`
	Confidence  float64   `json:"confidence"`

	// Ambiguities lists the normalizer's doubts about the candidate.
	Ambiguities []string `json:"ambiguities,omitempty"`
	NeedsReview bool     `json:"needs_review"`
}

// Validate checks the type-dependent required fields.
func (i *TransactionIntent) Validate() error {
	if !i.Amount.IsPositive() {
		return NewValidationError(ErrMalformedAmount, "amount", "amount must be positive")
	}
	if i.Account == "" {
		return NewValidationError(ErrIncompleteIntent, "account", "account is required")
	}

	switch i.Type {
	case TypeExpense, TypeIncome:
	case TypeTransfer:
		if i.CounterAccount == "" {
			return NewValidationError(ErrIncompleteIntent, "counter_account", "transfer requires a destination account")
		}
		if strings.EqualFold(i.CounterAccount, i.Account) {
			return NewValidationError(ErrIncompleteIntent, "counter_account", "transfer source and destination are the same account")
		}
	case TypeTradeBuy, TypeTradeSell:
		if i.Symbol == "" {
			return NewValidationError(ErrIncompleteIntent, "symbol", "trade requires a symbol")
		}
		if !i.Shares.IsPositive() {
			return NewValidationError(ErrInvalidShareCount, "shares", "shares must be greater than zero")
		}
		if !i.Price.IsPositive() {
			return NewValidationError(ErrMalformedAmount, "price", "price per share must be positive")
		}
	default:
		return NewValidationError(ErrIncompleteIntent, "type", "unknown transaction type "+string(i.Type))
	}

	if i.Confidence < 0 || i.Confidence > 1 {
		return NewValidationError(ErrIncompleteIntent, "confidence", "confidence must be within [0,1]")
	}
	return nil
}

// Candidate is the untyped output of the AI parser, or a hand-written
// submission from the dashboard. Nothing in it is trusted.
type Candidate struct {
	Fields  map[string]interface{} `json:"candidate"`
	RawText string                 `json:"raw_text,omitempty"`
}
