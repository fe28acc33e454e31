// Package intent turns untrusted transaction candidates into validated intents.
package intent

import (
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/sheet-ledger/internal/domain"
)

const (
	// DefaultConfidence is used when the candidate carries no confidence score.
	DefaultConfidence = 0.5
	dateLayout        = "2006-01-02"
)

// Config holds normalizer settings.
type Config struct {
	// DefaultCurrency applies when neither the candidate nor the account names one.
	DefaultCurrency string
	// InvestmentAccounts maps a currency to the account trades settle in when
	// the candidate does not name one.
	InvestmentAccounts map[string]string
}

// Normalizer validates candidates against the reference data of one invocation.
type Normalizer struct {
	cfg Config
}

// NewNormalizer creates a Normalizer. An empty default currency becomes IDR.
func NewNormalizer(cfg Config) *Normalizer {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "IDR"
	}
	return &Normalizer{cfg: cfg}
}

// Normalize re-validates every field of c locally, regardless of the
// confidence the parser claimed. The returned error is a *domain.ValidationError.
func (n *Normalizer) Normalize(c domain.Candidate, ref domain.Reference) (*domain.TransactionIntent, error) {
	m := c.Fields
	if len(m) == 0 {
		return nil, domain.NewValidationError(domain.ErrIncompleteIntent, "candidate", "candidate is empty")
	}

	in := &domain.TransactionIntent{}

	typeStr, err := stringField(m, "type", "transaction_type")
	if err != nil {
		return nil, domain.NewValidationError(domain.ErrIncompleteIntent, "type", err.Error())
	}
	if typeStr == "" {
		return nil, domain.NewValidationError(domain.ErrIncompleteIntent, "type", "transaction type is missing")
	}
	t, ok := domain.ParseTransactionType(typeStr)
	if !ok {
		return nil, domain.NewValidationError(domain.ErrIncompleteIntent, "type", fmt.Sprintf("unsupported transaction type %q", typeStr))
	}
	in.Type = t

	if err := n.resolveTrade(in, m); err != nil {
		return nil, err
	}
	if err := n.resolveAmount(in, m); err != nil {
		return nil, err
	}
	if err := n.resolveAccounts(in, m, ref); err != nil {
		return nil, err
	}
	if err := n.resolveCategory(in, m, ref); err != nil {
		return nil, err
	}

	in.Description, _ = stringField(m, "description", "note")
	if in.Description == "" {
		in.Description = strings.TrimSpace(c.RawText)
	}

	n.resolveDate(in, m, ref.Today)
	n.resolveConfidence(in, m)

	if boolField(m, "is_flagged") {
		reason, _ := stringField(m, "flag_reason")
		if reason == "" {
			reason = "parser flagged the transaction"
		}
		in.Ambiguities = append(in.Ambiguities, reason)
	}

	if err := in.Validate(); err != nil {
		return nil, err
	}
	return in, nil
}

func (n *Normalizer) resolveTrade(in *domain.TransactionIntent, m map[string]interface{}) error {
	if !in.Type.IsTrade() {
		return nil
	}

	symbol, err := stringField(m, "symbol", "investment_symbol")
	if err != nil {
		return domain.NewValidationError(domain.ErrIncompleteIntent, "symbol", err.Error())
	}
	if symbol == "" {
		return domain.NewValidationError(domain.ErrIncompleteIntent, "symbol", "trade requires a symbol")
	}
	in.Symbol = strings.ToUpper(symbol)

	shares, found, err := decimalField(m, "shares")
	if err != nil {
		return domain.NewValidationError(domain.ErrInvalidShareCount, "shares", err.Error())
	}
	if !found {
		return domain.NewValidationError(domain.ErrIncompleteIntent, "shares", "trade requires a share count")
	}
	if !shares.IsPositive() {
		return domain.NewValidationError(domain.ErrInvalidShareCount, "shares", fmt.Sprintf("share count %s must be greater than zero", shares))
	}
	in.Shares = shares

	price, found, err := decimalField(m, "price", "price_per_share")
	if err != nil {
		return domain.NewValidationError(domain.ErrMalformedAmount, "price", err.Error())
	}
	if !found {
		return domain.NewValidationError(domain.ErrIncompleteIntent, "price", "trade requires a price per share")
	}
	if !price.IsPositive() {
		return domain.NewValidationError(domain.ErrMalformedAmount, "price", fmt.Sprintf("price %s must be positive", price))
	}
	in.Price = price
	return nil
}

func (n *Normalizer) resolveAmount(in *domain.TransactionIntent, m map[string]interface{}) error {
	amount, found, err := decimalField(m, "amount")
	if err != nil {
		return domain.NewValidationError(domain.ErrMalformedAmount, "amount", err.Error())
	}

	gross := in.Shares.Mul(in.Price)
	switch {
	case in.Type == domain.TypeTradeBuy:
		if found && !amount.Equal(gross) {
			in.Ambiguities = append(in.Ambiguities,
				fmt.Sprintf("amount %s differs from shares x price %s; recorded %s", amount, gross, gross))
		}
		in.Amount = gross
		return nil
	case in.Type == domain.TypeTradeSell && !found:
		in.Amount = gross
		return nil
	case !found:
		return domain.NewValidationError(domain.ErrIncompleteIntent, "amount", "amount is missing")
	}

	if !amount.IsPositive() {
		return domain.NewValidationError(domain.ErrMalformedAmount, "amount", fmt.Sprintf("amount %s must be positive", amount))
	}
	in.Amount = amount
	return nil
}

func (n *Normalizer) resolveAccounts(in *domain.TransactionIntent, m map[string]interface{}, ref domain.Reference) error {
	currency, err := stringField(m, "currency")
	if err != nil {
		return domain.NewValidationError(domain.ErrMalformedAmount, "currency", err.Error())
	}
	if currency != "" {
		code, known := domain.NormalizeCurrency(currency)
		if !known {
			return domain.NewValidationError(domain.ErrMalformedAmount, "currency", fmt.Sprintf("unknown currency %q", currency))
		}
		currency = code
	}

	name, err := stringField(m, "account")
	if err != nil {
		return domain.NewValidationError(domain.ErrIncompleteIntent, "account", err.Error())
	}
	if name == "" && in.Type == domain.TypeTransfer {
		name, _ = stringField(m, "source_account", "from_account")
	}
	if name == "" && in.Type.IsTrade() {
		lookup := currency
		if lookup == "" {
			lookup = n.cfg.DefaultCurrency
		}
		if def, ok := n.cfg.InvestmentAccounts[lookup]; ok && def != "" {
			name = def
			in.Ambiguities = append(in.Ambiguities, fmt.Sprintf("no account given; assigned %s by currency %s", def, lookup))
		}
	}
	if name == "" {
		return domain.NewValidationError(domain.ErrIncompleteIntent, "account", "account is missing")
	}

	acct, ok := ref.FindAccount(name)
	if !ok {
		return domain.NewValidationError(domain.ErrUnknownAccount, "account", fmt.Sprintf("account %q does not exist", name))
	}
	in.Account = acct.Name

	switch {
	case currency != "":
		in.Currency = currency
	case acct.Currency != "":
		in.Currency, _ = domain.NormalizeCurrency(acct.Currency)
	default:
		in.Currency = n.cfg.DefaultCurrency
	}

	switch in.Type {
	case domain.TypeTransfer:
		dst, err := stringField(m, "counter_account", "destination_account", "to_account")
		if err != nil {
			return domain.NewValidationError(domain.ErrIncompleteIntent, "counter_account", err.Error())
		}
		if dst == "" {
			return domain.NewValidationError(domain.ErrIncompleteIntent, "counter_account", "transfer requires a destination account")
		}
		counter, ok := ref.FindAccount(dst)
		if !ok {
			return domain.NewValidationError(domain.ErrUnknownAccount, "counter_account", fmt.Sprintf("account %q does not exist", dst))
		}
		if counter.Name == in.Account {
			return domain.NewValidationError(domain.ErrIncompleteIntent, "counter_account", "transfer source and destination are the same account")
		}
		in.CounterAccount = counter.Name

	case domain.TypeTradeBuy:
		src, err := stringField(m, "source_account")
		if err != nil {
			return domain.NewValidationError(domain.ErrIncompleteIntent, "source_account", err.Error())
		}
		if src == "" {
			return nil
		}
		funding, ok := ref.FindAccount(src)
		if !ok {
			return domain.NewValidationError(domain.ErrUnknownAccount, "source_account", fmt.Sprintf("account %q does not exist", src))
		}
		if funding.Name != in.Account {
			in.SourceAccount = funding.Name
		}
	}
	return nil
}

func (n *Normalizer) resolveCategory(in *domain.TransactionIntent, m map[string]interface{}, ref domain.Reference) error {
	category, err := stringField(m, "category")
	if err != nil {
		return domain.NewValidationError(domain.ErrIncompleteIntent, "category", err.Error())
	}
	subcategory, err := stringField(m, "subcategory")
	if err != nil {
		return domain.NewValidationError(domain.ErrIncompleteIntent, "subcategory", err.Error())
	}

	if strings.EqualFold(category, domain.MiscCategory) {
		in.Category, in.Subcategory = domain.MiscCategory, domain.MiscSubcategory
		return nil
	}
	if c, ok := ref.FindCategory(category, subcategory); ok {
		in.Category, in.Subcategory = c.Category, c.Subcategory
		return nil
	}

	in.Category, in.Subcategory = domain.MiscCategory, domain.MiscSubcategory
	if category == "" {
		in.Ambiguities = append(in.Ambiguities, "no category given")
	} else {
		in.Ambiguities = append(in.Ambiguities, fmt.Sprintf("category %q / %q is not in the category list", category, subcategory))
	}
	return nil
}

func (n *Normalizer) resolveDate(in *domain.TransactionIntent, m map[string]interface{}, today time.Time) {
	if today.IsZero() {
		today = time.Now()
	}
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	raw, _ := stringField(m, "date")
	if raw == "" {
		in.Date = today
		return
	}
	d, err := time.Parse(dateLayout, raw)
	if err != nil {
		in.Ambiguities = append(in.Ambiguities, fmt.Sprintf("unreadable date %q; used %s", raw, today.Format(dateLayout)))
		in.Date = today
		return
	}
	in.Date = d
}

func (n *Normalizer) resolveConfidence(in *domain.TransactionIntent, m map[string]interface{}) {
	conf, found, err := floatField(m, "confidence")
	switch {
	case err != nil || !found:
		conf = DefaultConfidence
	case conf < 0:
		in.Ambiguities = append(in.Ambiguities, fmt.Sprintf("confidence %v clamped to 0", conf))
		conf = 0
	case conf > 1:
		in.Ambiguities = append(in.Ambiguities, fmt.Sprintf("confidence %v clamped to 1", conf))
		conf = 1
	}
	in.Confidence = conf
}
