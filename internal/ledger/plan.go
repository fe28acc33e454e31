package ledger

import (
	"fmt"

	"github.com/dvloznov/sheet-ledger/internal/domain"
	"github.com/dvloznov/sheet-ledger/internal/portfolio"
	"github.com/shopspring/decimal"
)

// Plan is everything one intent will write, computed before any store call.
type Plan struct {
	GroupID string
	Entries []domain.LedgerEntry
	// Delta is nil for intents that do not touch the portfolio.
	Delta *domain.PortfolioDelta
}

// BuildPlan computes the ledger rows and portfolio mutation for in.
// Trades are applied to book, which must hold the current positions; the
// store is not touched. usdToIDR values USD positions in IDR and may be zero
// when unknown.
func BuildPlan(in domain.TransactionIntent, status domain.EntryStatus, book *portfolio.Book, usdToIDR decimal.Decimal, newID func() string) (*Plan, error) {
	p := &Plan{GroupID: newID()}

	row := func(account, category, subcategory, description string, amount decimal.Decimal, typ domain.TransactionType, flow domain.Flow) domain.LedgerEntry {
		return domain.LedgerEntry{
			ID:          newID(),
			GroupID:     p.GroupID,
			Date:        in.Date,
			Account:     account,
			Category:    category,
			Subcategory: subcategory,
			Description: description,
			Amount:      amount,
			Type:        typ,
			Status:      status,
			Flow:        flow,
		}
	}
	transferPair := func(from, to string, amount decimal.Decimal) []domain.LedgerEntry {
		return []domain.LedgerEntry{
			row(from, in.Category, in.Subcategory, "Transfer to "+to, amount.Neg(), domain.TypeTransfer, domain.Outflow),
			row(to, in.Category, in.Subcategory, "Transfer from "+from, amount, domain.TypeTransfer, domain.Inflow),
		}
	}

	switch in.Type {
	case domain.TypeExpense:
		p.Entries = append(p.Entries, row(in.Account, in.Category, in.Subcategory, in.Description, in.Amount, domain.TypeExpense, domain.Outflow))

	case domain.TypeIncome:
		p.Entries = append(p.Entries, row(in.Account, in.Category, in.Subcategory, in.Description, in.Amount, domain.TypeIncome, domain.Inflow))

	case domain.TypeTransfer:
		p.Entries = append(p.Entries, transferPair(in.Account, in.CounterAccount, in.Amount)...)

	case domain.TypeTradeBuy:
		if book == nil {
			return nil, fmt.Errorf("BuildPlan: trade without a portfolio book")
		}
		delta, err := book.Buy(in.Account, in.Symbol, in.Shares, in.Price, in.Currency, in.Date)
		if err != nil {
			return nil, err
		}
		delta.After = portfolio.Revalue(delta.After, in.Price, usdToIDR)

		cost := in.Shares.Mul(in.Price)
		if in.SourceAccount != "" {
			p.Entries = append(p.Entries, transferPair(in.SourceAccount, in.Account, cost)...)
		}
		p.Entries = append(p.Entries, row(in.Account, in.Category, in.Subcategory, "Buy "+in.Symbol, cost, domain.TypeAsset, domain.Outflow))
		p.Delta = &delta

	case domain.TypeTradeSell:
		if book == nil {
			return nil, fmt.Errorf("BuildPlan: trade without a portfolio book")
		}
		delta, err := book.Sell(in.Account, in.Symbol, in.Shares, in.Amount)
		if err != nil {
			return nil, err
		}
		delta.After = portfolio.Revalue(delta.After, in.Price, usdToIDR)

		p.Entries = append(p.Entries,
			row(in.Account, in.Category, in.Subcategory, fmt.Sprintf("Sell %s (Return of Capital)", in.Symbol), delta.BaseCost, domain.TypeAsset, domain.Inflow),
			row(in.Account, domain.CapitalGainsCategory, domain.CapitalGainsSubcategory, fmt.Sprintf("Sell %s (Gain)", in.Symbol), delta.Gain, domain.TypeIncome, domain.Inflow),
		)
		p.Delta = &delta

	default:
		return nil, domain.NewValidationError(domain.ErrIncompleteIntent, "type", "unsupported transaction type "+string(in.Type))
	}

	for i := range p.Entries {
		p.Entries[i].GroupSize = len(p.Entries)
	}
	return p, nil
}
