package portfolio

import (
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/sheet-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Book is an in-memory view of positions keyed by (account, symbol).
// It is not safe for concurrent use; callers serialize per key.
type Book struct {
	positions map[string]domain.PortfolioPosition
}

// NewBook builds a book from a snapshot of positions.
func NewBook(positions []domain.PortfolioPosition) *Book {
	b := &Book{positions: make(map[string]domain.PortfolioPosition, len(positions))}
	for _, p := range positions {
		b.positions[bookKey(p.Account, p.Symbol)] = p
	}
	return b
}

func bookKey(account, symbol string) string {
	k := domain.NewPositionKey(account, symbol)
	return strings.ToLower(k.Account) + "\x00" + k.Symbol
}

// Get returns the position for (account, symbol).
func (b *Book) Get(account, symbol string) (domain.PortfolioPosition, bool) {
	p, ok := b.positions[bookKey(account, symbol)]
	return p, ok
}

// Buy applies a purchase, creating the position when it does not exist yet.
func (b *Book) Buy(account, symbol string, shares, price decimal.Decimal, currency string, date time.Time) (domain.PortfolioDelta, error) {
	before, exists := b.Get(account, symbol)
	if !exists {
		key := domain.NewPositionKey(account, symbol)
		before = domain.PortfolioPosition{
			Account:      key.Account,
			Symbol:       key.Symbol,
			Currency:     currency,
			PurchaseDate: date,
		}
	}

	after, err := Buy(before, shares, price)
	if err != nil {
		return domain.PortfolioDelta{}, err
	}
	b.positions[bookKey(account, symbol)] = after

	return domain.PortfolioDelta{Before: before, After: after, Created: !exists}, nil
}

// Sell applies a sale. Selling from a position that does not exist fails with
// ErrInsufficientShares.
func (b *Book) Sell(account, symbol string, shares, saleAmount decimal.Decimal) (domain.PortfolioDelta, error) {
	before, exists := b.Get(account, symbol)
	if !exists {
		key := domain.NewPositionKey(account, symbol)
		before = domain.PortfolioPosition{Account: key.Account, Symbol: key.Symbol}
	}

	after, baseCost, gain, err := Sell(before, shares, saleAmount)
	if err != nil {
		return domain.PortfolioDelta{}, err
	}
	b.positions[bookKey(account, symbol)] = after

	return domain.PortfolioDelta{Before: before, After: after, BaseCost: baseCost, Gain: gain}, nil
}

// Positions returns all positions ordered by account then symbol.
func (b *Book) Positions() []domain.PortfolioPosition {
	out := make([]domain.PortfolioPosition, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Account != out[j].Account {
			return out[i].Account < out[j].Account
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}
