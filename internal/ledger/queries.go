package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/sheet-ledger/internal/domain"
	"github.com/dvloznov/sheet-ledger/internal/schema"
	"github.com/shopspring/decimal"
)

// LoadReference reads the reference tabs and the portfolio for one invocation.
func (e *Engine) LoadReference(ctx context.Context) (domain.Reference, error) {
	var ref domain.Reference

	rows, err := e.store.ListAll(ctx, e.tabs.Categories)
	if err != nil {
		return ref, fmt.Errorf("LoadReference: categories: %w", err)
	}
	ref.Categories = schema.DecodeCategories(rows)

	rows, err = e.store.ListAll(ctx, e.tabs.Accounts)
	if err != nil {
		return ref, fmt.Errorf("LoadReference: accounts: %w", err)
	}
	ref.Accounts = schema.DecodeAccounts(rows)

	rows, err = e.store.ListAll(ctx, e.tabs.Budgets)
	if err != nil {
		return ref, fmt.Errorf("LoadReference: budgets: %w", err)
	}
	ref.Budgets = schema.DecodeBudgets(rows)

	ref.Portfolio, err = e.Positions(ctx)
	if err != nil {
		return ref, fmt.Errorf("LoadReference: %w", err)
	}

	ref.Today = e.now()
	return ref, nil
}

// Positions reads the Investments tab.
func (e *Engine) Positions(ctx context.Context) ([]domain.PortfolioPosition, error) {
	rows, err := e.store.ListAll(ctx, e.tabs.Investments)
	if err != nil {
		return nil, fmt.Errorf("Positions: listing %s: %w", e.tabs.Investments, err)
	}
	return schema.DecodePositions(rows), nil
}

// ListEntries returns the ledger rows dated in the given month. A zero year
// returns every row; a zero month returns the whole year.
func (e *Engine) ListEntries(ctx context.Context, year, month int) ([]domain.LedgerEntry, error) {
	rows, err := e.store.ListAll(ctx, e.tabs.Transactions)
	if err != nil {
		return nil, fmt.Errorf("ListEntries: listing %s: %w", e.tabs.Transactions, err)
	}

	all := schema.DecodeEntries(rows)
	if year == 0 {
		return all, nil
	}
	out := make([]domain.LedgerEntry, 0, len(all))
	for _, en := range all {
		if en.Date.Year() != year {
			continue
		}
		if month != 0 && int(en.Date.Month()) != month {
			continue
		}
		out = append(out, en)
	}
	return out, nil
}

// BudgetLine compares one category's spending with its budget.
type BudgetLine struct {
	Category  string          `json:"category"`
	Budget    decimal.Decimal `json:"budget"`
	Spent     decimal.Decimal `json:"spent"`
	Remaining decimal.Decimal `json:"remaining"`
	Over      bool            `json:"over"`
}

// BudgetStatus sums the month's expenses per budgeted category.
func (e *Engine) BudgetStatus(ctx context.Context, ref domain.Reference, year, month int) ([]BudgetLine, error) {
	entries, err := e.ListEntries(ctx, year, month)
	if err != nil {
		return nil, fmt.Errorf("BudgetStatus: %w", err)
	}

	spent := make(map[string]decimal.Decimal)
	for _, en := range entries {
		if en.Type != domain.TypeExpense {
			continue
		}
		k := strings.ToLower(en.Category)
		spent[k] = spent[k].Add(en.Amount.Abs())
	}

	monthStart := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	seen := make(map[string]bool)
	var lines []BudgetLine
	for _, b := range ref.Budgets {
		k := strings.ToLower(b.Category)
		if seen[k] {
			continue
		}
		active, ok := ref.BudgetFor(b.Category, monthStart)
		if !ok {
			continue
		}
		seen[k] = true
		line := BudgetLine{Category: active.Category, Budget: active.MonthlyBudget, Spent: spent[k]}
		line.Remaining = line.Budget.Sub(line.Spent)
		line.Over = line.Remaining.IsNegative()
		lines = append(lines, line)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Category < lines[j].Category })
	return lines, nil
}
