package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// MiscCategory receives candidates whose category is not in the reference set.
	MiscCategory    = "Miscellaneous"
	MiscSubcategory = "Other"

	CapitalGainsCategory    = "Income"
	CapitalGainsSubcategory = "Capital Gains"
)

// Account is a row of the Settings_Accounts tab.
type Account struct {
	Name     string          `json:"name"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
	Type     string          `json:"type"`
}

// Category is a row of the Categories tab.
type Category struct {
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
	Type        string `json:"type"`
}

// Budget is a row of the Budgets tab.
type Budget struct {
	Category      string          `json:"category"`
	MonthlyBudget decimal.Decimal `json:"monthly_budget"`
	EffectiveFrom time.Time       `json:"effective_from"`
}

// Reference is the reference data one engine invocation runs against.
// It is loaded fresh per invocation and passed explicitly.
type Reference struct {
	Accounts   []Account           `json:"accounts"`
	Categories []Category          `json:"categories"`
	Budgets    []Budget            `json:"budgets"`
	Portfolio  []PortfolioPosition `json:"portfolio"`
	Today      time.Time           `json:"today"`
}

// FindAccount looks an account up by name, ignoring case and surrounding space.
func (r Reference) FindAccount(name string) (Account, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Account{}, false
	}
	for _, a := range r.Accounts {
		if strings.EqualFold(a.Name, name) {
			return a, true
		}
	}
	return Account{}, false
}

// FindCategory looks a category/subcategory pair up, ignoring case.
// An empty subcategory matches the first subcategory of the category.
func (r Reference) FindCategory(category, subcategory string) (Category, bool) {
	category = strings.TrimSpace(category)
	subcategory = strings.TrimSpace(subcategory)
	for _, c := range r.Categories {
		if !strings.EqualFold(c.Category, category) {
			continue
		}
		if subcategory == "" || strings.EqualFold(c.Subcategory, subcategory) {
			return c, true
		}
	}
	return Category{}, false
}

// Position returns the snapshot position for (account, symbol).
func (r Reference) Position(account, symbol string) (PortfolioPosition, bool) {
	key := NewPositionKey(account, symbol)
	for _, p := range r.Portfolio {
		pk := p.Key()
		if strings.EqualFold(pk.Account, key.Account) && pk.Symbol == key.Symbol {
			return p, true
		}
	}
	return PortfolioPosition{}, false
}

// BudgetFor returns the budget in effect for category on day.
func (r Reference) BudgetFor(category string, day time.Time) (Budget, bool) {
	var best Budget
	found := false
	for _, b := range r.Budgets {
		if !strings.EqualFold(b.Category, category) || b.EffectiveFrom.After(day) {
			continue
		}
		if !found || b.EffectiveFrom.After(best.EffectiveFrom) {
			best, found = b, true
		}
	}
	return best, found
}
