package handlers

import (
	"net/http"
	"sort"
	"time"

	"github.com/dvloznov/sheet-ledger/internal/api/middleware"
	"github.com/dvloznov/sheet-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// ReferenceHandler serves categories, accounts, budgets and the portfolio.
type ReferenceHandler struct {
	ledger Ledger
	now    func() time.Time
}

// NewReferenceHandler creates a new reference data handler.
func NewReferenceHandler(l Ledger) *ReferenceHandler {
	return &ReferenceHandler{ledger: l, now: time.Now}
}

// ListCategories handles GET /api/categories
func (h *ReferenceHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	ref, err := h.ledger.LoadReference(r.Context())
	if err != nil {
		writeEngineError(w, r, err, "Failed to list categories")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"categories": nonNil(ref.Categories),
		"count":      len(ref.Categories),
	})
}

// ListAccounts handles GET /api/accounts
func (h *ReferenceHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	ref, err := h.ledger.LoadReference(r.Context())
	if err != nil {
		writeEngineError(w, r, err, "Failed to list accounts")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": nonNil(ref.Accounts),
		"count":    len(ref.Accounts),
	})
}

// portfolioTotal sums positions held in one currency.
type portfolioTotal struct {
	Currency   string          `json:"currency"`
	CostBasis  decimal.Decimal `json:"cost_basis"`
	RealizedPL decimal.Decimal `json:"realized_pl"`
	ValueIDR   decimal.Decimal `json:"value_idr"`
}

// GetPortfolio handles GET /api/portfolio. Closed positions are left out of
// the list but their realized P/L still counts in the totals.
func (h *ReferenceHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	positions, err := h.ledger.Positions(r.Context())
	if err != nil {
		writeEngineError(w, r, err, "Failed to read portfolio")
		return
	}

	open := make([]domain.PortfolioPosition, 0, len(positions))
	byCurrency := make(map[string]*portfolioTotal)
	for _, p := range positions {
		t, ok := byCurrency[p.Currency]
		if !ok {
			t = &portfolioTotal{Currency: p.Currency}
			byCurrency[p.Currency] = t
		}
		t.RealizedPL = t.RealizedPL.Add(p.RealizedPL)
		if !p.Shares.IsPositive() {
			continue
		}
		open = append(open, p)
		t.CostBasis = t.CostBasis.Add(p.CostBasis())
		t.ValueIDR = t.ValueIDR.Add(p.TotalValueIDR)
	}

	totals := make([]portfolioTotal, 0, len(byCurrency))
	for _, t := range byCurrency {
		totals = append(totals, *t)
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].Currency < totals[j].Currency })

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"positions": open,
		"totals":    totals,
	})
}

// GetBudgets handles GET /api/budgets?year=&month=
func (h *ReferenceHandler) GetBudgets(w http.ResponseWriter, r *http.Request) {
	year, month, ok := monthQuery(r, h.now())
	if !ok || year == 0 || month == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "A single year and month are required")
		return
	}

	ref, err := h.ledger.LoadReference(r.Context())
	if err != nil {
		writeEngineError(w, r, err, "Failed to load budgets")
		return
	}
	lines, err := h.ledger.BudgetStatus(r.Context(), ref, year, month)
	if err != nil {
		writeEngineError(w, r, err, "Failed to compute budget status")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"year":    year,
		"month":   month,
		"budgets": nonNil(lines),
	})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
