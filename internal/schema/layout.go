package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dvloznov/sheet-ledger/internal/store"
)

// Problem is a layout mismatch found on one tab.
type Problem struct {
	Tab    string `json:"tab"`
	Detail string `json:"detail"`
	// Fixable is true when EnsureHeaders can repair the tab without touching data.
	Fixable bool `json:"fixable"`
}

func (p Problem) String() string {
	return p.Tab + ": " + p.Detail
}

// VerifyLayout checks the header of every tab.
func VerifyLayout(ctx context.Context, st store.Store, tabs Tabs) ([]Problem, error) {
	var problems []Problem
	for _, tab := range sortedTabs(tabs) {
		want := Headers(tabs)[tab]
		rows, err := st.ListAll(ctx, tab)
		if err != nil {
			return nil, fmt.Errorf("VerifyLayout: reading %s: %w", tab, err)
		}
		if p, ok := checkHeader(tab, rows, want); !ok {
			problems = append(problems, p)
		}
	}
	return problems, nil
}

func checkHeader(tab string, rows []store.Row, want store.Row) (Problem, bool) {
	if len(rows) == 0 {
		return Problem{Tab: tab, Detail: "tab is empty, header missing", Fixable: true}, false
	}
	got := rows[0]
	for i, col := range want {
		cell := strings.TrimSpace(store.Cell(got, i))
		if cell == col {
			continue
		}
		// Only the Transactions header is longer than the legacy width.
		if cell == "" && i >= LegacyTransactionColumns {
			return Problem{Tab: tab, Detail: fmt.Sprintf("missing column %q (and later)", col), Fixable: true}, false
		}
		return Problem{Tab: tab, Detail: fmt.Sprintf("column %d is %q, want %q", i+1, cell, col)}, false
	}
	return Problem{}, true
}

// EnsureHeaders writes missing headers and appends the surrogate key columns
// to a legacy Transactions header. Tabs with conflicting headers are left alone.
func EnsureHeaders(ctx context.Context, st store.Store, tabs Tabs) ([]Problem, error) {
	var remaining []Problem
	for _, tab := range sortedTabs(tabs) {
		want := Headers(tabs)[tab]
		rows, err := st.ListAll(ctx, tab)
		if err != nil {
			return nil, fmt.Errorf("EnsureHeaders: reading %s: %w", tab, err)
		}
		p, ok := checkHeader(tab, rows, want)
		switch {
		case ok:
		case !p.Fixable:
			remaining = append(remaining, p)
		case len(rows) == 0:
			if _, err := st.Append(ctx, tab, want); err != nil {
				return nil, fmt.Errorf("EnsureHeaders: writing %s header: %w", tab, err)
			}
		default:
			if err := st.UpdateByIndex(ctx, tab, 1, want); err != nil {
				return nil, fmt.Errorf("EnsureHeaders: extending %s header: %w", tab, err)
			}
		}
	}
	return remaining, nil
}

func sortedTabs(t Tabs) []string {
	tabs := make([]string, 0, 5)
	for tab := range Headers(t) {
		tabs = append(tabs, tab)
	}
	sort.Strings(tabs)
	return tabs
}
