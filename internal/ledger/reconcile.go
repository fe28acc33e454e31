package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/dvloznov/sheet-ledger/internal/domain"
	"github.com/dvloznov/sheet-ledger/internal/schema"
	"github.com/shopspring/decimal"
)

// IssueKind classifies a broken transaction group.
type IssueKind string

const (
	// IssueIncomplete means fewer rows exist than the group size recorded on them.
	IssueIncomplete IssueKind = "incomplete"
	// IssueDuplicated means more rows exist than the group size.
	IssueDuplicated IssueKind = "duplicated"
	// IssueUnbalanced means the group's transfer rows do not sum to zero.
	IssueUnbalanced IssueKind = "unbalanced"
)

// GroupIssue is one broken group found by Reconcile.
type GroupIssue struct {
	GroupID  string               `json:"group_id"`
	Kind     IssueKind            `json:"kind"`
	Expected int                  `json:"expected"`
	Present  int                  `json:"present"`
	Sum      decimal.Decimal      `json:"transfer_sum"`
	Entries  []domain.LedgerEntry `json:"entries"`
}

// ReconcileReport is the result of a sweep over the Transactions tab.
type ReconcileReport struct {
	Groups int          `json:"groups"`
	Issues []GroupIssue `json:"issues"`
	// Ungrouped counts rows without a group id, written before group ids existed
	// or entered by hand.
	Ungrouped int `json:"ungrouped"`
}

// Reconcile groups the ledger rows by group id and reports groups that were
// half committed, duplicated, or whose transfers do not balance.
func (e *Engine) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	entries, err := e.ListEntries(ctx, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("Reconcile: %w", err)
	}

	report := &ReconcileReport{}
	groups := make(map[string][]domain.LedgerEntry)
	var order []string
	for _, en := range entries {
		if en.GroupID == "" {
			report.Ungrouped++
			continue
		}
		if _, ok := groups[en.GroupID]; !ok {
			order = append(order, en.GroupID)
		}
		groups[en.GroupID] = append(groups[en.GroupID], en)
	}
	report.Groups = len(order)

	for _, id := range order {
		if issue, ok := checkGroup(id, groups[id]); !ok {
			report.Issues = append(report.Issues, issue)
		}
	}
	return report, nil
}

func checkGroup(id string, rows []domain.LedgerEntry) (GroupIssue, bool) {
	expected := 0
	for _, r := range rows {
		if r.GroupSize > expected {
			expected = r.GroupSize
		}
	}

	sum := decimal.Zero
	transfers := 0
	for _, r := range rows {
		if r.Type == domain.TypeTransfer {
			sum = sum.Add(r.SignedAmount())
			transfers++
		}
	}

	issue := GroupIssue{GroupID: id, Expected: expected, Present: len(rows), Sum: sum, Entries: rows}
	switch {
	case expected > 0 && len(rows) < expected:
		issue.Kind = IssueIncomplete
	case expected > 0 && len(rows) > expected:
		issue.Kind = IssueDuplicated
	case transfers > 0 && !sum.IsZero():
		issue.Kind = IssueUnbalanced
	default:
		return GroupIssue{}, true
	}
	return issue, false
}

// ReverseGroup deletes every row of a group, bottom row first so earlier
// indexes stay valid. It is the operator's repair for a half committed group;
// portfolio rows are not touched because they are only written after all
// ledger rows succeeded.
func (e *Engine) ReverseGroup(ctx context.Context, groupID string) ([]domain.RowRef, error) {
	if groupID == "" {
		return nil, fmt.Errorf("ReverseGroup: empty group id")
	}

	unlock := e.locker.Lock(rowsKey)
	defer unlock()

	rows, err := e.store.ListAll(ctx, e.tabs.Transactions)
	if err != nil {
		return nil, fmt.Errorf("ReverseGroup: listing %s: %w", e.tabs.Transactions, err)
	}

	var indexes []int
	for _, en := range schema.DecodeEntries(rows) {
		if en.GroupID == groupID {
			indexes = append(indexes, en.RowIndex)
		}
	}
	if len(indexes) == 0 {
		return nil, fmt.Errorf("ReverseGroup: group %s: %w", groupID, domain.ErrEntryNotFound)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(indexes)))

	deleted := make([]domain.RowRef, 0, len(indexes))
	for _, idx := range indexes {
		if err := e.store.DeleteByIndex(ctx, e.tabs.Transactions, idx); err != nil {
			return deleted, fmt.Errorf("ReverseGroup: deleting row %d: %w", idx, err)
		}
		deleted = append(deleted, domain.RowRef{Sheet: e.tabs.Transactions, Index: idx})
	}
	return deleted, nil
}
