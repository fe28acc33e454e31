package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EntryStatus is the review status written into every ledger row.
type EntryStatus string

const (
	StatusNormal  EntryStatus = "Normal"
	StatusFlagged EntryStatus = "Flagged"
)

// ParseEntryStatus resolves Normal or Flagged case-insensitively.
func ParseEntryStatus(s string) (EntryStatus, bool) {
	switch {
	case strings.EqualFold(strings.TrimSpace(s), string(StatusNormal)):
		return StatusNormal, true
	case strings.EqualFold(strings.TrimSpace(s), string(StatusFlagged)):
		return StatusFlagged, true
	}
	return "", false
}

// Flow is the direction of money for the row's account.
type Flow string

const (
	Inflow  Flow = "inflow"
	Outflow Flow = "outflow"
)

// LedgerEntry is one physical row of the Transactions tab.
type LedgerEntry struct {
	ID        string `json:"id"`
	GroupID   string `json:"group_id"`
	GroupSize int    `json:"group_size"`

	Date        time.Time       `json:"date"`
	Account     string          `json:"account"`
	Category    string          `json:"category"`
	Subcategory string          `json:"subcategory"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Type        TransactionType `json:"type"`
	Status      EntryStatus     `json:"status"`

	Flow Flow `json:"flow"`

	// RowIndex is the 1-based sheet row the entry was read from or written to.
	// Zero when unknown.
	RowIndex int `json:"row_index,omitempty"`
}

// SignedAmount returns the effect of the entry on its account's balance.
// Amounts already written with a sign keep it.
func (e LedgerEntry) SignedAmount() decimal.Decimal {
	if e.Amount.IsNegative() {
		return e.Amount
	}
	if e.Flow == Outflow {
		return e.Amount.Neg()
	}
	return e.Amount
}

// RowRef locates a row written to the store.
type RowRef struct {
	Sheet string `json:"sheet"`
	Index int    `json:"index"`
}
