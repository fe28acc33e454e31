package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/sheet-ledger/internal/domain"
)

// LedgerEntryRow mirrors one Transactions row in <dataset>.ledger_entries.
type LedgerEntryRow struct {
	EntryID string `bigquery:"entry_id"` // REQUIRED
	GroupID string `bigquery:"group_id"` // REQUIRED

	GroupSize int64 `bigquery:"group_size"`

	EntryDate civil.Date `bigquery:"entry_date"` // REQUIRED

	Account     string              `bigquery:"account"`     // REQUIRED
	Category    bigquery.NullString `bigquery:"category"`    // NULLABLE
	Subcategory bigquery.NullString `bigquery:"subcategory"` // NULLABLE
	Description bigquery.NullString `bigquery:"description"` // NULLABLE

	Amount       *big.Rat `bigquery:"amount"`        // REQUIRED NUMERIC, as written to the sheet
	SignedAmount *big.Rat `bigquery:"signed_amount"` // REQUIRED NUMERIC, negative for outflows

	EntryType string `bigquery:"entry_type"` // REQUIRED
	Status    string `bigquery:"status"`     // REQUIRED
	Direction string `bigquery:"direction"`  // REQUIRED

	SheetRow bigquery.NullInt64 `bigquery:"sheet_row"` // NULLABLE, row index at commit time

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

// NewLedgerEntryRow converts a committed entry.
func NewLedgerEntryRow(e domain.LedgerEntry, now time.Time) *LedgerEntryRow {
	return &LedgerEntryRow{
		EntryID:      e.ID,
		GroupID:      e.GroupID,
		GroupSize:    int64(e.GroupSize),
		EntryDate:    civil.DateOf(e.Date),
		Account:      e.Account,
		Category:     nullString(e.Category),
		Subcategory:  nullString(e.Subcategory),
		Description:  nullString(e.Description),
		Amount:       e.Amount.Rat(),
		SignedAmount: e.SignedAmount().Rat(),
		EntryType:    string(e.Type),
		Status:       string(e.Status),
		Direction:    string(e.Flow),
		SheetRow:     bigquery.NullInt64{Int64: int64(e.RowIndex), Valid: e.RowIndex > 0},
		CreatedTS:    now.UTC(),
	}
}
