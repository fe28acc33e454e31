// Package store defines the row storage the ledger is persisted in and
// the retry policy applied at its boundary.
package store

import (
	"context"
	"errors"

	"github.com/dvloznov/sheet-ledger/internal/domain"
)

// Row is one sheet row as a list of cell values.
type Row []string

// FirstDataRow is the sheet index of the first row after the header.
const FirstDataRow = 2

// Store is append-only, indexable row storage. Indexes are 1-based sheet
// row numbers; ListAll returns every row including the header, so the row
// at position p has index p+1.
//
// Implementations classify failures by wrapping domain.ErrRateLimited or
// domain.ErrStoreUnavailable.
type Store interface {
	// Append adds row at the end of sheet.
	Append(ctx context.Context, sheet string, row Row) (domain.RowRef, error)

	// ListAll reads every row of sheet.
	ListAll(ctx context.Context, sheet string) ([]Row, error)

	// UpdateByIndex overwrites the row at index.
	UpdateByIndex(ctx context.Context, sheet string, index int, row Row) error

	// DeleteByIndex removes the row at index, shifting later rows up.
	DeleteByIndex(ctx context.Context, sheet string, index int) error
}

// ErrorClass tells the caller how to react to a store error.
type ErrorClass int

const (
	// Fatal errors are surfaced to the caller.
	Fatal ErrorClass = iota
	// RateLimited errors are retried after a backoff.
	RateLimited
)

func (c ErrorClass) String() string {
	if c == RateLimited {
		return "RateLimited"
	}
	return "Fatal"
}

// Classify returns the class of err.
func Classify(err error) ErrorClass {
	if errors.Is(err, domain.ErrRateLimited) {
		return RateLimited
	}
	return Fatal
}

// Cell returns row[i] or "" when the row is shorter.
func Cell(row Row, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}
