// Package sheets stores ledger rows in a Google Sheets spreadsheet.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/dvloznov/sheet-ledger/internal/domain"
	"github.com/dvloznov/sheet-ledger/internal/store"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

const (
	valueInputOption = "USER_ENTERED"
	insertDataOption = "INSERT_ROWS"
)

// Credentials selects how the service account is loaded. JSON wins over File.
type Credentials struct {
	JSON []byte
	File string
}

func (c Credentials) options() []option.ClientOption {
	opts := []option.ClientOption{option.WithScopes(sheetsapi.SpreadsheetsScope)}
	switch {
	case len(c.JSON) > 0:
		opts = append(opts, option.WithCredentialsJSON(c.JSON))
	case c.File != "":
		opts = append(opts, option.WithCredentialsFile(c.File))
	}
	return opts
}

// SheetsStore is a store.Store backed by one spreadsheet. Each tab is a sheet.
type SheetsStore struct {
	svc           *sheetsapi.Service
	spreadsheetID string

	mu       sync.Mutex
	sheetIDs map[string]int64
}

// NewSheetsStore creates a store for spreadsheetID. Without credentials
// Application Default Credentials are used.
func NewSheetsStore(ctx context.Context, spreadsheetID string, creds Credentials) (*SheetsStore, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("NewSheetsStore: spreadsheet id is empty")
	}
	svc, err := sheetsapi.NewService(ctx, creds.options()...)
	if err != nil {
		return nil, fmt.Errorf("NewSheetsStore: creating sheets service: %w", err)
	}
	return NewSheetsStoreWithService(svc, spreadsheetID), nil
}

// NewSheetsStoreWithService creates a store using the provided service.
func NewSheetsStoreWithService(svc *sheetsapi.Service, spreadsheetID string) *SheetsStore {
	return &SheetsStore{svc: svc, spreadsheetID: spreadsheetID, sheetIDs: make(map[string]int64)}
}

// classify maps API failures onto the store error sentinels.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusTooManyRequests || hasReason(gerr, "rateLimitExceeded", "RESOURCE_EXHAUSTED") {
			return fmt.Errorf("%s: %w: %w", op, domain.ErrRateLimited, err)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

func hasReason(gerr *googleapi.Error, reasons ...string) bool {
	for _, item := range gerr.Errors {
		for _, r := range reasons {
			if strings.EqualFold(item.Reason, r) {
				return true
			}
		}
	}
	return strings.Contains(gerr.Message, "RESOURCE_EXHAUSTED")
}

// quoteSheet renders a tab name for A1 notation.
func quoteSheet(sheet string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
}

func rowRange(sheet string, index int) string {
	return fmt.Sprintf("%s!A%d", quoteSheet(sheet), index)
}

// rowFromRange extracts the first row number of an A1 range such as
// "'Transactions'!A12:K12".
func rowFromRange(a1 string) (int, error) {
	cells := a1
	if i := strings.LastIndex(a1, "!"); i >= 0 {
		cells = a1[i+1:]
	}
	if i := strings.Index(cells, ":"); i >= 0 {
		cells = cells[:i]
	}
	digits := strings.TrimLeftFunc(cells, func(r rune) bool {
		return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || r == '$'
	})
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("no row number in range %q", a1)
	}
	return n, nil
}

func toValues(row store.Row) [][]interface{} {
	cells := make([]interface{}, len(row))
	for i, c := range row {
		cells[i] = c
	}
	return [][]interface{}{cells}
}

func fromValues(values [][]interface{}) []store.Row {
	rows := make([]store.Row, len(values))
	for i, v := range values {
		row := make(store.Row, len(v))
		for j, c := range v {
			if c != nil {
				row[j] = fmt.Sprint(c)
			}
		}
		rows[i] = row
	}
	return rows
}
