package sheets

import (
	"context"
	"fmt"

	"github.com/dvloznov/sheet-ledger/internal/domain"
	"github.com/dvloznov/sheet-ledger/internal/logger"
	"github.com/dvloznov/sheet-ledger/internal/store"
	sheetsapi "google.golang.org/api/sheets/v4"
)

// Append implements store.Store.
func (s *SheetsStore) Append(ctx context.Context, sheet string, row store.Row) (domain.RowRef, error) {
	resp, err := s.svc.Spreadsheets.Values.
		Append(s.spreadsheetID, quoteSheet(sheet)+"!A1", &sheetsapi.ValueRange{Values: toValues(row)}).
		ValueInputOption(valueInputOption).
		InsertDataOption(insertDataOption).
		Context(ctx).
		Do()
	if err != nil {
		return domain.RowRef{}, classify("Append "+sheet, err)
	}
	if resp.Updates == nil {
		return domain.RowRef{}, fmt.Errorf("Append %s: response has no updated range: %w", sheet, domain.ErrOutcomeUnknown)
	}

	index, err := rowFromRange(resp.Updates.UpdatedRange)
	if err != nil {
		return domain.RowRef{}, fmt.Errorf("Append %s: %v: %w", sheet, err, domain.ErrOutcomeUnknown)
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("sheet", sheet).
		Int("row", index).
		Msg("Row appended")
	return domain.RowRef{Sheet: sheet, Index: index}, nil
}

// ListAll implements store.Store.
func (s *SheetsStore) ListAll(ctx context.Context, sheet string) ([]store.Row, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, quoteSheet(sheet)).Context(ctx).Do()
	if err != nil {
		return nil, classify("ListAll "+sheet, err)
	}
	return fromValues(resp.Values), nil
}

// UpdateByIndex implements store.Store.
func (s *SheetsStore) UpdateByIndex(ctx context.Context, sheet string, index int, row store.Row) error {
	if index < 1 {
		return fmt.Errorf("UpdateByIndex %s: invalid row %d", sheet, index)
	}
	_, err := s.svc.Spreadsheets.Values.
		Update(s.spreadsheetID, rowRange(sheet, index), &sheetsapi.ValueRange{Values: toValues(row)}).
		ValueInputOption(valueInputOption).
		Context(ctx).
		Do()
	if err != nil {
		return classify("UpdateByIndex "+sheet, err)
	}
	return nil
}

// DeleteByIndex implements store.Store.
func (s *SheetsStore) DeleteByIndex(ctx context.Context, sheet string, index int) error {
	if index < 1 {
		return fmt.Errorf("DeleteByIndex %s: invalid row %d", sheet, index)
	}
	sheetID, err := s.sheetID(ctx, sheet)
	if err != nil {
		return err
	}

	req := &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{DeleteDimension: &sheetsapi.DeleteDimensionRequest{Range: deleteRange(sheetID, index)}}},
	}
	if _, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return classify("DeleteByIndex "+sheet, err)
	}
	return nil
}

// deleteRange selects one row. Zero ids and offsets are valid, so they are
// forced into the request body.
func deleteRange(sheetID int64, index int) *sheetsapi.DimensionRange {
	return &sheetsapi.DimensionRange{
		SheetId:         sheetID,
		Dimension:       "ROWS",
		StartIndex:      int64(index - 1),
		EndIndex:        int64(index),
		ForceSendFields: []string{"SheetId", "StartIndex"},
	}
}

// sheetID resolves the numeric id of a tab, caching the result.
func (s *SheetsStore) sheetID(ctx context.Context, sheet string) (int64, error) {
	s.mu.Lock()
	id, ok := s.sheetIDs[sheet]
	s.mu.Unlock()
	if ok {
		return id, nil
	}

	titles, err := s.loadSheets(ctx)
	if err != nil {
		return 0, err
	}
	id, ok = titles[sheet]
	if !ok {
		return 0, fmt.Errorf("sheet %q not found in spreadsheet: %w", sheet, domain.ErrStoreUnavailable)
	}
	return id, nil
}

func (s *SheetsStore) loadSheets(ctx context.Context) (map[string]int64, error) {
	resp, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Fields("properties.title", "sheets.properties").Context(ctx).Do()
	if err != nil {
		return nil, classify("loading sheet ids", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sh := range resp.Sheets {
		if sh.Properties != nil {
			s.sheetIDs[sh.Properties.Title] = sh.Properties.SheetId
		}
	}
	out := make(map[string]int64, len(s.sheetIDs))
	for k, v := range s.sheetIDs {
		out[k] = v
	}
	return out, nil
}

// Tabs lists the tab titles of the spreadsheet.
func (s *SheetsStore) Tabs(ctx context.Context) ([]string, error) {
	ids, err := s.loadSheets(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for title := range ids {
		out = append(out, title)
	}
	return out, nil
}

// Title returns the spreadsheet title.
func (s *SheetsStore) Title(ctx context.Context) (string, error) {
	resp, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Fields("properties.title").Context(ctx).Do()
	if err != nil {
		return "", classify("Title", err)
	}
	if resp.Properties == nil {
		return "", nil
	}
	return resp.Properties.Title, nil
}

// AddTab creates an empty tab.
func (s *SheetsStore) AddTab(ctx context.Context, title string) error {
	req := &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{AddSheet: &sheetsapi.AddSheetRequest{Properties: &sheetsapi.SheetProperties{Title: title}}}},
	}
	resp, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return classify("AddTab "+title, err)
	}
	if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil && resp.Replies[0].AddSheet.Properties != nil {
		s.mu.Lock()
		s.sheetIDs[title] = resp.Replies[0].AddSheet.Properties.SheetId
		s.mu.Unlock()
	}
	return nil
}

var _ store.Store = (*SheetsStore)(nil)
