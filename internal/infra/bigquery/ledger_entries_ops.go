package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

const (
	ledgerEntriesTable = "ledger_entries"
	dateFormat         = "2006-01-02"
)

// InsertLedgerEntriesWithClient streams rows into <dataset>.ledger_entries.
func InsertLedgerEntriesWithClient(ctx context.Context, client *bigquery.Client, dataset string, rows []*LedgerEntryRow) error {
	if len(rows) == 0 {
		return nil
	}

	inserter := client.Dataset(dataset).Table(ledgerEntriesTable).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("InsertLedgerEntries: inserting rows: %w", err)
	}
	return nil
}

// QueryLedgerEntriesByDateRangeWithClient reads mirrored entries dated within
// [startDate, endDate].
func QueryLedgerEntriesByDateRangeWithClient(ctx context.Context, client *bigquery.Client, dataset string, startDate, endDate time.Time) ([]*LedgerEntryRow, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT
			entry_id, group_id, group_size, entry_date,
			account, category, subcategory, description,
			amount, signed_amount, entry_type, status, direction,
			sheet_row, created_ts
		FROM %s.%s
		WHERE entry_date >= @start_date
		  AND entry_date <= @end_date
		ORDER BY entry_date, created_ts
	`, dataset, ledgerEntriesTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "start_date", Value: startDate.Format(dateFormat)},
		{Name: "end_date", Value: endDate.Format(dateFormat)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryLedgerEntriesByDateRange: query read: %w", err)
	}

	var rows []*LedgerEntryRow
	for {
		var r LedgerEntryRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryLedgerEntriesByDateRange: iter next: %w", err)
		}
		rows = append(rows, &r)
	}
	return rows, nil
}
