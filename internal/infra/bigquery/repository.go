package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/sheet-ledger/internal/domain"
	"github.com/dvloznov/sheet-ledger/internal/parser"
)

// BigQueryLedgerRepository mirrors committed entries and parser outputs into
// one dataset. It holds a shared BigQuery client to avoid creating a new
// connection for each operation.
type BigQueryLedgerRepository struct {
	client  *bigquery.Client
	dataset string
	now     func() time.Time
}

// NewBigQueryLedgerRepository creates a repository writing to projectID.dataset.
func NewBigQueryLedgerRepository(ctx context.Context, projectID, dataset string) (*BigQueryLedgerRepository, error) {
	if dataset == "" {
		dataset = "finance"
	}
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryLedgerRepository: creating client: %w", err)
	}
	return &BigQueryLedgerRepository{client: client, dataset: dataset, now: time.Now}, nil
}

// Close closes the BigQuery client connection.
func (r *BigQueryLedgerRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Record implements ledger.EntrySink.
func (r *BigQueryLedgerRepository) Record(ctx context.Context, entries []domain.LedgerEntry) error {
	return InsertLedgerEntriesWithClient(ctx, r.client, r.dataset, LedgerEntryRows(entries, r.now()))
}

// RecordModelOutput implements parser.OutputRecorder.
func (r *BigQueryLedgerRepository) RecordModelOutput(ctx context.Context, out parser.ModelOutput) error {
	return InsertModelOutputWithClient(ctx, r.client, r.dataset, NewModelOutputRow(out))
}

// QueryLedgerEntriesByDateRange delegates to QueryLedgerEntriesByDateRangeWithClient with the shared client.
func (r *BigQueryLedgerRepository) QueryLedgerEntriesByDateRange(ctx context.Context, startDate, endDate time.Time) ([]*LedgerEntryRow, error) {
	return QueryLedgerEntriesByDateRangeWithClient(ctx, r.client, r.dataset, startDate, endDate)
}

// LedgerEntryRows converts a committed batch.
func LedgerEntryRows(entries []domain.LedgerEntry, now time.Time) []*LedgerEntryRow {
	rows := make([]*LedgerEntryRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, NewLedgerEntryRow(e, now))
	}
	return rows
}

// NewModelOutputRow converts a parser output.
func NewModelOutputRow(out parser.ModelOutput) *ModelOutputRow {
	row := &ModelOutputRow{
		OutputID:  out.ID,
		ModelName: out.Model,
		InputText: nullString(out.Input),
		RawText:   nullString(out.Raw),
		Succeeded: out.Err == nil,
		CreatedTS: bigquery.NullTimestamp{Timestamp: out.CreatedAt, Valid: !out.CreatedAt.IsZero()},
	}
	if out.Err != nil {
		row.Error = nullString(out.Err.Error())
	}
	return row
}
