package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

const modelOutputsTable = "model_outputs"

// InsertModelOutputWithClient inserts a single ModelOutputRow into
// <dataset>.model_outputs. Uses DML INSERT to avoid streaming buffer issues.
func InsertModelOutputWithClient(ctx context.Context, client *bigquery.Client, dataset string, row *ModelOutputRow) error {
	q := client.Query(fmt.Sprintf(`
		INSERT INTO %s.%s (
			output_id, model_name, input_text,
			raw_text, succeeded, error, created_ts
		)
		VALUES (
			@output_id, @model_name, @input_text,
			@raw_text, @succeeded, @error, @created_ts
		)
	`, dataset, modelOutputsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "output_id", Value: row.OutputID},
		{Name: "model_name", Value: row.ModelName},
		{Name: "input_text", Value: row.InputText},
		{Name: "raw_text", Value: row.RawText},
		{Name: "succeeded", Value: row.Succeeded},
		{Name: "error", Value: row.Error},
		{Name: "created_ts", Value: row.CreatedTS},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("InsertModelOutput: running insert query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("InsertModelOutput: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("InsertModelOutput: job error: %w", err)
	}
	return nil
}
