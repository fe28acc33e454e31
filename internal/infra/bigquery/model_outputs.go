package bigquery

import "cloud.google.com/go/bigquery"

// ModelOutputRow is one raw AI parser response kept for audit in
// <dataset>.model_outputs.
type ModelOutputRow struct {
	OutputID  string `bigquery:"output_id"`  // REQUIRED
	ModelName string `bigquery:"model_name"` // REQUIRED

	InputText bigquery.NullString `bigquery:"input_text"` // NULLABLE
	RawText   bigquery.NullString `bigquery:"raw_text"`   // NULLABLE, model reply before cleanup
	Succeeded bool                `bigquery:"succeeded"`  // REQUIRED
	Error     bigquery.NullString `bigquery:"error"`      // NULLABLE

	CreatedTS bigquery.NullTimestamp `bigquery:"created_ts"` // REQUIRED
}
