package main

import (
	"context"
	"flag"

	infraBQ "github.com/dvloznov/sheet-ledger/internal/infra/bigquery"
	"github.com/dvloznov/sheet-ledger/internal/config"
	"github.com/dvloznov/sheet-ledger/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	projectID := flag.String("project", cfg.BQProject, "GCP project ID (or set BQ_PROJECT)")
	datasetID := flag.String("dataset", cfg.BQDataset, "BigQuery dataset ID (or set BQ_DATASET)")
	appliedBy := flag.String("applied-by", "migrate-cli", "name recorded with each applied migration")
	dryRun := flag.Bool("dry-run", false, "list the bundled migrations without connecting")
	flag.Parse()

	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogFormat == "json"})
	ctx := logger.WithContext(context.Background(), log)

	if *dryRun {
		ms, err := infraBQ.Migrations(*projectID, *datasetID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read migrations")
		}
		for _, m := range ms {
			log.Info().Int("version", m.Version).Str("name", m.Name).Str("checksum", m.Checksum[:12]).Msg("Bundled migration")
		}
		return
	}

	if *projectID == "" {
		log.Fatal().Msg("-project or BQ_PROJECT is required")
	}

	repo, err := infraBQ.NewBigQueryLedgerRepository(ctx, *projectID, *datasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer repo.Close()

	log.Info().Str("project", *projectID).Str("dataset", *datasetID).Msg("Connected to BigQuery")

	n, err := repo.Migrate(ctx, *projectID, *appliedBy)
	if err != nil {
		log.Fatal().Err(err).Int("applied", n).Msg("Migration failed")
	}
	if n == 0 {
		log.Info().Msg("No new migrations to apply, warehouse is up to date")
		return
	}
	log.Info().Int("applied", n).Msg("Migrations applied")
}
