// Package app wires the ledger engine to its configured collaborators.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dvloznov/sheet-ledger/internal/config"
	"github.com/dvloznov/sheet-ledger/internal/fx"
	"github.com/dvloznov/sheet-ledger/internal/gcsuploader"
	infraBQ "github.com/dvloznov/sheet-ledger/internal/infra/bigquery"
	"github.com/dvloznov/sheet-ledger/internal/infra/sheets"
	"github.com/dvloznov/sheet-ledger/internal/intent"
	"github.com/dvloznov/sheet-ledger/internal/ledger"
	"github.com/dvloznov/sheet-ledger/internal/logger"
	"github.com/dvloznov/sheet-ledger/internal/parser"
	"github.com/dvloznov/sheet-ledger/internal/schema"
	"github.com/dvloznov/sheet-ledger/internal/store"
)

// App holds the long-lived clients of one process.
type App struct {
	Config *config.Config
	Sheets *sheets.SheetsStore
	Store  store.Store
	Engine *ledger.Engine

	// Optional collaborators; nil when not configured.
	Parser    *parser.GeminiParser
	Receipts  *gcsuploader.GCSReceiptArchive
	Warehouse *infraBQ.BigQueryLedgerRepository

	rates   *fx.Provider
	closers []func() error
}

// New connects to the spreadsheet and the optional services named in cfg.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.FromContext(ctx)

	sh, err := sheets.NewSheetsStore(ctx, cfg.SpreadsheetID, sheets.Credentials{
		JSON: []byte(cfg.CredentialsJSON),
		File: cfg.CredentialsFile,
	})
	if err != nil {
		return nil, fmt.Errorf("app.New: %w", err)
	}

	a := &App{
		Config: cfg,
		Sheets: sh,
		Store:  store.NewRetrying(sh, store.RetryConfig{Timeout: cfg.StoreTimeout}),
		rates:  fx.NewProvider(&http.Client{Timeout: 10 * time.Second}, cfg.FallbackUSDToIDR),
	}

	if cfg.BQProject != "" {
		repo, err := infraBQ.NewBigQueryLedgerRepository(ctx, cfg.BQProject, cfg.BQDataset)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("app.New: %w", err)
		}
		a.Warehouse = repo
		a.closers = append(a.closers, repo.Close)
	} else {
		log.Debug().Msg("BQ_PROJECT not set, warehouse mirror disabled")
	}

	if cfg.GCSBucket != "" {
		archive, err := gcsuploader.NewGCSReceiptArchive(ctx, cfg.GCSBucket)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("app.New: %w", err)
		}
		a.Receipts = archive
		a.closers = append(a.closers, archive.Close)
	} else {
		log.Debug().Msg("GCS_BUCKET not set, receipts travel with their job")
	}

	if cfg.GeminiAPIKey != "" {
		p, err := parser.NewGeminiParser(ctx, parser.Config{APIKey: cfg.GeminiAPIKey, Models: cfg.GeminiModels})
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("app.New: %w", err)
		}
		if a.Warehouse != nil {
			p.WithRecorder(a.Warehouse)
		}
		a.Parser = p
	} else {
		log.Warn().Msg("GEMINI_API_KEY not set, AI parsing disabled")
	}

	a.Engine = a.NewEngine(a.Store)
	return a, nil
}

// NewEngine builds an engine over st with the configured rates and sinks.
func (a *App) NewEngine(st store.Store, opts ...ledger.Option) *ledger.Engine {
	var base []ledger.Option
	if a.rates != nil {
		base = append(base, ledger.WithRates(a.rates))
	}
	if a.Warehouse != nil {
		base = append(base, ledger.WithSink(a.Warehouse))
	}
	return ledger.NewEngine(st, ledger.Config{
		Tabs:            a.Config.Tabs,
		ReviewThreshold: a.Config.ReviewThreshold,
		Normalizer: intent.Config{
			DefaultCurrency:    a.Config.DefaultCurrency,
			InvestmentAccounts: a.Config.InvestmentAccounts,
		},
	}, append(base, opts...)...)
}

// Snapshot copies every ledger tab into a memory store, for dry runs.
func (a *App) Snapshot(ctx context.Context) (*store.Memory, error) {
	return SnapshotStore(ctx, a.Store, a.Config.Tabs)
}

// SnapshotStore copies the tabs of src into a new memory store.
func SnapshotStore(ctx context.Context, src store.Store, tabs schema.Tabs) (*store.Memory, error) {
	mem := store.NewMemory()
	for tab := range schema.Headers(tabs) {
		rows, err := src.ListAll(ctx, tab)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", tab, err)
		}
		mem.Seed(tab, rows...)
	}
	return mem, nil
}

// EnsureLayout creates missing tabs and writes missing or legacy headers.
// The returned problems could not be repaired without touching data.
func (a *App) EnsureLayout(ctx context.Context) ([]schema.Problem, error) {
	log := logger.FromContext(ctx)

	existing, err := a.Sheets.Tabs(ctx)
	if err != nil {
		return nil, fmt.Errorf("EnsureLayout: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, t := range existing {
		have[t] = true
	}
	for tab := range schema.Headers(a.Config.Tabs) {
		if have[tab] {
			continue
		}
		if err := a.Sheets.AddTab(ctx, tab); err != nil {
			return nil, fmt.Errorf("EnsureLayout: %w", err)
		}
		log.Info().Str("tab", tab).Msg("Tab created")
	}
	return schema.EnsureHeaders(ctx, a.Store, a.Config.Tabs)
}

// Close releases every client in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
