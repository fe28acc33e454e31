// Package commands implements the ledger command line.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dvloznov/sheet-ledger/internal/app"
	"github.com/dvloznov/sheet-ledger/internal/config"
	"github.com/dvloznov/sheet-ledger/internal/gcs"
	"github.com/dvloznov/sheet-ledger/internal/ledger"
	"github.com/dvloznov/sheet-ledger/internal/logger"
	"github.com/dvloznov/sheet-ledger/internal/pipeline"
	"github.com/dvloznov/sheet-ledger/internal/schema"
	"github.com/dvloznov/sheet-ledger/internal/store"
)

// Env is what a command runs against.
type Env struct {
	Config *config.Config
	Engine *ledger.Engine
	// Parser is nil when no model is configured.
	Parser pipeline.MessageParser
	// Receipts is nil when no bucket is configured.
	Receipts gcs.ReceiptArchive

	// NewEngine builds an engine over another store, for dry runs.
	NewEngine func(st store.Store) *ledger.Engine
	Snapshot  func(ctx context.Context) (*store.Memory, error)
	// Layout verifies the sheet layout, repairing what it can when fix is set.
	Layout func(ctx context.Context, fix bool) ([]schema.Problem, error)
	Close  func() error
}

// Loader builds an Env from configuration.
type Loader func(ctx context.Context, cfg *config.Config) (*Env, error)

// AppLoader connects to the configured spreadsheet and services.
func AppLoader(ctx context.Context, cfg *config.Config) (*Env, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	env := &Env{
		Config:    cfg,
		Engine:    a.Engine,
		NewEngine: func(st store.Store) *ledger.Engine { return a.NewEngine(st) },
		Snapshot:  a.Snapshot,
		Layout: func(ctx context.Context, fix bool) ([]schema.Problem, error) {
			if fix {
				return a.EnsureLayout(ctx)
			}
			return schema.VerifyLayout(ctx, a.Store, cfg.Tabs)
		},
		Close: a.Close,
	}
	if a.Parser != nil {
		env.Parser = a.Parser
	}
	if a.Receipts != nil {
		env.Receipts = a.Receipts
	}
	return env, nil
}

type runner struct {
	load     Loader
	logLevel string
	jsonOut  bool
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand(load Loader) *cobra.Command {
	r := &runner{load: load}

	rootCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Spreadsheet ledger for expenses, transfers and stock trades",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&r.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVar(&r.jsonOut, "json", false, "print results as JSON")

	rootCmd.AddCommand(
		r.newSubmitCommand(),
		r.newParseCommand(),
		r.newPortfolioCommand(),
		r.newBudgetCommand(),
		r.newReconcileCommand(),
		r.newVerifyCommand(),
		r.newDeleteCommand(),
		r.newEditCommand(),
		r.newReceiptCommand(),
	)

	return rootCmd
}

// with loads configuration and the environment, then runs fn.
func (r *runner) with(cmd *cobra.Command, fn func(ctx context.Context, env *Env) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if r.logLevel != "" {
		cfg.LogLevel = r.logLevel
	}

	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogFormat == "json", Writer: os.Stderr})
	logger.SetDefault(log)
	ctx := logger.WithContext(cmd.Context(), log)

	env, err := r.load(ctx, cfg)
	if err != nil {
		return err
	}
	if env.Close != nil {
		defer env.Close()
	}
	return fn(ctx, env)
}
