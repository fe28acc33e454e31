package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/sheet-ledger/internal/api/handlers"
	"github.com/dvloznov/sheet-ledger/internal/api/middleware"
	"github.com/dvloznov/sheet-ledger/internal/app"
	"github.com/dvloznov/sheet-ledger/internal/config"
	"github.com/dvloznov/sheet-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/sheet-ledger/internal/logger"
	"github.com/dvloznov/sheet-ledger/internal/pipeline"
	"github.com/dvloznov/sheet-ledger/internal/schema"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Parse command-line flags
	port := flag.String("port", cfg.Port, "HTTP server port (or set PORT env)")
	ensureHeaders := flag.Bool("ensure-headers", false, "write missing header rows before serving")
	flag.Parse()

	// Initialize logger
	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogFormat == "json"})
	logger.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	cfg.LogSummary(log)

	ctx := logger.WithContext(context.Background(), log)

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize ledger")
	}
	defer a.Close()

	if *ensureHeaders {
		conflicts, err := a.EnsureLayout(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to write sheet headers")
		}
		for _, p := range conflicts {
			log.Warn().Str("problem", p.String()).Msg("Header conflict left alone")
		}
	}
	problems, err := schema.VerifyLayout(ctx, a.Store, cfg.Tabs)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read spreadsheet layout, run with -ensure-headers")
	}
	for _, p := range problems {
		log.Warn().Str("problem", p.String()).Msg("Spreadsheet layout mismatch")
	}

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	deps := handlers.Deps{Ledger: a.Engine, JobStore: jobStore}
	if a.Receipts != nil {
		deps.Receipts = a.Receipts
	}

	if a.Parser != nil {
		var receipts pipeline.ReceiptFetcher
		if a.Receipts != nil {
			receipts = a.Receipts
		}
		jobHandler := pipeline.JobHandler(pipeline.NewMessagePipeline(receipts, a.Parser, a.Engine))

		log.Info().Msg("Starting job worker")
		if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
			log.Fatal().Err(err).Msg("Failed to start job worker")
		}
		deps.Publisher = jobQueue
	} else {
		log.Warn().Msg("No parser configured - POST /api/messages is disabled")
	}

	handler := middleware.Chain(handlers.NewRouter(deps), log, middleware.Options{Token: cfg.APIToken, Origins: cfg.CORSOrigins})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
