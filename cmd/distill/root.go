package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hyperengineering/distill/internal/api"
	"github.com/hyperengineering/distill/internal/archive"
	"github.com/hyperengineering/distill/internal/config"
	"github.com/hyperengineering/distill/internal/embedding"
	"github.com/hyperengineering/distill/internal/extract"
	"github.com/hyperengineering/distill/internal/jobstatus"
	"github.com/hyperengineering/distill/internal/llm"
	"github.com/hyperengineering/distill/internal/pipeline"
	"github.com/hyperengineering/distill/internal/store"
	"github.com/hyperengineering/distill/internal/worker"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "distill",
	Short: "Distill - document ingestion and fact extraction service",
	Long: "Distill turns documents into atomic facts, embeds them and stores them " +
		"in a knowledge base. Running without a subcommand starts the HTTP server.",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(itemsCmd)
	rootCmd.AddCommand(versionCmd)
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 3. Initialize logger
	logger, closeLog := config.SetupLogger(cfg.Log)
	defer closeLog()
	slog.SetDefault(logger)
	slog.Info("configuration loaded")
	slog.Info("logger initialized", "level", cfg.Log.Level, "format", cfg.Log.Format)

	// 4. Initialize store (migrations, WAL mode)
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	// 5. Initialize embedding providers
	embedders, err := newEmbedderRegistry(cfg.Embedding)
	if err != nil {
		db.Close()
		return err
	}
	slog.Info("embedders initialized", "providers", embedders.Providers())

	// 6. Initialize fact extraction model
	model, err := llm.NewModel(cfg.LLM)
	if err != nil {
		db.Close()
		return err
	}
	extractor := extract.NewExtractor(model, extract.WithLogger(logger))
	slog.Info("extractor initialized", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)

	// 7. Initialize job status store and pipeline
	jobs := jobstatus.NewStore(
		jobstatus.WithTTL(time.Duration(cfg.Jobs.TTL)),
		jobstatus.WithLogger(logger),
	)

	archiver, err := archive.New(cfg.Archive)
	if err != nil {
		jobs.Close()
		db.Close()
		return err
	}

	pipe, err := pipeline.New(jobs, extractor, embedders, db,
		pipeline.WithLogger(logger),
		pipeline.WithChunking(cfg.Pipeline.WindowSize, cfg.Pipeline.Overlap),
		pipeline.WithTimeouts(time.Duration(cfg.Pipeline.ExtractTimeout), time.Duration(cfg.Pipeline.EmbedTimeout)),
		pipeline.WithEmbedConcurrency(cfg.Pipeline.EmbedConcurrency),
		pipeline.WithArchiver(archiver),
	)
	if err != nil {
		jobs.Close()
		db.Close()
		return err
	}
	slog.Info("pipeline initialized",
		"window_size", cfg.Pipeline.WindowSize,
		"overlap", cfg.Pipeline.Overlap,
		"embed_concurrency", cfg.Pipeline.EmbedConcurrency,
		"archive", cfg.Archive.Bucket != "",
	)

	// 8. Initialize HTTP router
	handler := api.NewHandler(pipe, jobs, db, api.Config{
		Auth:               cfg.Auth,
		Version:            Version,
		MaxUploadBytes:     cfg.Server.MaxUploadBytes,
		EmbeddingProviders: embedders.Providers(),
	})
	router := api.NewRouter(handler)
	slog.Info("router initialized")

	// 9. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 10. Start workers
	var wg sync.WaitGroup
	retryWorker := worker.NewFactRetryWorker(db, embedders,
		time.Duration(cfg.Worker.RetryInterval),
		cfg.Worker.RetryMaxAttempts,
		cfg.Worker.RetryBatchSize,
	)
	startWorker(ctx, &wg, "fact-retry", retryWorker.Run)

	// 11. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 12. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 13. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 13a. Stop HTTP server (drains in-flight ingestions)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 13b. Wait for workers to complete
	wg.Wait()

	// 13c. Release pipeline pool and job timers
	pipe.Release()
	jobs.Close()

	// 13d. Close store
	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// newEmbedderRegistry registers the OpenAI provider when an API key is set
// and the local provider when a host is configured.
func newEmbedderRegistry(cfg config.EmbeddingConfig) (*embedding.Registry, error) {
	reg := embedding.NewRegistry()

	if cfg.APIKey != "" {
		reg.Register(embedding.ProviderOpenAI, embedding.NewOpenAI(embedding.OpenAIConfig{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		}))
	}

	if cfg.LocalHost != "" {
		local, err := embedding.NewLocal(cfg.LocalModel, cfg.LocalHost)
		if err != nil {
			return nil, fmt.Errorf("local embedder: %w", err)
		}
		reg.Register(embedding.ProviderLocal, local)
	}

	return reg, nil
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
