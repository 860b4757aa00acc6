// Corpusd is an access-controlled semantic retrieval daemon for coaching
// organizations.
//
// It ingests session transcripts, assessments, and organization documents,
// chunks and embeds them, and serves similarity search behind per-identity
// authorization. The HTTP API is the primary surface; `corpusd mcp` exposes
// the same operations as MCP tools over stdio.
//
// Configuration is read from an optional YAML file plus CORPUSD_* environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start the HTTP server with defaults
//	corpusd
//
//	# With a config file
//	corpusd -config /etc/corpusd/config.yaml
//
//	# Serve MCP tools on stdio instead of HTTP
//	corpusd mcp
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/access"
	"github.com/fyrsmithlabs/corpusd/internal/auth"
	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/config"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/httpapi"
	"github.com/fyrsmithlabs/corpusd/internal/ingest"
	"github.com/fyrsmithlabs/corpusd/internal/logging"
	"github.com/fyrsmithlabs/corpusd/internal/mcpserver"
	"github.com/fyrsmithlabs/corpusd/internal/retrieval"
	"github.com/fyrsmithlabs/corpusd/internal/store"
	"github.com/fyrsmithlabs/corpusd/internal/store/memory"
	"github.com/fyrsmithlabs/corpusd/internal/store/sqlite"
	"github.com/fyrsmithlabs/corpusd/internal/telemetry"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	mode := "serve"
	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		case "serve", "mcp":
			mode = args[0]
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  corpusd [serve]    Start the HTTP server\n")
			fmt.Fprintf(os.Stderr, "  corpusd mcp        Serve MCP tools on stdio\n")
			fmt.Fprintf(os.Stderr, "  corpusd version    Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, mode); err != nil {
		log.Fatalf("corpusd: %v", err)
	}
}

func printVersion() {
	fmt.Printf("corpusd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires all dependencies and blocks until the context is cancelled.
func run(ctx context.Context, configPath, mode string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("corpusd starting",
		zap.String("version", version),
		zap.String("mode", mode),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("embeddings_provider", cfg.Embeddings.Provider),
	)

	tel, err := telemetry.New(ctx, cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	// Stores.
	var (
		items     store.ContentStore
		creds     store.CredentialStore
		directory store.DirectoryStore
	)
	switch cfg.Store.Backend {
	case "sqlite":
		db, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return fmt.Errorf("opening sqlite store: %w", err)
		}
		defer func() { _ = db.Close() }()
		items = db.ContentStore()
		creds = db.CredentialStore()
		directory = db.DirectoryStore()
	default:
		items = memory.NewContentStore()
		creds = memory.NewCredentialStore()
		directory = memory.NewDirectoryStore()
	}

	index, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{
		Path:       cfg.Index.Path,
		Compress:   cfg.Index.Compress,
		VectorSize: cfg.Index.VectorSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("opening vector index: %w", err)
	}

	provider, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider:          cfg.Embeddings.Provider,
		BaseURL:           cfg.Embeddings.BaseURL,
		Model:             cfg.Embeddings.Model,
		APIKey:            cfg.Embeddings.APIKey.Value(),
		Dimension:         cfg.Embeddings.Dimension,
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
	})
	if err != nil {
		return fmt.Errorf("creating embedding provider: %w", err)
	}
	defer func() { _ = provider.Close() }()
	retriable := embeddings.WithRetry(provider, embeddings.RetryPolicy{
		MaxAttempts: cfg.Embeddings.MaxRetries,
	}, logger)

	resolver := access.NewResolver(directory)
	verifier := auth.NewVerifier(creds, directory, logger)

	ingestSvc, err := ingest.NewService(&ingest.Config{
		EmbedConcurrency: cfg.Ingest.EmbedConcurrency,
		RollbackTimeout:  cfg.Ingest.RollbackTimeout.Duration(),
	}, items, index, retriable, chunker.New(
		chunker.WithWindowSize(cfg.Ingest.WindowSize),
		chunker.WithOverlap(cfg.Ingest.Overlap),
	), resolver, logger)
	if err != nil {
		return fmt.Errorf("creating ingest service: %w", err)
	}

	retrievalSvc, err := retrieval.NewService(items, index, resolver, logger)
	if err != nil {
		return fmt.Errorf("creating retrieval service: %w", err)
	}

	if mode == "mcp" {
		srv, err := mcpserver.NewServer(&mcpserver.Config{
			Name:    "corpusd",
			Version: version,
		}, verifier, ingestSvc, retrievalSvc, retriable, logger)
		if err != nil {
			return fmt.Errorf("creating mcp server: %w", err)
		}
		return srv.Run(ctx)
	}

	srv, err := httpapi.NewServer(&httpapi.Config{
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
	}, verifier, ingestSvc, retrievalSvc, retriable, directory, logger)
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
