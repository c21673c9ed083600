package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kozaktomas/face-matcher/internal/config"
	"github.com/kozaktomas/face-matcher/internal/constants"
	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/database/memory"
	"github.com/kozaktomas/face-matcher/internal/web"
	"github.com/kozaktomas/face-matcher/internal/web/handlers"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the Face Matcher HTTP API.

The match strategy comes from MATCH_STRATEGY (scan, pgvector or hnsw) unless
--strategy is given. With --store memory identities live only in this process,
which is useful for demos and load tests; pgvector requires --store postgres.

Examples:
  # PostgreSQL with the in-process HNSW index persisted across restarts
  HNSW_INDEX_PATH=/var/lib/face-matcher/faces.hnsw face-matcher serve --strategy hnsw

  # Throwaway in-memory store
  face-matcher serve --store memory --strategy scan --port 9000`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (defaults to WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (defaults to WEB_HOST)")
	serveCmd.Flags().String("store", "postgres", "Identity store: postgres or memory")
	serveCmd.Flags().String("strategy", "", "Match strategy: scan, pgvector or hnsw (defaults to MATCH_STRATEGY)")
}

// resolveServeOptions applies command-line overrides on top of the loaded config.
func resolveServeOptions(cmd *cobra.Command, cfg *config.Config) (database.Strategy, error) {
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}
	if strategy := mustGetString(cmd, "strategy"); strategy != "" {
		cfg.Match.Strategy = strategy
	}
	return configuredStrategy(cfg)
}

// openServeStore creates the store selected by --store.
func openServeStore(ctx context.Context, cmd *cobra.Command, cfg *config.Config, strategy database.Strategy) (database.EmbeddingStore, handlers.Pinger, func(), error) {
	switch kind := mustGetString(cmd, "store"); kind {
	case "memory":
		store, err := memory.New(strategy, hnswParams(cfg))
		if err != nil {
			return nil, nil, nil, err
		}
		fmt.Printf("Using in-memory store (identities are lost on exit)\n")
		return store, nil, func() {}, nil
	case "postgres":
		pool, store, err := openPostgresStore(ctx, cfg, strategy)
		if err != nil {
			return nil, nil, nil, err
		}
		fmt.Printf("Using PostgreSQL backend\n")
		return store, pool, func() { pool.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown store %q (use postgres or memory)", kind)
	}
}

// persistIndex saves the in-process index if the store has one and a path is configured.
func persistIndex(ctx context.Context, store database.EmbeddingStore) {
	rebuilder, ok := store.(database.IndexRebuilder)
	if !ok {
		return
	}
	if err := rebuilder.SaveIndex(ctx); err != nil {
		fmt.Printf("Warning: failed to save face HNSW index: %v\n", err)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	strategy, err := resolveServeOptions(cmd, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, pinger, closeStore, err := openServeStore(ctx, cmd, cfg, strategy)
	if err != nil {
		return err
	}
	defer closeStore()

	engine, err := newEngine(cfg, store)
	if err != nil {
		return err
	}
	extractor := newExtractor(cfg)
	if err := extractor.Health(ctx); err != nil {
		fmt.Printf("Warning: embedding service at %s is not reachable: %v\n", cfg.Embedding.URL, err)
		fmt.Printf("Image endpoints will fail until it is up; raw embedding endpoints still work\n")
	}

	server, err := web.NewServer(cfg, web.Deps{
		Store:     store,
		Engine:    engine,
		Flow:      newFlow(cfg, store, extractor),
		Extractor: extractor,
		Pinger:    pinger,
	})
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
		persistIndex(shutdownCtx, store)
	}()

	fmt.Printf("Starting Face Matcher API on http://%s (strategy %s, threshold %.2f)\n",
		cfg.Web.Addr(), strategy, cfg.Match.Threshold)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	<-shutdownDone
	return nil
}
