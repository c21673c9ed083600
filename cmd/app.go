package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/kozaktomas/face-matcher/internal/config"
	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/database/postgres"
	"github.com/kozaktomas/face-matcher/internal/embedder"
	"github.com/kozaktomas/face-matcher/internal/facematch"
	"github.com/kozaktomas/face-matcher/internal/registration"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// mustGetFlag reads a flag defined in init() or panics; a missing flag is a programming bug.
func mustGetFlag[T any](name string, get func(string) (T, error)) T {
	val, err := get(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

func mustGetBool(cmd *cobra.Command, name string) bool {
	return mustGetFlag(name, cmd.Flags().GetBool)
}

func mustGetInt(cmd *cobra.Command, name string) int {
	return mustGetFlag(name, cmd.Flags().GetInt)
}

func mustGetString(cmd *cobra.Command, name string) string {
	return mustGetFlag(name, cmd.Flags().GetString)
}

func mustGetFloat64(cmd *cobra.Command, name string) float64 {
	return mustGetFlag(name, cmd.Flags().GetFloat64)
}

func mustGetUint64(cmd *cobra.Command, name string) uint64 {
	return mustGetFlag(name, cmd.Flags().GetUint64)
}

// loadConfig loads and validates configuration from the environment.
func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newProgressBar creates a progress bar in the style used by all commands.
func newProgressBar(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("embeddings"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
}

// openPostgresStore connects to PostgreSQL, applies migrations and creates the store for strategy.
// The caller closes the returned pool.
func openPostgresStore(ctx context.Context, cfg *config.Config, strategy database.Strategy) (*postgres.Pool, database.EmbeddingStore, error) {
	if cfg.Match.Dim != database.FaceEmbeddingDim {
		return nil, nil, fmt.Errorf("PostgreSQL stores %d-dimensional embeddings, FACE_EMBEDDING_DIM is %d",
			database.FaceEmbeddingDim, cfg.Match.Dim)
	}

	fmt.Printf("Connecting to PostgreSQL database...\n")
	pool, err := postgres.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, err
	}

	if strategy == database.StrategyHNSW {
		if cfg.Database.HNSWIndexPath != "" {
			fmt.Printf("Loading face HNSW index from %s...\n", cfg.Database.HNSWIndexPath)
		} else {
			fmt.Printf("Building in-memory HNSW index for face matching...\n")
		}
	}

	store, err := postgres.NewStore(ctx, pool, postgres.StoreOptions{
		Strategy:  strategy,
		HNSW:      hnswParams(cfg),
		IndexPath: cfg.Database.HNSWIndexPath,
		Progress:  newProgressBar,
	})
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	if rebuilder, ok := store.(database.IndexRebuilder); ok {
		fmt.Printf("Face HNSW index ready with %d embeddings\n", rebuilder.IndexCount())
	}
	return pool, store, nil
}

func hnswParams(cfg *config.Config) database.HNSWParams {
	return database.HNSWParams{
		M:              cfg.HNSW.M,
		EfConstruction: cfg.HNSW.EfConstruction,
		EfSearch:       cfg.HNSW.EfSearch,
		Seed:           database.HNSWSeed,
	}
}

func configuredStrategy(cfg *config.Config) (database.Strategy, error) {
	return database.ParseStrategy(cfg.Match.Strategy)
}

func newEngine(cfg *config.Config, store facematch.CandidateFinder) (*facematch.Engine, error) {
	return facematch.NewEngine(store, facematch.EngineConfig{
		Dim:       cfg.Match.Dim,
		Threshold: cfg.Match.Threshold,
	})
}

func newFlow(cfg *config.Config, store database.IdentityWriter, extractor embedder.Extractor) *registration.Flow {
	return registration.NewFlow(store, extractor, registration.Config{
		Dim:           cfg.Match.Dim,
		NormTolerance: cfg.Match.NormTolerance,
		Model:         cfg.Embedding.Model,
	})
}

func newExtractor(cfg *config.Config) *embedder.Client {
	return embedder.NewClient(cfg.Embedding.URL, cfg.Embedding.Model)
}

// readVectorFile reads a JSON array of numbers.
func readVectorFile(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vector file: %w", err)
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, fmt.Errorf("parsing vector file %s: %w", path, err)
	}
	return vec, nil
}

// imageOrVector validates that exactly one of --image and --vector-file was given.
func imageOrVector(cmd *cobra.Command) (imagePath, vectorPath string, err error) {
	imagePath = mustGetString(cmd, "image")
	vectorPath = mustGetString(cmd, "vector-file")
	if (imagePath == "") == (vectorPath == "") {
		return "", "", errors.New("exactly one of --image and --vector-file is required")
	}
	return imagePath, vectorPath, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
