package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the in-process HNSW face index",
	Long: `Manage the in-process HNSW graph used by the hnsw match strategy.

The graph is built from PostgreSQL on startup. When HNSW_INDEX_PATH is set it
is saved next to a metadata file and reloaded on the next start as long as the
embedding count and newest embedding are unchanged.`,
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the HNSW index from PostgreSQL, ignoring any saved graph",
	RunE:  runIndexRebuild,
}

var indexSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Load or build the HNSW index and save it to HNSW_INDEX_PATH",
	RunE:  runIndexSave,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexRebuildCmd)
	indexCmd.AddCommand(indexSaveCmd)
}

// openIndexedStore opens the PostgreSQL store with the hnsw strategy regardless of MATCH_STRATEGY.
func openIndexedStore(ctx context.Context) (database.IndexRebuilder, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	pool, store, err := openPostgresStore(ctx, cfg, database.StrategyHNSW)
	if err != nil {
		return nil, nil, err
	}
	rebuilder, ok := store.(database.IndexRebuilder)
	if !ok {
		pool.Close()
		return nil, nil, errors.New("store has no in-process index")
	}
	if cfg.Database.HNSWIndexPath == "" {
		fmt.Println("Warning: HNSW_INDEX_PATH is not set, the index will not be persisted")
	}
	return rebuilder, func() { pool.Close() }, nil
}

func runIndexRebuild(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rebuilder, closeStore, err := openIndexedStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	start := time.Now()
	if err := rebuilder.RebuildIndex(ctx); err != nil {
		return fmt.Errorf("rebuilding index: %w", err)
	}
	fmt.Printf("Rebuilt face index with %d embeddings in %v\n", rebuilder.IndexCount(), time.Since(start).Round(time.Millisecond))
	return nil
}

func runIndexSave(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rebuilder, closeStore, err := openIndexedStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := rebuilder.SaveIndex(ctx); err != nil {
		return fmt.Errorf("saving index: %w", err)
	}
	return nil
}
