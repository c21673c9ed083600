package postgres

import (
	"context"
	"fmt"

	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/schollz/progressbar/v3"
)

// StoreOptions selects and tunes the match strategy.
type StoreOptions struct {
	Strategy  database.Strategy
	HNSW      database.HNSWParams
	IndexPath string // hnsw only

	// Progress, when set, is used to report index builds.
	Progress func(total int64, description string) *progressbar.ProgressBar
}

// NewStore creates the store for the configured strategy.
// The hnsw strategy builds (or loads) its graph before returning.
func NewStore(ctx context.Context, pool *Pool, opts StoreOptions) (database.EmbeddingStore, error) {
	repo, err := NewIdentityRepository(pool)
	if err != nil {
		return nil, err
	}

	switch opts.Strategy {
	case database.StrategyScan:
		return NewScanStore(repo), nil
	case database.StrategyPgvector:
		return NewVectorStore(repo, opts.HNSW.EfSearch), nil
	case database.StrategyHNSW:
		store := NewHNSWStore(repo, opts.HNSW, opts.IndexPath)
		store.Progress = opts.Progress
		if err := store.Enable(ctx); err != nil {
			return nil, fmt.Errorf("enabling HNSW index: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown match strategy %q", opts.Strategy)
	}
}
