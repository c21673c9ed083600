package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/facematch"
	"github.com/schollz/progressbar/v3"
)

// identityWriter is the write side of IdentityRepository.
type identityWriter interface {
	CreateIdentity(ctx context.Context, identity *database.Identity) error
	DeleteIdentity(ctx context.Context, id string) ([]string, error)
}

// HNSWStore answers queries with an in-memory HNSW graph built from PostgreSQL.
// Writes go to PostgreSQL first and are applied to the graph before returning.
type HNSWStore struct {
	*IdentityRepository
	writer    identityWriter
	params    database.HNSWParams
	index     *database.HNSWIndex
	indexPath string // Path to persist the graph (optional)
	mu        sync.RWMutex

	// stale is set when PostgreSQL holds rows the graph is missing.
	// The next query rebuilds the graph before searching.
	stale atomic.Bool

	// Progress, when set, receives a bar while the graph is built.
	Progress func(total int64, description string) *progressbar.ProgressBar
}

var (
	_ database.EmbeddingStore = (*HNSWStore)(nil)
	_ database.IndexRebuilder = (*HNSWStore)(nil)
)

// NewHNSWStore creates a store with an empty index. Call Enable before serving queries.
func NewHNSWStore(repo *IdentityRepository, params database.HNSWParams, indexPath string) *HNSWStore {
	return &HNSWStore{
		IdentityRepository: repo,
		writer:             repo,
		params:             params,
		indexPath:          indexPath,
	}
}

// Strategy returns database.StrategyHNSW.
func (s *HNSWStore) Strategy() database.Strategy {
	return database.StrategyHNSW
}

// Enable loads the graph from disk when fresh, otherwise builds it from PostgreSQL
// and saves it. This should be called once at startup.
func (s *HNSWStore) Enable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enableLocked(ctx)
}

func (s *HNSWStore) enableLocked(ctx context.Context) error {
	count, latest, err := s.embeddingStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get embedding stats: %w", err)
	}
	current := database.HNSWIndexMetadata{EmbeddingCount: count, LatestCreatedAt: latest}

	if s.indexPath != "" && s.tryLoadIndex(current) {
		return nil
	}

	embeddings, err := s.GetAllEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}

	index := database.NewHNSWIndex(s.params)
	if err := s.build(index, embeddings); err != nil {
		return fmt.Errorf("failed to build HNSW index: %w", err)
	}
	s.index = index
	fmt.Printf("Face index: built from database (%d embeddings)\n", index.Count())

	if s.indexPath != "" && len(embeddings) > 0 {
		if err := s.index.SaveWithMetadata(s.indexPath, current); err != nil {
			fmt.Printf("Warning: failed to save HNSW index to disk: %v\n", err)
		}
	}
	return nil
}

// build adds embeddings one by one so a progress bar can follow along.
func (s *HNSWStore) build(index *database.HNSWIndex, embeddings []database.FaceEmbedding) error {
	if s.Progress == nil {
		return index.BuildFromEmbeddings(embeddings)
	}

	bar := s.Progress(int64(len(embeddings)), "Building face index")
	for i := range embeddings {
		if err := index.Add(&embeddings[i]); err != nil {
			return err
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	return nil
}

// tryLoadIndex attempts to load the graph from disk.
// Returns true if the index was loaded and matches the database.
func (s *HNSWStore) tryLoadIndex(current database.HNSWIndexMetadata) bool {
	metadata, err := database.LoadHNSWMetadata(s.indexPath)
	if err != nil {
		fmt.Printf("Face index: metadata file error: %v (will rebuild)\n", err)
		return false
	}
	if metadata.EmbeddingCount != current.EmbeddingCount || !metadata.LatestCreatedAt.Equal(current.LatestCreatedAt) {
		fmt.Printf("Face index: stale (db: count=%d latest=%s, cached: count=%d latest=%s) (will rebuild)\n",
			current.EmbeddingCount, current.LatestCreatedAt, metadata.EmbeddingCount, metadata.LatestCreatedAt)
		return false
	}

	index := database.NewHNSWIndex(s.params)
	if err := index.Load(s.indexPath); err != nil {
		fmt.Printf("Face index: failed to load: %v (will rebuild)\n", err)
		return false
	}
	if int64(index.Count()) != current.EmbeddingCount {
		fmt.Printf("Face index: loaded %d entries, expected %d (will rebuild)\n", index.Count(), current.EmbeddingCount)
		return false
	}

	s.index = index
	fmt.Printf("Face index: loaded from disk (%d embeddings)\n", index.Count())
	return true
}

func (s *HNSWStore) currentIndex() (*database.HNSWIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.index == nil {
		return nil, errors.New("HNSW index not initialized")
	}
	return s.index, nil
}

// FindBestMatch searches the in-memory graph.
func (s *HNSWStore) FindBestMatch(ctx context.Context, query []float32) (*facematch.Candidate, error) {
	if err := s.refreshIfStale(ctx); err != nil {
		return nil, facematch.NewStoreError("hnsw refresh", err)
	}
	index, err := s.currentIndex()
	if err != nil {
		return nil, facematch.NewStoreError("hnsw search", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	candidate, err := index.Nearest(query)
	if err != nil && !errors.Is(err, facematch.ErrDimensionMismatch) {
		return nil, facematch.NewStoreError("hnsw search", err)
	}
	return candidate, err
}

// CreateIdentity persists the identity, then indexes its embeddings.
// The read lock keeps a concurrent rebuild from dropping the new embeddings.
func (s *HNSWStore) CreateIdentity(ctx context.Context, identity *database.Identity) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.index == nil {
		return facematch.NewStoreError("create identity", errors.New("HNSW index not initialized"))
	}
	if dim := s.index.Dim(); dim != 0 {
		for i := range identity.Embeddings {
			if got := len(identity.Embeddings[i].Vector); got != dim {
				return &facematch.DimensionMismatchError{Want: dim, Got: got}
			}
		}
	}

	if err := s.writer.CreateIdentity(ctx, identity); err != nil {
		return err
	}

	batch := make([]*database.FaceEmbedding, len(identity.Embeddings))
	for i := range identity.Embeddings {
		emb := identity.Embeddings[i]
		emb.Vector = append([]float32(nil), emb.Vector...)
		batch[i] = &emb
	}
	if err := s.index.Add(batch...); err != nil {
		return s.rollbackCreate(ctx, identity.ID, err)
	}
	return nil
}

// rollbackCreate deletes an identity the graph refused so both sides agree.
// If the delete fails too, the graph is marked stale and rebuilt on the next query.
func (s *HNSWStore) rollbackCreate(ctx context.Context, id string, cause error) error {
	if _, err := s.writer.DeleteIdentity(context.WithoutCancel(ctx), id); err != nil {
		s.stale.Store(true)
		return facematch.NewStoreError("index identity",
			errors.Join(cause, fmt.Errorf("rolling back identity %s: %w", id, err)))
	}
	return facematch.NewStoreError("index identity", cause)
}

func (s *HNSWStore) refreshIfStale(ctx context.Context) error {
	if !s.stale.Load() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stale.Load() {
		return nil
	}
	fmt.Println("Face index: out of step with the database, rebuilding")
	return s.rebuildLocked(ctx)
}

// rebuildLocked builds the graph from PostgreSQL, ignoring any file on disk.
func (s *HNSWStore) rebuildLocked(ctx context.Context) error {
	path := s.indexPath
	s.indexPath = ""
	defer func() { s.indexPath = path }()

	if err := s.enableLocked(ctx); err != nil {
		return err
	}
	s.stale.Store(false)
	return nil
}

// DeleteIdentity deletes from PostgreSQL, then removes the embeddings from the graph.
func (s *HNSWStore) DeleteIdentity(ctx context.Context, id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, err := s.writer.DeleteIdentity(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.index != nil {
		for _, embID := range ids {
			s.index.Delete(embID)
		}
	}
	return ids, nil
}

// RebuildIndex rebuilds the graph from PostgreSQL, ignoring any file on disk.
func (s *HNSWStore) RebuildIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rebuildLocked(ctx); err != nil {
		return err
	}
	if s.indexPath == "" {
		return nil
	}
	return s.saveLocked(ctx, s.indexPath)
}

// IndexCount returns the number of embeddings in the graph.
func (s *HNSWStore) IndexCount() int {
	index, err := s.currentIndex()
	if err != nil {
		return 0
	}
	return index.Count()
}

// SaveIndex saves the current graph to disk (if path configured).
func (s *HNSWStore) SaveIndex(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.indexPath == "" {
		fmt.Println("Face index save: no path configured, skipping")
		return nil
	}
	return s.saveLocked(ctx, s.indexPath)
}

func (s *HNSWStore) saveLocked(ctx context.Context, path string) error {
	if s.index == nil {
		fmt.Println("Face index save: no index in memory, skipping")
		return nil
	}

	count, latest, err := s.embeddingStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get embedding stats: %w", err)
	}

	metadata := database.HNSWIndexMetadata{EmbeddingCount: count, LatestCreatedAt: latest}
	if err := s.index.SaveWithMetadata(path, metadata); err != nil {
		return fmt.Errorf("saving HNSW face index: %w", err)
	}

	fmt.Printf("Face index save: saved successfully (count=%d)\n", count)
	return nil
}
