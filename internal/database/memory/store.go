// Package memory provides an in-process embedding store.
// It is used by the CLI benchmark, the tests, and `serve --store memory`.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/facematch"
)

// Store keeps identities in memory and answers queries by scan or by HNSW graph.
type Store struct {
	mu         sync.RWMutex
	strategy   database.Strategy
	identities map[string]*database.Identity
	embeddings []*database.FaceEmbedding // insertion order, used by scan
	index      *database.HNSWIndex       // nil unless strategy is hnsw
	params     database.HNSWParams
}

var (
	_ database.EmbeddingStore = (*Store)(nil)
	_ database.IndexRebuilder = (*Store)(nil)
)

// New creates an empty store. Only scan and hnsw strategies are supported.
func New(strategy database.Strategy, params database.HNSWParams) (*Store, error) {
	s := &Store{
		strategy:   strategy,
		identities: make(map[string]*database.Identity),
		params:     params,
	}
	switch strategy {
	case database.StrategyScan:
	case database.StrategyHNSW:
		s.index = database.NewHNSWIndex(params)
	default:
		return nil, fmt.Errorf("memory store does not support strategy %q", strategy)
	}
	return s, nil
}

// Strategy reports how FindBestMatch is answered.
func (s *Store) Strategy() database.Strategy {
	return s.strategy
}

// FindBestMatch returns the stored embedding closest to query.
func (s *Store) FindBestMatch(ctx context.Context, query []float32) (*facematch.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.index != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return s.index.Nearest(query)
	}
	return database.ScanBestMatch(ctx, query, s.embeddings)
}

// CreateIdentity stores an identity and its embeddings atomically.
func (s *Store) CreateIdentity(ctx context.Context, identity *database.Identity) error {
	if err := identity.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.identities[identity.ID]; exists {
		return fmt.Errorf("identity %s already exists", identity.ID)
	}

	stored := identity.Clone()
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	for i := range stored.Embeddings {
		if stored.Embeddings[i].CreatedAt.IsZero() {
			stored.Embeddings[i].CreatedAt = now
		}
	}

	if s.index != nil {
		batch := make([]*database.FaceEmbedding, len(stored.Embeddings))
		for i := range stored.Embeddings {
			batch[i] = &stored.Embeddings[i]
		}
		if err := s.index.Add(batch...); err != nil {
			return err
		}
	} else if len(s.embeddings) > 0 && len(stored.Embeddings) > 0 {
		if want, got := len(s.embeddings[0].Vector), len(stored.Embeddings[0].Vector); want != got {
			return &facematch.DimensionMismatchError{Want: want, Got: got}
		}
	}

	s.identities[stored.ID] = stored
	for i := range stored.Embeddings {
		s.embeddings = append(s.embeddings, &stored.Embeddings[i])
	}
	return nil
}

// DeleteIdentity removes an identity and its embeddings.
func (s *Store) DeleteIdentity(ctx context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[id]
	if !ok {
		return nil, database.ErrIdentityNotFound
	}
	delete(s.identities, id)

	s.embeddings = slices.DeleteFunc(s.embeddings, func(emb *database.FaceEmbedding) bool {
		return emb.OwnerID == id
	})

	ids := identity.EmbeddingIDs()
	if s.index != nil {
		for _, embID := range ids {
			s.index.Delete(embID)
		}
	}
	return ids, nil
}

// GetIdentity returns a copy of the identity, nil if not found.
func (s *Store) GetIdentity(ctx context.Context, id string) (*database.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.identities[id]
	if !ok {
		return nil, nil
	}
	return identity.Clone(), nil
}

// FindIdentitiesByName returns identities whose normalized name matches, oldest first.
func (s *Store) FindIdentitiesByName(ctx context.Context, name string) ([]database.Identity, error) {
	want := facematch.NormalizeName(name)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []database.Identity
	for _, identity := range s.identities {
		if facematch.NormalizeName(identity.Name) == want {
			out = append(out, *identity.Clone())
		}
	}
	slices.SortFunc(out, func(a, b database.Identity) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}

// CountIdentities returns the number of identities.
func (s *Store) CountIdentities(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.identities), nil
}

// CountEmbeddings returns the number of stored embeddings.
func (s *Store) CountEmbeddings(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.embeddings), nil
}

// RebuildIndex rebuilds the HNSW graph from the stored embeddings.
// It is a no-op for the scan strategy.
func (s *Store) RebuildIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index == nil {
		return nil
	}

	embs := make([]database.FaceEmbedding, len(s.embeddings))
	for i, emb := range s.embeddings {
		embs[i] = *emb
	}

	index := database.NewHNSWIndex(s.params)
	if err := index.BuildFromEmbeddings(embs); err != nil {
		return fmt.Errorf("rebuilding index: %w", err)
	}
	s.index = index
	return nil
}

// IndexCount returns the number of live index entries, or the embedding count for scan.
func (s *Store) IndexCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.index == nil {
		return len(s.embeddings)
	}
	return s.index.Count()
}

// SaveIndex is a no-op; the memory store has nothing to persist.
func (s *Store) SaveIndex(ctx context.Context) error {
	return nil
}
