package postgres

import (
	"context"

	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/facematch"
	"github.com/pgvector/pgvector-go"
)

// ScanStore answers queries by streaming every embedding and scoring it in Go.
type ScanStore struct {
	*IdentityRepository
}

var _ database.EmbeddingStore = (*ScanStore)(nil)

// NewScanStore creates an exhaustive-scan store.
func NewScanStore(repo *IdentityRepository) *ScanStore {
	return &ScanStore{IdentityRepository: repo}
}

// Strategy returns database.StrategyScan.
func (s *ScanStore) Strategy() database.Strategy {
	return database.StrategyScan
}

// FindBestMatch compares query against every stored embedding.
func (s *ScanStore) FindBestMatch(ctx context.Context, query []float32) (*facematch.Candidate, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, identity_id, embedding FROM face_embeddings ORDER BY created_at, id")
	if err != nil {
		return nil, classify("scan embeddings", err)
	}
	defer rows.Close()

	tracker := database.NewScanTracker(query)
	for rows.Next() {
		var id, owner string
		var vec pgvector.Vector
		if err := rows.Scan(&id, &owner, &vec); err != nil {
			return nil, classify("scan embedding", err)
		}
		if err := tracker.Offer(id, owner, vec.Slice()); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate embeddings", err)
	}
	return tracker.Best(), nil
}
