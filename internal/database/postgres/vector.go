package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/facematch"
	"github.com/pgvector/pgvector-go"
)

// VectorStore answers queries with the pgvector HNSW index on face_embeddings.
type VectorStore struct {
	*IdentityRepository
	efSearch int
}

var _ database.EmbeddingStore = (*VectorStore)(nil)

// NewVectorStore creates a pgvector-backed store. efSearch <= 0 uses database.HNSWEfSearch.
func NewVectorStore(repo *IdentityRepository, efSearch int) *VectorStore {
	if efSearch <= 0 {
		efSearch = database.HNSWEfSearch
	}
	return &VectorStore{IdentityRepository: repo, efSearch: efSearch}
}

// Strategy returns database.StrategyPgvector.
func (s *VectorStore) Strategy() database.Strategy {
	return database.StrategyPgvector
}

// FindBestMatch returns the nearest embedding by cosine distance.
func (s *VectorStore) FindBestMatch(ctx context.Context, query []float32) (*facematch.Candidate, error) {
	// Use transaction to set ef_search for better recall (matching in-process HNSW config).
	tx, err := s.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, classify("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", s.efSearch)); err != nil {
		return nil, classify("set ef_search", err)
	}

	var candidate facematch.Candidate
	var distance float64
	err = tx.QueryRowContext(ctx, `
		SELECT id, identity_id, embedding <=> $1::vector AS distance
		FROM face_embeddings
		ORDER BY embedding <=> $1::vector
		LIMIT 1
	`, pgvector.NewVector(query)).Scan(&candidate.EmbeddingID, &candidate.OwnerID, &distance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("query nearest embedding", err)
	}

	candidate.Similarity = facematch.SimilarityFromDistance(distance)
	return &candidate, nil
}
