package database

import (
	"context"

	"github.com/kozaktomas/face-matcher/internal/facematch"
)

// scanCtxCheckInterval is how many comparisons run between context checks.
const scanCtxCheckInterval = 1024

// ScanTracker keeps the best candidate seen during an exhaustive scan.
// Ties keep the first embedding offered.
type ScanTracker struct {
	query []float32
	best  *facematch.Candidate
	seen  int
}

// NewScanTracker creates a tracker for the given query vector.
func NewScanTracker(query []float32) *ScanTracker {
	return &ScanTracker{query: query}
}

// Offer compares one stored embedding against the query.
func (s *ScanTracker) Offer(embeddingID, ownerID string, vec []float32) error {
	sim, err := facematch.Similarity(s.query, vec)
	if err != nil {
		return err
	}
	s.seen++
	if s.best == nil || sim > s.best.Similarity {
		s.best = &facematch.Candidate{
			EmbeddingID: embeddingID,
			OwnerID:     ownerID,
			Similarity:  sim,
		}
	}
	return nil
}

// Best returns the best candidate, nil when nothing was offered.
func (s *ScanTracker) Best() *facematch.Candidate {
	return s.best
}

// Seen returns the number of embeddings compared.
func (s *ScanTracker) Seen() int {
	return s.seen
}

// ScanBestMatch compares query against every embedding.
func ScanBestMatch(ctx context.Context, query []float32, embeddings []*FaceEmbedding) (*facematch.Candidate, error) {
	tracker := NewScanTracker(query)
	for i, emb := range embeddings {
		if i%scanCtxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if err := tracker.Offer(emb.ID, emb.OwnerID, emb.Vector); err != nil {
			return nil, err
		}
	}
	return tracker.Best(), nil
}
