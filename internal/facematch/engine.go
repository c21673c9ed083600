package facematch

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// EngineConfig holds the deployment constants of the engine.
type EngineConfig struct {
	Dim       int     // expected embedding dimension
	Threshold float64 // minimum similarity for a match
}

// Engine turns a query embedding into a match decision.
// It has no state of its own and is safe for concurrent use.
type Engine struct {
	finder CandidateFinder
	scorer Scorer
	dim    int
}

// NewEngine creates an engine over the given store.
func NewEngine(finder CandidateFinder, cfg EngineConfig) (*Engine, error) {
	if finder == nil {
		return nil, errors.New("candidate finder is required")
	}
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", cfg.Dim)
	}
	if cfg.Threshold < -1 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("threshold %v outside [-1, 1]", cfg.Threshold)
	}
	return &Engine{
		finder: finder,
		scorer: NewScorer(cfg.Threshold),
		dim:    cfg.Dim,
	}, nil
}

// Dim returns the expected embedding dimension.
func (e *Engine) Dim() int {
	return e.dim
}

// Threshold returns the configured match threshold.
func (e *Engine) Threshold() float64 {
	return e.scorer.Threshold
}

// Recognize finds the identity owning the embedding closest to query.
// An empty store and a best candidate below the threshold are both
// returned as Result{Matched: false}; only the latter has CandidateFound set.
func (e *Engine) Recognize(ctx context.Context, query []float32) (Result, error) {
	if len(query) != e.dim {
		return Result{}, InvalidEmbeddingf("expected %d dimensions, got %d", e.dim, len(query))
	}

	candidate, err := e.finder.FindBestMatch(ctx, query)
	if err != nil {
		if errors.Is(err, ErrDimensionMismatch) {
			log.Printf("data quality: stored embedding dimension differs from query (dim=%d): %v", e.dim, err)
		}
		return Result{}, fmt.Errorf("finding best match: %w", err)
	}

	if candidate == nil {
		return noCandidate(), nil
	}

	similarity := Clamp(candidate.Similarity)
	if !e.scorer.Passes(similarity) {
		return Result{
			Matched:        false,
			Similarity:     similarity,
			CandidateFound: true,
		}, nil
	}

	owner := candidate.OwnerID
	return Result{
		Matched:        true,
		OwnerID:        &owner,
		Similarity:     similarity,
		CandidateFound: true,
	}, nil
}
