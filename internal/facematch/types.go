// Package facematch decides whether a face embedding belongs to a known identity.
// It holds the similarity metric, the threshold decision and the match engine
// shared by the HTTP handlers and the CLI.
package facematch

import "context"

// Candidate is the closest stored embedding found for a query.
type Candidate struct {
	EmbeddingID string
	OwnerID     string
	Similarity  float64 // cosine similarity, not yet clamped
}

// CandidateFinder returns the stored embedding closest to a query.
// A nil candidate with a nil error means the store holds no embeddings.
type CandidateFinder interface {
	FindBestMatch(ctx context.Context, query []float32) (*Candidate, error)
}

// Result is the outcome of a single recognition.
// The JSON form is the public wire contract and is identical for every store strategy.
type Result struct {
	Matched    bool    `json:"matched"`
	OwnerID    *string `json:"owner_id"`
	Similarity float64 `json:"similarity"`

	// CandidateFound is false only when the store was empty and nothing was compared.
	// Callers must use it instead of testing Similarity == 0.
	CandidateFound bool `json:"-"`
}

// noCandidate is returned when the store is empty.
func noCandidate() Result {
	return Result{}
}
