package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-matcher/internal/facematch"
)

// Identity is a registered person.
type Identity struct {
	ID         string
	Name       string
	CreatedAt  time.Time
	Embeddings []FaceEmbedding // zero or more; never assume exactly one
}

// FaceEmbedding is a stored face vector owned by an Identity.
// Vectors are unit-normalized when stored and never updated in place.
type FaceEmbedding struct {
	ID                  string
	OwnerID             string
	Vector              []float32
	DetectionConfidence *float64 // informational only, never used for matching
	Model               string
	CreatedAt           time.Time
}

// Stats summarizes the contents of a store.
type Stats struct {
	Strategy   Strategy `json:"strategy"`
	Identities int      `json:"identities"`
	Embeddings int      `json:"embeddings"`
	IndexSize  int      `json:"index_size"`
}

// Clone returns a deep copy of the identity and its embeddings.
func (i *Identity) Clone() *Identity {
	out := *i
	out.Embeddings = make([]FaceEmbedding, len(i.Embeddings))
	for n, emb := range i.Embeddings {
		emb.Vector = append([]float32(nil), emb.Vector...)
		out.Embeddings[n] = emb
	}
	return &out
}

// EmbeddingIDs returns the IDs of the identity's embeddings.
func (i *Identity) EmbeddingIDs() []string {
	ids := make([]string, len(i.Embeddings))
	for n := range i.Embeddings {
		ids[n] = i.Embeddings[n].ID
	}
	return ids
}

// Validate checks an identity is ready to be persisted.
func (i *Identity) Validate() error {
	if i.ID == "" {
		return errors.New("identity ID is required")
	}
	dim := 0
	for n := range i.Embeddings {
		emb := &i.Embeddings[n]
		if emb.ID == "" {
			return fmt.Errorf("embedding %d: ID is required", n)
		}
		if emb.OwnerID != i.ID {
			return fmt.Errorf("embedding %s: owner %q does not match identity %q", emb.ID, emb.OwnerID, i.ID)
		}
		if len(emb.Vector) == 0 {
			return facematch.InvalidEmbeddingf("embedding %s has no vector", emb.ID)
		}
		if dim != 0 && len(emb.Vector) != dim {
			return &facematch.DimensionMismatchError{Want: dim, Got: len(emb.Vector)}
		}
		dim = len(emb.Vector)
	}
	return nil
}
