// Package registration creates and deletes identities.
package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-matcher/internal/constants"
	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/embedder"
	"github.com/kozaktomas/face-matcher/internal/facematch"
)

var (
	// ErrIdentityNotFound is returned by Delete for unknown identities.
	ErrIdentityNotFound = database.ErrIdentityNotFound

	// ErrInvalidName is returned for empty or overlong names.
	ErrInvalidName = errors.New("invalid identity name")

	// ErrNoExtractor is returned by RegisterImage when no embedding service is configured.
	ErrNoExtractor = errors.New("no embedding extractor configured")
)

// Config holds the checks applied to registered vectors.
type Config struct {
	Dim           int
	NormTolerance float64
	Model         string // recorded with embeddings registered from raw vectors
}

// Registration is the outcome of a successful registration.
type Registration struct {
	IdentityID          string   `json:"identity_id"`
	EmbeddingID         string   `json:"embedding_id"`
	Name                string   `json:"name"`
	DetectionConfidence *float64 `json:"detection_confidence"`
}

// Flow registers identities into a store.
type Flow struct {
	store     database.IdentityWriter
	extractor embedder.Extractor
	cfg       Config
}

// NewFlow creates a registration flow. extractor may be nil when only raw vectors are registered.
func NewFlow(store database.IdentityWriter, extractor embedder.Extractor, cfg Config) *Flow {
	if cfg.NormTolerance <= 0 {
		cfg.NormTolerance = facematch.DefaultNormTolerance
	}
	return &Flow{store: store, extractor: extractor, cfg: cfg}
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > constants.MaxNameLength {
		return "", fmt.Errorf("%w: name longer than %d characters", ErrInvalidName, constants.MaxNameLength)
	}
	return name, nil
}

// Register stores a new identity with one embedding.
// The vector must have the configured dimension and unit norm.
func (f *Flow) Register(ctx context.Context, name string, vector []float32, confidence *float64) (*Registration, error) {
	return f.register(ctx, name, vector, confidence, f.cfg.Model)
}

func (f *Flow) register(ctx context.Context, name string, vector []float32, confidence *float64, model string) (*Registration, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}
	if len(vector) != f.cfg.Dim {
		return nil, facematch.InvalidEmbeddingf("expected %d dimensions, got %d", f.cfg.Dim, len(vector))
	}
	if !facematch.IsUnit(vector, f.cfg.NormTolerance) {
		return nil, facematch.InvalidEmbeddingf("vector is not unit-normalized (norm %.6f)", facematch.Norm(vector))
	}

	identityID := uuid.NewString()
	embeddingID := uuid.NewString()
	identity := &database.Identity{
		ID:   identityID,
		Name: name,
		Embeddings: []database.FaceEmbedding{{
			ID:                  embeddingID,
			OwnerID:             identityID,
			Vector:              append([]float32(nil), vector...),
			DetectionConfidence: confidence,
			Model:               model,
		}},
	}

	if err := f.store.CreateIdentity(ctx, identity); err != nil {
		return nil, fmt.Errorf("creating identity: %w", err)
	}

	return &Registration{
		IdentityID:          identityID,
		EmbeddingID:         embeddingID,
		Name:                name,
		DetectionConfidence: confidence,
	}, nil
}

// RegisterImage extracts the single face in image and registers it.
func (f *Flow) RegisterImage(ctx context.Context, name string, image []byte) (*Registration, error) {
	if f.extractor == nil {
		return nil, ErrNoExtractor
	}
	if _, err := validateName(name); err != nil {
		return nil, err
	}

	extraction, err := f.extractor.Extract(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("extracting face: %w", err)
	}

	confidence := extraction.DetectionConfidence
	model := extraction.Model
	if model == "" {
		model = f.cfg.Model
	}
	return f.register(ctx, name, extraction.Vector, &confidence, model)
}

// Delete removes an identity and all of its embeddings.
func (f *Flow) Delete(ctx context.Context, identityID string) ([]string, error) {
	ids, err := f.store.DeleteIdentity(ctx, identityID)
	if err != nil {
		if errors.Is(err, database.ErrIdentityNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("deleting identity: %w", err)
	}
	return ids, nil
}
