package database

import (
	"context"
	"errors"

	"github.com/kozaktomas/face-matcher/internal/facematch"
)

// ErrIdentityNotFound is returned when an identity does not exist.
var ErrIdentityNotFound = errors.New("identity not found")

// IdentityReader provides read-only access to identities
type IdentityReader interface {
	// GetIdentity retrieves an identity with its embeddings, returns nil if not found
	GetIdentity(ctx context.Context, id string) (*Identity, error)
	// FindIdentitiesByName returns identities whose normalized name equals the normalized input
	FindIdentitiesByName(ctx context.Context, name string) ([]Identity, error)
	// CountIdentities returns the number of identities
	CountIdentities(ctx context.Context) (int, error)
	// CountEmbeddings returns the number of stored face embeddings
	CountEmbeddings(ctx context.Context) (int, error)
}

// IdentityWriter provides write access to identities
type IdentityWriter interface {
	IdentityReader

	// CreateIdentity stores an identity and all of its embeddings atomically.
	// Embeddings are queryable once CreateIdentity returns.
	CreateIdentity(ctx context.Context, identity *Identity) error

	// DeleteIdentity removes an identity and its embeddings.
	// Returns the deleted embedding IDs, or ErrIdentityNotFound.
	DeleteIdentity(ctx context.Context, id string) ([]string, error)
}

// EmbeddingStore is the durable holder of identities that answers nearest-neighbor queries.
type EmbeddingStore interface {
	facematch.CandidateFinder
	IdentityWriter

	// Strategy reports how FindBestMatch is answered.
	Strategy() Strategy
}

// IndexRebuilder is implemented by stores backed by an in-process index.
type IndexRebuilder interface {
	// RebuildIndex rebuilds the in-memory index from durable storage
	RebuildIndex(ctx context.Context) error
	// IndexCount returns the number of live entries in the index
	IndexCount() int
	// SaveIndex saves the current index to disk (if path configured)
	SaveIndex(ctx context.Context) error
}

// CollectStats gathers counts from a store.
func CollectStats(ctx context.Context, store EmbeddingStore) (Stats, error) {
	identities, err := store.CountIdentities(ctx)
	if err != nil {
		return Stats{}, err
	}
	embeddings, err := store.CountEmbeddings(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Strategy:   store.Strategy(),
		Identities: identities,
		Embeddings: embeddings,
	}
	if rebuilder, ok := store.(IndexRebuilder); ok {
		stats.IndexSize = rebuilder.IndexCount()
	}
	return stats, nil
}
