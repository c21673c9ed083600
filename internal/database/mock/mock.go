// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sync"

	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/facematch"
)

// MockStore is a mock implementation of database.EmbeddingStore and database.IndexRebuilder
type MockStore struct {
	mu         sync.RWMutex
	identities map[string]*database.Identity
	order      []string

	// StrategyValue is returned by Strategy, defaults to scan
	StrategyValue database.Strategy

	// BestMatch, when set, is returned by FindBestMatch instead of scanning
	BestMatch *facematch.Candidate

	// Error injection
	FindBestMatchError error
	CreateError        error
	DeleteError        error
	GetError           error
	FindByNameError    error
	CountError         error
	RebuildError       error
	SaveError          error

	// Call tracking
	FindBestMatchCalls int
	RebuildCalls       int
	SaveCalls          int
}

var (
	_ database.EmbeddingStore = (*MockStore)(nil)
	_ database.IndexRebuilder = (*MockStore)(nil)
)

// NewMockStore creates a new empty mock store
func NewMockStore() *MockStore {
	return &MockStore{
		identities:    make(map[string]*database.Identity),
		StrategyValue: database.StrategyScan,
	}
}

// AddIdentity adds an identity to the mock store, bypassing validation
func (m *MockStore) AddIdentity(identity database.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[identity.ID]; !ok {
		m.order = append(m.order, identity.ID)
	}
	m.identities[identity.ID] = identity.Clone()
}

// Strategy returns StrategyValue
func (m *MockStore) Strategy() database.Strategy {
	return m.StrategyValue
}

// FindBestMatch returns BestMatch if set, otherwise scans stored embeddings
func (m *MockStore) FindBestMatch(ctx context.Context, query []float32) (*facematch.Candidate, error) {
	m.mu.Lock()
	m.FindBestMatchCalls++
	m.mu.Unlock()

	if m.FindBestMatchError != nil {
		return nil, m.FindBestMatchError
	}
	if m.BestMatch != nil {
		c := *m.BestMatch
		return &c, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var embs []*database.FaceEmbedding
	for _, id := range m.order {
		ident := m.identities[id]
		for i := range ident.Embeddings {
			embs = append(embs, &ident.Embeddings[i])
		}
	}
	return database.ScanBestMatch(ctx, query, embs)
}

// CreateIdentity stores a copy of the identity
func (m *MockStore) CreateIdentity(ctx context.Context, identity *database.Identity) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.AddIdentity(*identity)
	return nil
}

// DeleteIdentity removes an identity
func (m *MockStore) DeleteIdentity(ctx context.Context, id string) ([]string, error) {
	if m.DeleteError != nil {
		return nil, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identities[id]
	if !ok {
		return nil, database.ErrIdentityNotFound
	}
	delete(m.identities, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return ident.EmbeddingIDs(), nil
}

// GetIdentity returns a copy of the identity, nil if not found
func (m *MockStore) GetIdentity(ctx context.Context, id string) (*database.Identity, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ident, ok := m.identities[id]
	if !ok {
		return nil, nil
	}
	return ident.Clone(), nil
}

// FindIdentitiesByName returns identities with a matching normalized name, in insertion order
func (m *MockStore) FindIdentitiesByName(ctx context.Context, name string) ([]database.Identity, error) {
	if m.FindByNameError != nil {
		return nil, m.FindByNameError
	}
	want := facematch.NormalizeName(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Identity
	for _, id := range m.order {
		ident := m.identities[id]
		if facematch.NormalizeName(ident.Name) == want {
			out = append(out, *ident.Clone())
		}
	}
	return out, nil
}

// CountIdentities returns the number of identities
func (m *MockStore) CountIdentities(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.identities), nil
}

// CountEmbeddings returns the number of embeddings
func (m *MockStore) CountEmbeddings(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, ident := range m.identities {
		n += len(ident.Embeddings)
	}
	return n, nil
}

// RebuildIndex records the call
func (m *MockStore) RebuildIndex(ctx context.Context) error {
	m.mu.Lock()
	m.RebuildCalls++
	m.mu.Unlock()
	return m.RebuildError
}

// IndexCount returns the number of embeddings
func (m *MockStore) IndexCount() int {
	n, _ := m.CountEmbeddings(context.Background())
	return n
}

// SaveIndex records the call
func (m *MockStore) SaveIndex(ctx context.Context) error {
	m.mu.Lock()
	m.SaveCalls++
	m.mu.Unlock()
	return m.SaveError
}
