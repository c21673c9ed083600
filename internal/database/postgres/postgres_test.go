//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-matcher/internal/config"
	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/facematch"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &config.DatabaseConfig{
		URL:          dbURL,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	// Run migrations
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

// resetTables removes all identities between subtests.
func resetTables(t *testing.T, pool *Pool) {
	t.Helper()
	if _, err := pool.Exec(context.Background(), "TRUNCATE identities CASCADE"); err != nil {
		t.Fatalf("Failed to truncate: %v", err)
	}
}

func unitVector(t *testing.T, rng *rand.Rand) []float32 {
	t.Helper()
	raw := make([]float64, database.FaceEmbeddingDim)
	for i := range raw {
		raw[i] = rng.NormFloat64()
	}
	v, err := facematch.Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return v
}

func newIdentity(name string, vectors ...[]float32) *database.Identity {
	id := uuid.NewString()
	identity := &database.Identity{ID: id, Name: name}
	for _, v := range vectors {
		confidence := 0.98
		identity.Embeddings = append(identity.Embeddings, database.FaceEmbedding{
			ID:                  uuid.NewString(),
			OwnerID:             id,
			Vector:              v,
			DetectionConfidence: &confidence,
			Model:               "buffalo_l",
		})
	}
	return identity
}

func TestIdentityRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	rng := rand.New(rand.NewPCG(1, 2))
	repo, err := NewIdentityRepository(pool)
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		resetTables(t, pool)
		identity := newIdentity("Jiří Novák", unitVector(t, rng), unitVector(t, rng))
		if err := repo.CreateIdentity(ctx, identity); err != nil {
			t.Fatalf("Failed to create identity: %v", err)
		}

		got, err := repo.GetIdentity(ctx, identity.ID)
		if err != nil {
			t.Fatalf("Failed to get identity: %v", err)
		}
		if got == nil {
			t.Fatal("Expected identity, got nil")
		}
		if got.Name != "Jiří Novák" {
			t.Errorf("Expected name 'Jiří Novák', got '%s'", got.Name)
		}
		if len(got.Embeddings) != 2 {
			t.Fatalf("Expected 2 embeddings, got %d", len(got.Embeddings))
		}
		if len(got.Embeddings[0].Vector) != database.FaceEmbeddingDim {
			t.Errorf("Expected %d dimensions, got %d", database.FaceEmbeddingDim, len(got.Embeddings[0].Vector))
		}
		if got.Embeddings[0].DetectionConfidence == nil || *got.Embeddings[0].DetectionConfidence != 0.98 {
			t.Errorf("Unexpected detection confidence %v", got.Embeddings[0].DetectionConfidence)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		for _, id := range []string{uuid.NewString(), "not-a-uuid"} {
			got, err := repo.GetIdentity(ctx, id)
			if err != nil {
				t.Fatalf("Unexpected error for %s: %v", id, err)
			}
			if got != nil {
				t.Errorf("Expected nil for %s, got %+v", id, got)
			}
		}
	})

	t.Run("FindByName", func(t *testing.T) {
		resetTables(t, pool)
		for _, name := range []string{"Jan Novák", "jan-novak", "Petr"} {
			if err := repo.CreateIdentity(ctx, newIdentity(name, unitVector(t, rng))); err != nil {
				t.Fatalf("Failed to create %s: %v", name, err)
			}
		}

		got, err := repo.FindIdentitiesByName(ctx, "JAN NOVAK")
		if err != nil {
			t.Fatalf("Failed to find by name: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("Expected 2 identities, got %d", len(got))
		}
		for _, identity := range got {
			if len(identity.Embeddings) != 1 {
				t.Errorf("Expected 1 embedding for %s, got %d", identity.Name, len(identity.Embeddings))
			}
		}
	})

	t.Run("DeleteCascades", func(t *testing.T) {
		resetTables(t, pool)
		identity := newIdentity("Temp", unitVector(t, rng), unitVector(t, rng))
		if err := repo.CreateIdentity(ctx, identity); err != nil {
			t.Fatalf("Failed to create identity: %v", err)
		}
		// Warm the cache so Delete has to invalidate it.
		if _, err := repo.GetIdentity(ctx, identity.ID); err != nil {
			t.Fatalf("Failed to get identity: %v", err)
		}

		ids, err := repo.DeleteIdentity(ctx, identity.ID)
		if err != nil {
			t.Fatalf("Failed to delete identity: %v", err)
		}
		if len(ids) != 2 {
			t.Errorf("Expected 2 deleted embeddings, got %d", len(ids))
		}

		count, err := repo.CountEmbeddings(ctx)
		if err != nil {
			t.Fatalf("Failed to count embeddings: %v", err)
		}
		if count != 0 {
			t.Errorf("Expected 0 embeddings after cascade, got %d", count)
		}
		if got, _ := repo.GetIdentity(ctx, identity.ID); got != nil {
			t.Error("Expected deleted identity to be gone from cache")
		}

		if _, err := repo.DeleteIdentity(ctx, identity.ID); !errors.Is(err, database.ErrIdentityNotFound) {
			t.Errorf("Expected ErrIdentityNotFound, got %v", err)
		}
	})

	t.Run("RejectsWrongDimension", func(t *testing.T) {
		resetTables(t, pool)
		identity := newIdentity("Short", []float32{1, 0, 0})
		err := repo.CreateIdentity(ctx, identity)
		if !errors.Is(err, facematch.ErrDimensionMismatch) {
			t.Errorf("Expected dimension mismatch, got %v", err)
		}
		count, _ := repo.CountIdentities(ctx)
		if count != 0 {
			t.Errorf("Expected rollback to leave 0 identities, got %d", count)
		}
	})
}

func TestStrategies(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	rng := rand.New(rand.NewPCG(3, 4))
	indexPath := filepath.Join(t.TempDir(), "faces.hnsw")

	for _, strategy := range database.Strategies {
		t.Run(string(strategy), func(t *testing.T) {
			resetTables(t, pool)
			store, err := NewStore(ctx, pool, StoreOptions{
				Strategy:  strategy,
				HNSW:      database.DefaultHNSWParams(),
				IndexPath: indexPath,
			})
			if err != nil {
				t.Fatalf("Failed to create store: %v", err)
			}
			if store.Strategy() != strategy {
				t.Errorf("Expected strategy %s, got %s", strategy, store.Strategy())
			}

			empty, err := store.FindBestMatch(ctx, unitVector(t, rng))
			if err != nil {
				t.Fatalf("FindBestMatch on empty store: %v", err)
			}
			if empty != nil {
				t.Errorf("Expected nil candidate on empty store, got %+v", empty)
			}

			var identities []*database.Identity
			for i := range 20 {
				identity := newIdentity(fmt.Sprintf("person %d", i), unitVector(t, rng))
				if err := store.CreateIdentity(ctx, identity); err != nil {
					t.Fatalf("Failed to create identity: %v", err)
				}
				identities = append(identities, identity)
			}

			target := identities[7]
			got, err := store.FindBestMatch(ctx, target.Embeddings[0].Vector)
			if err != nil {
				t.Fatalf("FindBestMatch: %v", err)
			}
			if got == nil || got.OwnerID != target.ID {
				t.Fatalf("Expected owner %s, got %+v", target.ID, got)
			}
			if got.Similarity < 0.999 {
				t.Errorf("Expected similarity ~1, got %f", got.Similarity)
			}

			if _, err := store.DeleteIdentity(ctx, target.ID); err != nil {
				t.Fatalf("Failed to delete: %v", err)
			}
			got, err = store.FindBestMatch(ctx, target.Embeddings[0].Vector)
			if err != nil {
				t.Fatalf("FindBestMatch after delete: %v", err)
			}
			if got != nil && got.OwnerID == target.ID {
				t.Error("Deleted identity still returned")
			}

			_, err = store.FindBestMatch(ctx, []float32{1, 0, 0})
			if !errors.Is(err, facematch.ErrDimensionMismatch) {
				t.Errorf("Expected dimension mismatch for short query, got %v", err)
			}
		})
	}
}

func TestHNSWStore_PersistedIndex(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	rng := rand.New(rand.NewPCG(5, 6))
	indexPath := filepath.Join(t.TempDir(), "faces.hnsw")

	repo, err := NewIdentityRepository(pool)
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}
	store := NewHNSWStore(repo, database.DefaultHNSWParams(), indexPath)
	if err := store.Enable(ctx); err != nil {
		t.Fatalf("Failed to enable: %v", err)
	}
	var registered []*database.Identity
	for i := range 10 {
		identity := newIdentity(fmt.Sprintf("p%d", i), unitVector(t, rng))
		if err := store.CreateIdentity(ctx, identity); err != nil {
			t.Fatalf("Failed to create identity: %v", err)
		}
		registered = append(registered, identity)
	}
	if err := store.SaveIndex(ctx); err != nil {
		t.Fatalf("Failed to save index: %v", err)
	}

	meta, err := database.LoadHNSWMetadata(indexPath)
	if err != nil {
		t.Fatalf("Failed to load metadata: %v", err)
	}
	if meta.EmbeddingCount != 10 {
		t.Errorf("Expected metadata count 10, got %d", meta.EmbeddingCount)
	}

	reloaded := NewHNSWStore(repo, database.DefaultHNSWParams(), indexPath)
	if err := reloaded.Enable(ctx); err != nil {
		t.Fatalf("Failed to enable reloaded store: %v", err)
	}
	if reloaded.IndexCount() != 10 {
		t.Errorf("Expected 10 indexed embeddings, got %d", reloaded.IndexCount())
	}
	for _, identity := range registered {
		got, err := reloaded.FindBestMatch(ctx, identity.Embeddings[0].Vector)
		if err != nil {
			t.Fatalf("FindBestMatch failed: %v", err)
		}
		if got == nil || got.OwnerID != identity.ID {
			t.Errorf("Expected owner %s from loaded index, got %+v", identity.ID, got)
		}
	}

	if err := reloaded.RebuildIndex(ctx); err != nil {
		t.Fatalf("Failed to rebuild: %v", err)
	}
	if reloaded.IndexCount() != 10 {
		t.Errorf("Expected 10 indexed embeddings after rebuild, got %d", reloaded.IndexCount())
	}
}

func TestMigrations(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()

	// Check migrations were applied
	applied, err := pool.MigrationsApplied(ctx)
	if err != nil {
		t.Fatalf("Failed to get applied migrations: %v", err)
	}

	expectedMigrations := []string{
		"001_faces.sql",
	}

	if len(applied) != len(expectedMigrations) {
		t.Errorf("Expected %d migrations, got %d", len(expectedMigrations), len(applied))
	}

	for i, expected := range expectedMigrations {
		if i < len(applied) && applied[i] != expected {
			t.Errorf("Migration %d: expected '%s', got '%s'", i, expected, applied[i])
		}
	}

	pending, err := pool.PendingMigrations(ctx)
	if err != nil {
		t.Fatalf("Failed to get pending migrations: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected no pending migrations, got %v", pending)
	}
}
