package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/facematch"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// identityCacheSize is the number of identities kept by GetIdentity.
const identityCacheSize = 1024

const embeddingColumns = `id, identity_id, embedding, detection_confidence, model, created_at`

// IdentityRepository provides PostgreSQL-backed identity storage.
// It implements database.IdentityWriter; the match strategies embed it.
type IdentityRepository struct {
	pool  *Pool
	cache *lru.Cache[string, *database.Identity]
}

// NewIdentityRepository creates a new PostgreSQL identity repository.
func NewIdentityRepository(pool *Pool) (*IdentityRepository, error) {
	cache, err := lru.New[string, *database.Identity](identityCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating identity cache: %w", err)
	}
	return &IdentityRepository{pool: pool, cache: cache}, nil
}

// validUUID reports whether id can be compared against a UUID column.
func validUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// CreateIdentity inserts the identity and its embeddings in one transaction.
func (r *IdentityRepository) CreateIdentity(ctx context.Context, identity *database.Identity) error {
	if err := identity.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	for i := range identity.Embeddings {
		if identity.Embeddings[i].CreatedAt.IsZero() {
			identity.Embeddings[i].CreatedAt = now
		}
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return classify("create identity", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO identities (id, name, name_normalized, created_at)
		VALUES ($1, $2, $3, $4)
	`, identity.ID, identity.Name, facematch.NormalizeName(identity.Name), identity.CreatedAt)
	if err != nil {
		return classify("insert identity", err)
	}

	if err := insertEmbeddings(ctx, tx, identity.Embeddings); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify("commit identity", err)
	}
	return nil
}

func insertEmbeddings(ctx context.Context, tx *sql.Tx, embeddings []database.FaceEmbedding) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO face_embeddings (id, identity_id, embedding, detection_confidence, model, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return classify("prepare embedding insert", err)
	}
	defer stmt.Close()

	for i := range embeddings {
		emb := &embeddings[i]
		var model sql.NullString
		if emb.Model != "" {
			model = sql.NullString{String: emb.Model, Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			emb.ID, emb.OwnerID, pgvector.NewVector(emb.Vector), emb.DetectionConfidence, model, emb.CreatedAt,
		)
		if err != nil {
			return classify("insert embedding", err)
		}
	}
	return nil
}

// DeleteIdentity deletes the identity; its embeddings go with it (ON DELETE CASCADE).
// Returns the deleted embedding IDs for index cleanup.
func (r *IdentityRepository) DeleteIdentity(ctx context.Context, id string) ([]string, error) {
	if !validUUID(id) {
		return nil, database.ErrIdentityNotFound
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("delete identity", err)
	}
	defer tx.Rollback()

	var locked string
	err = tx.QueryRowContext(ctx, "SELECT id FROM identities WHERE id = $1 FOR UPDATE", id).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrIdentityNotFound
	}
	if err != nil {
		return nil, classify("lock identity", err)
	}

	ids, err := scanEmbeddingIDs(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM identities WHERE id = $1", id); err != nil {
		return nil, classify("delete identity", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, classify("commit delete", err)
	}

	r.cache.Remove(id)
	return ids, nil
}

func scanEmbeddingIDs(ctx context.Context, tx *sql.Tx, identityID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM face_embeddings WHERE identity_id = $1 ORDER BY created_at, id", identityID)
	if err != nil {
		return nil, classify("query embedding IDs", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("scan embedding ID", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate embedding IDs", err)
	}
	return ids, nil
}

// GetIdentity retrieves an identity with its embeddings, nil if not found.
func (r *IdentityRepository) GetIdentity(ctx context.Context, id string) (*database.Identity, error) {
	if !validUUID(id) {
		return nil, nil
	}
	if cached, ok := r.cache.Get(id); ok {
		return cached.Clone(), nil
	}

	var identity database.Identity
	err := r.pool.QueryRow(ctx,
		"SELECT id, name, created_at FROM identities WHERE id = $1", id,
	).Scan(&identity.ID, &identity.Name, &identity.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get identity", err)
	}

	embeddings, err := r.embeddingsFor(ctx, []string{identity.ID})
	if err != nil {
		return nil, err
	}
	identity.Embeddings = embeddings[identity.ID]

	r.cache.Add(identity.ID, identity.Clone())
	return &identity, nil
}

// FindIdentitiesByName returns identities whose normalized name equals the normalized input, oldest first.
func (r *IdentityRepository) FindIdentitiesByName(ctx context.Context, name string) ([]database.Identity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, created_at
		FROM identities
		WHERE name_normalized = $1
		ORDER BY created_at, id
	`, facematch.NormalizeName(name))
	if err != nil {
		return nil, classify("query identities by name", err)
	}
	defer rows.Close()

	var identities []database.Identity
	var ids []string
	for rows.Next() {
		var identity database.Identity
		if err := rows.Scan(&identity.ID, &identity.Name, &identity.CreatedAt); err != nil {
			return nil, classify("scan identity", err)
		}
		identities = append(identities, identity)
		ids = append(ids, identity.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate identities", err)
	}
	if len(identities) == 0 {
		return nil, nil
	}

	embeddings, err := r.embeddingsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range identities {
		identities[i].Embeddings = embeddings[identities[i].ID]
	}
	return identities, nil
}

// embeddingsFor loads embeddings grouped by identity ID.
func (r *IdentityRepository) embeddingsFor(ctx context.Context, identityIDs []string) (map[string][]database.FaceEmbedding, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+embeddingColumns+`
		FROM face_embeddings
		WHERE identity_id = ANY($1::uuid[])
		ORDER BY created_at, id
	`, pq.Array(identityIDs))
	if err != nil {
		return nil, classify("query embeddings", err)
	}
	defer rows.Close()

	out := make(map[string][]database.FaceEmbedding, len(identityIDs))
	for rows.Next() {
		emb, err := scanEmbeddingRow(rows)
		if err != nil {
			return nil, err
		}
		out[emb.OwnerID] = append(out[emb.OwnerID], emb)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate embeddings", err)
	}
	return out, nil
}

// GetAllEmbeddings loads every stored embedding in insertion order.
func (r *IdentityRepository) GetAllEmbeddings(ctx context.Context) ([]database.FaceEmbedding, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+embeddingColumns+`
		FROM face_embeddings
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, classify("query all embeddings", err)
	}
	defer rows.Close()

	var embeddings []database.FaceEmbedding
	for rows.Next() {
		emb, err := scanEmbeddingRow(rows)
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, emb)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate embeddings", err)
	}
	return embeddings, nil
}

// scanEmbeddingRow scans a row selected with embeddingColumns.
func scanEmbeddingRow(scanner interface{ Scan(...any) error }) (database.FaceEmbedding, error) {
	var emb database.FaceEmbedding
	var vec pgvector.Vector
	var confidence sql.NullFloat64
	var model sql.NullString

	if err := scanner.Scan(&emb.ID, &emb.OwnerID, &vec, &confidence, &model, &emb.CreatedAt); err != nil {
		return emb, classify("scan embedding", err)
	}

	emb.Vector = vec.Slice()
	if confidence.Valid {
		c := confidence.Float64
		emb.DetectionConfidence = &c
	}
	if model.Valid {
		emb.Model = model.String
	}
	return emb, nil
}

// CountIdentities returns the number of identities.
func (r *IdentityRepository) CountIdentities(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM identities").Scan(&count); err != nil {
		return 0, classify("count identities", err)
	}
	return count, nil
}

// CountEmbeddings returns the number of stored face embeddings.
func (r *IdentityRepository) CountEmbeddings(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM face_embeddings").Scan(&count); err != nil {
		return 0, classify("count embeddings", err)
	}
	return count, nil
}

// embeddingStats returns the values used to detect a stale persisted index.
func (r *IdentityRepository) embeddingStats(ctx context.Context) (int64, time.Time, error) {
	var count int64
	var latest sql.NullTime
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*), MAX(created_at) FROM face_embeddings").Scan(&count, &latest)
	if err != nil {
		return 0, time.Time{}, classify("embedding stats", err)
	}
	if !latest.Valid {
		return count, time.Time{}, nil
	}
	return count, latest.Time.UTC(), nil
}
