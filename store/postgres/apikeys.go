package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/modforge/authcore"
)

// APIKeyRepository implements authcore.APIKeyStore.
type APIKeyRepository struct {
	pool DBTX
}

func NewAPIKeyRepository(pool DBTX) *APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

func (r *APIKeyRepository) CreateAPIKey(ctx context.Context, k *authcore.APIKey) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO api_keys (id, owner_id, name, prefix, hash, tier, last_used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		k.ID, k.OwnerID, k.Name, k.Prefix, k.Hash, k.Tier, utcPtr(k.LastUsedAt), k.CreatedAt.UTC(),
	)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return fmt.Errorf("insert api key: %w", authcore.ErrConflict)
	case isForeignKeyViolation(err):
		return fmt.Errorf("insert api key: %w", authcore.ErrNotFound)
	default:
		return fmt.Errorf("insert api key: %w", err)
	}
}

func (r *APIKeyRepository) FindAPIKeyByPrefix(ctx context.Context, prefix string) (*authcore.APIKey, error) {
	var k authcore.APIKey
	err := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, name, prefix, hash, tier, last_used_at, created_at
		FROM api_keys
		WHERE prefix = $1`, prefix).Scan(
		&k.ID, &k.OwnerID, &k.Name, &k.Prefix, &k.Hash, &k.Tier, &k.LastUsedAt, &k.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authcore.ErrNotFound
		}
		return nil, fmt.Errorf("scan api key: %w", err)
	}
	return &k, nil
}

func (r *APIKeyRepository) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	ct, err := r.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, usedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return authcore.ErrNotFound
	}
	return nil
}

// DeleteAPIKey removes the key only when ownerID owns it.
func (r *APIKeyRepository) DeleteAPIKey(ctx context.Context, id, ownerID string) (bool, error) {
	ct, err := r.pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("delete api key: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// ListAPIKeys returns the owner's keys, newest first.
func (r *APIKeyRepository) ListAPIKeys(ctx context.Context, ownerID string) ([]authcore.APIKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, owner_id, name, prefix, hash, tier, last_used_at, created_at
		FROM api_keys
		WHERE owner_id = $1
		ORDER BY created_at DESC, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query api keys: %w", err)
	}
	defer rows.Close()

	keys := []authcore.APIKey{}
	for rows.Next() {
		var k authcore.APIKey
		if err := rows.Scan(&k.ID, &k.OwnerID, &k.Name, &k.Prefix, &k.Hash, &k.Tier, &k.LastUsedAt, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api keys: %w", err)
	}
	return keys, nil
}
