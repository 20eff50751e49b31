package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/docuseek/rag/internal/repository"
)

// APIKeyRepo implements repository.APIKeyRepository
type APIKeyRepo struct {
	db *DB
}

// NewAPIKeyRepo creates a new API key repository
func NewAPIKeyRepo(db *DB) *APIKeyRepo {
	return &APIKeyRepo{db: db}
}

// Create persists a new API key record
func (r *APIKeyRepo) Create(ctx context.Context, key *repository.APIKey) error {
	query := `
		INSERT INTO api_keys (id, user_id, name, key_hash, revoked, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		key.ID, key.UserID, key.Name, key.KeyHash, key.Revoked,
		key.CreatedAt, key.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}
	return nil
}

// GetByHash retrieves an API key by the hash of its key material
func (r *APIKeyRepo) GetByHash(ctx context.Context, keyHash string) (*repository.APIKey, error) {
	query := `
		SELECT id, user_id, name, key_hash, revoked, created_at, expires_at
		FROM api_keys
		WHERE key_hash = $1
	`
	var key repository.APIKey
	err := r.db.Pool.QueryRow(ctx, query, keyHash).Scan(
		&key.ID, &key.UserID, &key.Name, &key.KeyHash, &key.Revoked,
		&key.CreatedAt, &key.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get API key: %w", err)
	}
	return &key, nil
}

// Revoke marks an API key as revoked
func (r *APIKeyRepo) Revoke(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool.Exec(ctx,
		`UPDATE api_keys SET revoked = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Ensure APIKeyRepo implements the interface
var _ repository.APIKeyRepository = (*APIKeyRepo)(nil)
