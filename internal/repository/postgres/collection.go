package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/docuseek/rag/internal/repository"
)

// CollectionRepo implements repository.CollectionRepository
type CollectionRepo struct {
	db *DB
}

// NewCollectionRepo creates a new collection repository
func NewCollectionRepo(db *DB) *CollectionRepo {
	return &CollectionRepo{db: db}
}

// Create records ownership of a new collection
func (r *CollectionRepo) Create(ctx context.Context, c *repository.Collection) error {
	query := `
		INSERT INTO collections (id, name, user_id, organization_id, is_personal, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		c.ID, c.Name, c.UserID, c.OrganizationID, c.IsPersonal, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// GetByName retrieves a collection's ownership record by name
func (r *CollectionRepo) GetByName(ctx context.Context, name string) (*repository.Collection, error) {
	query := `
		SELECT id, name, user_id, COALESCE(organization_id, ''), is_personal, created_at
		FROM collections
		WHERE name = $1
	`
	var c repository.Collection
	err := r.db.Pool.QueryRow(ctx, query, name).Scan(
		&c.ID, &c.Name, &c.UserID, &c.OrganizationID, &c.IsPersonal, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	return &c, nil
}

// ListForUser retrieves the collections visible to a user: their personal
// collections plus, when organizationID is set, the organization's
// collections.
func (r *CollectionRepo) ListForUser(ctx context.Context, userID, organizationID string) ([]*repository.Collection, error) {
	query := `
		SELECT id, name, user_id, COALESCE(organization_id, ''), is_personal, created_at
		FROM collections
		WHERE (is_personal AND user_id = $1)
		   OR ($2 <> '' AND NOT is_personal AND organization_id = $2)
		ORDER BY is_personal DESC, created_at ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, userID, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	var collections []*repository.Collection
	for rows.Next() {
		var c repository.Collection
		if err := rows.Scan(&c.ID, &c.Name, &c.UserID, &c.OrganizationID,
			&c.IsPersonal, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan collection: %w", err)
		}
		collections = append(collections, &c)
	}
	return collections, rows.Err()
}

// Delete removes a collection's ownership record
func (r *CollectionRepo) Delete(ctx context.Context, name string, organizationID string, isPersonal bool) error {
	query := `
		DELETE FROM collections
		WHERE name = $1
		  AND is_personal = $3
		  AND (is_personal OR organization_id = NULLIF($2, ''))
	`
	result, err := r.db.Pool.Exec(ctx, query, name, organizationID, isPersonal)
	if err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Ensure CollectionRepo implements the interface
var _ repository.CollectionRepository = (*CollectionRepo)(nil)
