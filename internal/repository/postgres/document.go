package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/docuseek/rag/internal/repository"
)

// DocumentRepo implements repository.DocumentRepository
type DocumentRepo struct {
	db *DB
}

// NewDocumentRepo creates a new document repository
func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// Create creates a new document record
func (r *DocumentRepo) Create(ctx context.Context, doc *repository.Document) error {
	query := `
		INSERT INTO documents (id, name, collection_name, organization_id, uploaded_by, content_hash, chunk_count, status, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		doc.ID, doc.Name, doc.CollectionName, doc.OrganizationID, doc.UploadedBy,
		doc.ContentHash, doc.ChunkCount, doc.Status, doc.ErrorMessage,
		doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetByID retrieves a document by ID
func (r *DocumentRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.Document, error) {
	query := `
		SELECT id, name, collection_name, COALESCE(organization_id, ''), uploaded_by, content_hash, chunk_count, status, error_message, created_at, updated_at
		FROM documents
		WHERE id = $1
	`
	return r.scanDocument(ctx, query, id)
}

// GetByHash retrieves a document by content hash within a collection.
// Used to detect re-uploads of identical content.
func (r *DocumentRepo) GetByHash(ctx context.Context, collectionName, hash string) (*repository.Document, error) {
	query := `
		SELECT id, name, collection_name, COALESCE(organization_id, ''), uploaded_by, content_hash, chunk_count, status, error_message, created_at, updated_at
		FROM documents
		WHERE collection_name = $1 AND content_hash = $2
	`
	return r.scanDocument(ctx, query, collectionName, hash)
}

func (r *DocumentRepo) scanDocument(ctx context.Context, query string, args ...any) (*repository.Document, error) {
	var doc repository.Document
	err := r.db.Pool.QueryRow(ctx, query, args...).Scan(
		&doc.ID, &doc.Name, &doc.CollectionName, &doc.OrganizationID,
		&doc.UploadedBy, &doc.ContentHash, &doc.ChunkCount, &doc.Status,
		&doc.ErrorMessage, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// List retrieves a collection's documents with pagination
func (r *DocumentRepo) List(ctx context.Context, collectionName string, limit, offset int) ([]*repository.Document, int, error) {
	var total int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM documents WHERE collection_name = $1`,
		collectionName).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	query := `
		SELECT id, name, collection_name, COALESCE(organization_id, ''), uploaded_by, content_hash, chunk_count, status, error_message, created_at, updated_at
		FROM documents
		WHERE collection_name = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Pool.Query(ctx, query, collectionName, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*repository.Document
	for rows.Next() {
		var doc repository.Document
		if err := rows.Scan(&doc.ID, &doc.Name, &doc.CollectionName,
			&doc.OrganizationID, &doc.UploadedBy, &doc.ContentHash,
			&doc.ChunkCount, &doc.Status, &doc.ErrorMessage,
			&doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, &doc)
	}

	return docs, total, rows.Err()
}

// Update updates a document record
func (r *DocumentRepo) Update(ctx context.Context, doc *repository.Document) error {
	query := `
		UPDATE documents
		SET name = $2, content_hash = $3, chunk_count = $4,
		    status = $5, error_message = $6, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Pool.Exec(ctx, query,
		doc.ID, doc.Name, doc.ContentHash, doc.ChunkCount, doc.Status, doc.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteByName deletes every document with the given name in a collection
func (r *DocumentRepo) DeleteByName(ctx context.Context, collectionName, documentName string) error {
	result, err := r.db.Pool.Exec(ctx,
		`DELETE FROM documents WHERE collection_name = $1 AND name = $2`,
		collectionName, documentName)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteByIDs deletes the documents with the given IDs
func (r *DocumentRepo) DeleteByIDs(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM documents WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// Ensure DocumentRepo implements the interface
var _ repository.DocumentRepository = (*DocumentRepo)(nil)
