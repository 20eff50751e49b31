package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docuseek/rag/internal/ingestion"
	"github.com/docuseek/rag/internal/repository"
	"github.com/docuseek/rag/internal/vectorstore"
)

// Document processing statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// DocumentService handles document upload, indexing, and deletion.
type DocumentService struct {
	documents   repository.DocumentRepository
	collections *CollectionService
	vectorDB    vectorstore.VectorStore
	pipeline    *ingestion.Pipeline
	logger      *slog.Logger
}

// NewDocumentService creates a new DocumentService
func NewDocumentService(
	documents repository.DocumentRepository,
	collections *CollectionService,
	vectorDB vectorstore.VectorStore,
	pipeline *ingestion.Pipeline,
	logger *slog.Logger,
) *DocumentService {
	return &DocumentService{
		documents:   documents,
		collections: collections,
		vectorDB:    vectorDB,
		pipeline:    pipeline,
		logger:      logger,
	}
}

// Ingest uploads a document into a collection. The caller must be allowed
// to write to the collection. Content identical to an already indexed
// document is rejected rather than indexed twice.
func (s *DocumentService) Ingest(ctx context.Context, userID, collectionName, documentName string, r io.Reader) (*repository.Document, error) {
	if documentName == "" {
		return nil, fmt.Errorf("%w: document name is required", ErrInvalidInput)
	}
	if !ingestion.IsSupportedExtension(documentName) {
		return nil, fmt.Errorf("%w: unsupported document type %q", ErrInvalidInput, documentName)
	}

	c, err := s.collections.collections.GetByName(ctx, collectionName)
	if err != nil {
		return nil, err
	}
	if !s.collections.CanWrite(ctx, userID, c) {
		return nil, ErrPermissionDenied
	}

	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	hash := ingestion.HashContent(content)

	if existing, err := s.documents.GetByHash(ctx, collectionName, hash); err == nil {
		return nil, fmt.Errorf("%w: identical content already indexed as %q",
			ErrAlreadyExists, existing.Name)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	doc := &repository.Document{
		ID:             uuid.New(),
		Name:           documentName,
		CollectionName: collectionName,
		OrganizationID: c.OrganizationID,
		UploadedBy:     userID,
		ContentHash:    hash,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	chunkCount, err := s.pipeline.Process(ctx, collectionName, doc.ID,
		documentName, c.OrganizationID, documentName, bytes.NewReader(content))
	if err != nil {
		doc.Status = StatusFailed
		doc.ErrorMessage = err.Error()
		if cerr := s.documents.Create(ctx, doc); cerr != nil {
			s.logger.Error("recording failed ingestion", "document", documentName, "error", cerr)
		}
		return nil, fmt.Errorf("ingesting %q: %w", documentName, err)
	}

	doc.Status = StatusCompleted
	doc.ChunkCount = chunkCount
	if err := s.documents.Create(ctx, doc); err != nil {
		// The chunks are already indexed; remove them so the index and
		// the metadata store stay consistent.
		if derr := s.vectorDB.DeleteByDocumentIDs(ctx, collectionName, []string{doc.ID.String()}); derr != nil {
			s.logger.Error("rollback of indexed chunks failed",
				"document", documentName, "error", derr)
		}
		return nil, fmt.Errorf("recording document: %w", err)
	}
	return doc, nil
}

// Delete removes a named document's chunks and metadata from a collection
func (s *DocumentService) Delete(ctx context.Context, userID, collectionName, documentName string) error {
	c, err := s.collections.collections.GetByName(ctx, collectionName)
	if err != nil {
		return err
	}
	if !s.collections.CanWrite(ctx, userID, c) {
		return ErrPermissionDenied
	}

	if err := s.vectorDB.DeleteByDocumentName(ctx, collectionName, documentName, c.OrganizationID); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	if err := s.documents.DeleteByName(ctx, collectionName, documentName); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("deleting document record: %w", err)
	}

	s.logger.Info("document deleted",
		"collection", collectionName, "document", documentName, "user_id", userID)
	return nil
}

// List returns a collection's documents if the user may read it
func (s *DocumentService) List(ctx context.Context, userID, collectionName string, limit, offset int) ([]*repository.Document, int, error) {
	c, err := s.collections.collections.GetByName(ctx, collectionName)
	if err != nil {
		return nil, 0, err
	}
	if !s.collections.CanRead(ctx, userID, c) {
		return nil, 0, ErrPermissionDenied
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.documents.List(ctx, collectionName, limit, offset)
}
