package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docuseek/rag/internal/embedder"
	"github.com/docuseek/rag/internal/identity"
	"github.com/docuseek/rag/internal/repository"
	"github.com/docuseek/rag/internal/vectorstore"
)

// CollectionService manages collection lifecycle and access decisions.
type CollectionService struct {
	collections repository.CollectionRepository
	vectorDB    vectorstore.VectorStore
	embedder    embedder.Embedder
	identities  *identity.Cache
	logger      *slog.Logger
}

// NewCollectionService creates a new CollectionService
func NewCollectionService(
	collections repository.CollectionRepository,
	vectorDB vectorstore.VectorStore,
	emb embedder.Embedder,
	identities *identity.Cache,
	logger *slog.Logger,
) *CollectionService {
	return &CollectionService{
		collections: collections,
		vectorDB:    vectorDB,
		embedder:    emb,
		identities:  identities,
		logger:      logger,
	}
}

// Permission names the class of operation an access check covers.
type Permission string

const (
	PermissionRead   Permission = "read"
	PermissionWrite  Permission = "write"
	PermissionDelete Permission = "delete"
)

// CheckAccess resolves a collection by name and reports whether the user
// may perform the operation on it. A collection that does not exist, a
// user with no relationship to it, and an organizationID that does not
// match the collection's owner all answer false; access checks never
// surface errors.
func (s *CollectionService) CheckAccess(ctx context.Context, userID, collectionName, organizationID string, perm Permission) bool {
	c, err := s.collections.GetByName(ctx, collectionName)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("access check lookup failed",
				"collection", collectionName, "error", err)
		}
		return false
	}
	if !c.IsPersonal && organizationID != "" && c.OrganizationID != organizationID {
		return false
	}
	switch perm {
	case PermissionWrite, PermissionDelete:
		return s.CanWrite(ctx, userID, c)
	default:
		return s.CanRead(ctx, userID, c)
	}
}

// CanRead reports whether the user may read from the collection. Access
// checks answer yes or no; only infrastructure failures surface as errors
// further up, and those deny.
func (s *CollectionService) CanRead(ctx context.Context, userID string, c *repository.Collection) bool {
	if c.IsPersonal {
		return c.UserID == userID
	}
	return s.identities.VerifyAccess(ctx, userID, c.OrganizationID, repository.RoleUser)
}

// CanWrite reports whether the user may modify or delete the collection.
func (s *CollectionService) CanWrite(ctx context.Context, userID string, c *repository.Collection) bool {
	if c.IsPersonal {
		return c.UserID == userID
	}
	if c.UserID == userID && s.identities.VerifyAccess(ctx, userID, c.OrganizationID, repository.RoleUser) {
		return true
	}
	return s.identities.IsAdmin(ctx, userID, c.OrganizationID)
}

// Create provisions a new collection: the vector collection with its three
// spaces plus the ownership record. An organizational collection requires
// membership in the organization.
func (s *CollectionService) Create(ctx context.Context, userID, organizationID, name string, isPersonal bool) (*repository.Collection, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: collection name is required", ErrInvalidInput)
	}
	if !isPersonal && organizationID == "" {
		return nil, fmt.Errorf("%w: organizational collection needs an organization", ErrInvalidInput)
	}

	if !s.identities.UserExists(ctx, userID) {
		return nil, ErrPermissionDenied
	}
	if !isPersonal && !s.identities.VerifyAccess(ctx, userID, organizationID, repository.RoleUser) {
		return nil, ErrPermissionDenied
	}

	if _, err := s.collections.GetByName(ctx, name); err == nil {
		return nil, fmt.Errorf("%w: collection %q", ErrAlreadyExists, name)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	if err := s.vectorDB.CreateCollection(ctx, name,
		s.embedder.DenseDimension(), s.embedder.LateDimension()); err != nil {
		return nil, fmt.Errorf("creating vector collection: %w", err)
	}

	c := &repository.Collection{
		ID:         uuid.New(),
		Name:       name,
		UserID:     userID,
		IsPersonal: isPersonal,
		CreatedAt:  time.Now().UTC(),
	}
	if !isPersonal {
		c.OrganizationID = organizationID
	}
	if err := s.collections.Create(ctx, c); err != nil {
		// Roll back the vector collection so a half-created collection
		// does not linger without an ownership record.
		if derr := s.vectorDB.DeleteCollection(ctx, name); derr != nil {
			s.logger.Error("rollback of vector collection failed",
				"collection", name, "error", derr)
		}
		return nil, fmt.Errorf("recording collection ownership: %w", err)
	}

	s.logger.Info("collection created",
		"collection", name, "user_id", userID, "personal", isPersonal)
	return c, nil
}

// Delete removes a collection and its ownership record
func (s *CollectionService) Delete(ctx context.Context, userID, name string) error {
	c, err := s.collections.GetByName(ctx, name)
	if err != nil {
		return err
	}
	if !s.CanWrite(ctx, userID, c) {
		return ErrPermissionDenied
	}

	if err := s.vectorDB.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("deleting vector collection: %w", err)
	}
	if err := s.collections.Delete(ctx, name, c.OrganizationID, c.IsPersonal); err != nil {
		return fmt.Errorf("deleting collection record: %w", err)
	}

	s.logger.Info("collection deleted", "collection", name, "user_id", userID)
	return nil
}

// List returns the collections the user may read: their personal
// collections plus, when organizationID is set and the user is a member,
// the organization's collections.
func (s *CollectionService) List(ctx context.Context, userID, organizationID string) ([]*repository.Collection, error) {
	if !s.identities.UserExists(ctx, userID) {
		return nil, ErrPermissionDenied
	}
	if organizationID != "" && !s.identities.VerifyAccess(ctx, userID, organizationID, repository.RoleUser) {
		// Not a member: fall back to personal collections only.
		organizationID = ""
	}
	return s.collections.ListForUser(ctx, userID, organizationID)
}

// Get returns one collection if the user may read it
func (s *CollectionService) Get(ctx context.Context, userID, name string) (*repository.Collection, error) {
	c, err := s.collections.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if !s.CanRead(ctx, userID, c) {
		return nil, ErrPermissionDenied
	}
	return c, nil
}
