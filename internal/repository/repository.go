// Package repository defines domain models and data access interfaces for
// collections, documents, API keys, and the identity store.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Roles a user can hold within an organization.
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

// Role IDs as stored by the identity database.
const (
	roleIDAdmin = 10
	roleIDUser  = 90
)

// RoleFromID converts a stored role ID to its string form.
// Unknown IDs are preserved as "ROLE_<id>" rather than rejected.
func RoleFromID(id int) string {
	switch id {
	case roleIDAdmin:
		return RoleAdmin
	case roleIDUser:
		return RoleUser
	default:
		return fmt.Sprintf("ROLE_%d", id)
	}
}

// Collection is the ownership record for a vector collection.
// A personal collection belongs to exactly one user and carries no
// organization; an organizational collection belongs to exactly one
// organization and records the user who created it.
type Collection struct {
	ID             uuid.UUID
	Name           string
	UserID         string
	OrganizationID string // empty for personal collections
	IsPersonal     bool
	CreatedAt      time.Time
}

// Document represents an ingested document's metadata record.
type Document struct {
	ID             uuid.UUID
	Name           string
	CollectionName string
	OrganizationID string
	UploadedBy     string
	ContentHash    string
	ChunkCount     int
	Status         string
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// APIKey is a stored API key credential. Only the SHA-256 hash of the
// key material is persisted.
type APIKey struct {
	ID        uuid.UUID
	UserID    string
	Name      string
	KeyHash   string
	Revoked   bool
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// User holds the identity store's view of a user.
type User struct {
	ID                    string
	Code                  string
	Email                 string
	FirstName             string
	LastName              string
	DefaultOrganizationID string
}

// OrganizationMembership is one (organization, role) pair for a user.
type OrganizationMembership struct {
	OrganizationID   string
	OrganizationName string
	OrganizationCode string
	Role             string
}

// CollectionRepository defines operations for collection ownership records
type CollectionRepository interface {
	Create(ctx context.Context, c *Collection) error
	GetByName(ctx context.Context, name string) (*Collection, error)
	// ListForUser returns the collections a user may read: personal
	// collections owned by userID plus, when organizationID is non-empty,
	// collections owned by that organization.
	ListForUser(ctx context.Context, userID, organizationID string) ([]*Collection, error)
	Delete(ctx context.Context, name string, organizationID string, isPersonal bool) error
}

// DocumentRepository defines operations for document metadata persistence
type DocumentRepository interface {
	Create(ctx context.Context, doc *Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*Document, error)
	GetByHash(ctx context.Context, collectionName, hash string) (*Document, error)
	List(ctx context.Context, collectionName string, limit, offset int) ([]*Document, int, error)
	Update(ctx context.Context, doc *Document) error
	DeleteByName(ctx context.Context, collectionName, documentName string) error
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) error
}

// APIKeyRepository defines operations for API key persistence
type APIKeyRepository interface {
	Create(ctx context.Context, key *APIKey) error
	GetByHash(ctx context.Context, keyHash string) (*APIKey, error)
	Revoke(ctx context.Context, id uuid.UUID) error
}

// IdentityStore is the authoritative source for users, organizations, and
// roles. It lives in a separate operational database from the application
// store. Lookups that find nothing return zero values with a nil error so
// callers can distinguish "absent" from "store unreachable".
type IdentityStore interface {
	// GetUser returns the user, or (nil, nil) when no such user exists.
	GetUser(ctx context.Context, userID string) (*User, error)

	// GetUserOrganizations returns the user's organization memberships
	// with roles. An unknown user yields an empty slice, not an error.
	GetUserOrganizations(ctx context.Context, userID string) ([]OrganizationMembership, error)

	// GetRole returns the user's role in the organization, or ("", nil)
	// when the user is not a member.
	GetRole(ctx context.Context, userID, organizationID string) (string, error)

	// OrganizationExists reports whether the organization exists.
	OrganizationExists(ctx context.Context, organizationID string) (bool, error)
}
