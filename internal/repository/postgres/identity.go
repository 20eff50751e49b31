package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/docuseek/rag/internal/repository"
)

// IdentityRepo implements repository.IdentityStore against the operational
// identity database. That database is owned by another system; this
// repository only reads from it. Roles are stored as numeric IDs and
// translated on the way out.
type IdentityRepo struct {
	db *DB
}

// NewIdentityRepo creates a new identity repository
func NewIdentityRepo(db *DB) *IdentityRepo {
	return &IdentityRepo{db: db}
}

// GetUser retrieves a user, or (nil, nil) when no such user exists
func (r *IdentityRepo) GetUser(ctx context.Context, userID string) (*repository.User, error) {
	query := `
		SELECT id, code, email, first_name, last_name, COALESCE(default_organization_id, '')
		FROM users
		WHERE id = $1
	`
	var u repository.User
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&u.ID, &u.Code, &u.Email, &u.FirstName, &u.LastName, &u.DefaultOrganizationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// GetUserOrganizations retrieves the user's memberships with roles.
// An unknown user yields an empty slice.
func (r *IdentityRepo) GetUserOrganizations(ctx context.Context, userID string) ([]repository.OrganizationMembership, error) {
	query := `
		SELECT o.id, o.name, o.code, uo.role_id
		FROM user_organizations uo
		JOIN organizations o ON o.id = uo.organization_id
		WHERE uo.user_id = $1
		ORDER BY o.name
	`
	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user organizations: %w", err)
	}
	defer rows.Close()

	var memberships []repository.OrganizationMembership
	for rows.Next() {
		var m repository.OrganizationMembership
		var roleID int
		if err := rows.Scan(&m.OrganizationID, &m.OrganizationName,
			&m.OrganizationCode, &roleID); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		m.Role = repository.RoleFromID(roleID)
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

// GetRole retrieves the user's role in an organization, or ("", nil) when
// the user is not a member
func (r *IdentityRepo) GetRole(ctx context.Context, userID, organizationID string) (string, error) {
	query := `
		SELECT role_id
		FROM user_organizations
		WHERE user_id = $1 AND organization_id = $2
	`
	var roleID int
	err := r.db.Pool.QueryRow(ctx, query, userID, organizationID).Scan(&roleID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get role: %w", err)
	}
	return repository.RoleFromID(roleID), nil
}

// OrganizationExists reports whether the organization exists
func (r *IdentityRepo) OrganizationExists(ctx context.Context, organizationID string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM organizations WHERE id = $1)`,
		organizationID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check organization: %w", err)
	}
	return exists, nil
}

// Ensure IdentityRepo implements the interface
var _ repository.IdentityStore = (*IdentityRepo)(nil)
