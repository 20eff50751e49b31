// Package identity provides a process-wide, time-boxed cache over the
// identity store, mapping users to their organizations and roles.
//
// The cache is advisory only: the authoritative role always comes from the
// identity store on a miss. Entries older than the TTL are treated as
// absent, except when the identity store itself is unreachable, in which
// case the last-known value is served rather than failing open.
package identity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/docuseek/rag/internal/repository"
)

// DefaultTTL bounds how long a revoked role can keep taking effect.
const DefaultTTL = 300 * time.Second

// UserInfo is the cached join of a user with their organization memberships.
type UserInfo struct {
	User          repository.User
	Organizations []repository.OrganizationMembership
	Roles         map[string]string // organization ID -> role
	Exists        bool
}

type roleKey struct {
	userID         string
	organizationID string
}

type userEntry struct {
	info    *UserInfo // negative results cache a non-nil entry with Exists=false
	fetched time.Time
}

type roleEntry struct {
	role    string // "" is a cached negative result
	fetched time.Time
}

type orgEntry struct {
	exists  bool
	fetched time.Time
}

// Cache is a concurrency-safe TTL cache over an IdentityStore.
// Constructed once per process and passed by handle to callers.
type Cache struct {
	store  repository.IdentityStore
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	users map[string]userEntry
	roles map[roleKey]roleEntry
	orgs  map[string]orgEntry
}

// CacheOption is a functional option for configuring Cache.
type CacheOption func(*Cache)

// WithTTL overrides the default entry TTL.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithClock overrides the time source. Used by tests to step past the TTL.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache creates a new identity cache backed by the given store.
func NewCache(store repository.IdentityStore, opts ...CacheOption) *Cache {
	c := &Cache{
		store:  store,
		ttl:    DefaultTTL,
		logger: slog.Default(),
		now:    time.Now,
		users:  make(map[string]userEntry),
		roles:  make(map[roleKey]roleEntry),
		orgs:   make(map[string]orgEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) valid(fetched time.Time) bool {
	return c.now().Sub(fetched) < c.ttl
}

// UserInfo returns the user's identity and memberships, consulting the cache
// first. A user that does not exist is cached as a negative result so
// repeated lookups for invalid IDs do not hammer the identity store.
func (c *Cache) UserInfo(ctx context.Context, userID string) (*UserInfo, error) {
	c.mu.RLock()
	entry, ok := c.users[userID]
	c.mu.RUnlock()
	if ok && c.valid(entry.fetched) {
		return entry.info, nil
	}

	// Authoritative lookup happens outside the lock: a slow identity
	// store must not block concurrent readers.
	info, err := c.lookupUser(ctx, userID)
	if err != nil {
		if ok {
			c.logger.Warn("identity store unreachable, serving stale user info",
				"user_id", userID, "error", err)
			return entry.info, nil
		}
		return nil, err
	}

	now := c.now()
	c.mu.Lock()
	c.users[userID] = userEntry{info: info, fetched: now}
	for orgID, role := range info.Roles {
		c.roles[roleKey{userID, orgID}] = roleEntry{role: role, fetched: now}
		c.orgs[orgID] = orgEntry{exists: true, fetched: now}
	}
	c.mu.Unlock()

	return info, nil
}

func (c *Cache) lookupUser(ctx context.Context, userID string) (*UserInfo, error) {
	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return &UserInfo{Exists: false, Roles: map[string]string{}}, nil
	}

	memberships, err := c.store.GetUserOrganizations(ctx, userID)
	if err != nil {
		return nil, err
	}

	roles := make(map[string]string, len(memberships))
	for _, m := range memberships {
		roles[m.OrganizationID] = m.Role
	}

	return &UserInfo{
		User:          *user,
		Organizations: memberships,
		Roles:         roles,
		Exists:        true,
	}, nil
}

// Role returns the user's role in the organization, or "" when the user is
// not a member. The user-info cache is consulted before falling back to a
// direct role query.
func (c *Cache) Role(ctx context.Context, userID, organizationID string) (string, error) {
	key := roleKey{userID, organizationID}

	c.mu.RLock()
	entry, ok := c.roles[key]
	c.mu.RUnlock()
	if ok && c.valid(entry.fetched) {
		return entry.role, nil
	}

	if info, err := c.UserInfo(ctx, userID); err == nil && info.Exists {
		if role, found := info.Roles[organizationID]; found {
			return role, nil
		}
	}

	role, err := c.store.GetRole(ctx, userID, organizationID)
	if err != nil {
		if ok {
			c.logger.Warn("identity store unreachable, serving stale role",
				"user_id", userID, "organization_id", organizationID, "error", err)
			return entry.role, nil
		}
		return "", err
	}
	if role == "" {
		c.logger.Warn("no role found for user in organization",
			"user_id", userID, "organization_id", organizationID)
	}

	c.mu.Lock()
	c.roles[key] = roleEntry{role: role, fetched: c.now()}
	c.mu.Unlock()

	return role, nil
}

// VerifyAccess reports whether the user holds at least requiredRole in the
// organization. A store failure denies access rather than failing open.
func (c *Cache) VerifyAccess(ctx context.Context, userID, organizationID, requiredRole string) bool {
	role, err := c.Role(ctx, userID, organizationID)
	if err != nil || role == "" {
		return false
	}
	if requiredRole == repository.RoleAdmin {
		return role == repository.RoleAdmin
	}
	return role == repository.RoleUser || role == repository.RoleAdmin
}

// IsAdmin reports whether the user holds ADMIN in the organization.
func (c *Cache) IsAdmin(ctx context.Context, userID, organizationID string) bool {
	role, err := c.Role(ctx, userID, organizationID)
	return err == nil && role == repository.RoleAdmin
}

// UserExists reports whether the user exists, cache preferred.
func (c *Cache) UserExists(ctx context.Context, userID string) bool {
	info, err := c.UserInfo(ctx, userID)
	return err == nil && info.Exists
}

// OrganizationExists reports whether the organization exists, cache preferred.
func (c *Cache) OrganizationExists(ctx context.Context, organizationID string) bool {
	c.mu.RLock()
	entry, ok := c.orgs[organizationID]
	c.mu.RUnlock()
	if ok && c.valid(entry.fetched) {
		return entry.exists
	}

	exists, err := c.store.OrganizationExists(ctx, organizationID)
	if err != nil {
		if ok {
			return entry.exists
		}
		return false
	}

	c.mu.Lock()
	c.orgs[organizationID] = orgEntry{exists: exists, fetched: c.now()}
	c.mu.Unlock()

	return exists
}

// Invalidate clears cached entries. With both arguments set it clears the
// single (user, organization) role; with only userID it clears that user's
// info and all their roles; with only organizationID it clears that
// organization and every role scoped to it; with neither it flushes
// everything.
func (c *Cache) Invalidate(userID, organizationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case userID != "" && organizationID != "":
		delete(c.roles, roleKey{userID, organizationID})
	case userID != "":
		delete(c.users, userID)
		for key := range c.roles {
			if key.userID == userID {
				delete(c.roles, key)
			}
		}
	case organizationID != "":
		delete(c.orgs, organizationID)
		for key := range c.roles {
			if key.organizationID == organizationID {
				delete(c.roles, key)
			}
		}
	default:
		c.users = make(map[string]userEntry)
		c.roles = make(map[roleKey]roleEntry)
		c.orgs = make(map[string]orgEntry)
	}
}
