package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/docuseek/rag/internal/repository"
)

type fakeIdentityStore struct {
	users       map[string]*repository.User
	memberships map[string][]repository.OrganizationMembership
	orgs        map[string]bool

	getUserCalls int
	getRoleCalls int
	orgCalls     int
	fail         bool
}

func (f *fakeIdentityStore) GetUser(ctx context.Context, userID string) (*repository.User, error) {
	f.getUserCalls++
	if f.fail {
		return nil, errors.New("identity db down")
	}
	return f.users[userID], nil
}

func (f *fakeIdentityStore) GetUserOrganizations(ctx context.Context, userID string) ([]repository.OrganizationMembership, error) {
	if f.fail {
		return nil, errors.New("identity db down")
	}
	return f.memberships[userID], nil
}

func (f *fakeIdentityStore) GetRole(ctx context.Context, userID, organizationID string) (string, error) {
	f.getRoleCalls++
	if f.fail {
		return "", errors.New("identity db down")
	}
	for _, m := range f.memberships[userID] {
		if m.OrganizationID == organizationID {
			return m.Role, nil
		}
	}
	return "", nil
}

func (f *fakeIdentityStore) OrganizationExists(ctx context.Context, organizationID string) (bool, error) {
	f.orgCalls++
	if f.fail {
		return false, errors.New("identity db down")
	}
	return f.orgs[organizationID], nil
}

func newFakeStore() *fakeIdentityStore {
	return &fakeIdentityStore{
		users: map[string]*repository.User{
			"alice": {ID: "alice", Email: "alice@example.com"},
			"bob":   {ID: "bob", Email: "bob@example.com"},
		},
		memberships: map[string][]repository.OrganizationMembership{
			"alice": {{OrganizationID: "acme", OrganizationName: "Acme", Role: repository.RoleAdmin}},
			"bob":   {{OrganizationID: "acme", OrganizationName: "Acme", Role: repository.RoleUser}},
		},
		orgs: map[string]bool{"acme": true},
	}
}

func TestCacheServesRepeatLookupsWithoutStoreCalls(t *testing.T) {
	store := newFakeStore()
	cache := NewCache(store)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		info, err := cache.UserInfo(ctx, "alice")
		if err != nil {
			t.Fatalf("UserInfo: %v", err)
		}
		if !info.Exists {
			t.Fatal("expected alice to exist")
		}
	}
	if store.getUserCalls != 1 {
		t.Errorf("expected 1 store call for repeated lookups, got %d", store.getUserCalls)
	}
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	cache := NewCache(store,
		WithTTL(300*time.Second),
		WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if _, err := cache.UserInfo(ctx, "alice"); err != nil {
		t.Fatalf("UserInfo: %v", err)
	}

	now = now.Add(299 * time.Second)
	if _, err := cache.UserInfo(ctx, "alice"); err != nil {
		t.Fatalf("UserInfo: %v", err)
	}
	if store.getUserCalls != 1 {
		t.Errorf("lookup inside TTL hit the store: %d calls", store.getUserCalls)
	}

	now = now.Add(2 * time.Second)
	if _, err := cache.UserInfo(ctx, "alice"); err != nil {
		t.Fatalf("UserInfo: %v", err)
	}
	if store.getUserCalls != 2 {
		t.Errorf("lookup past TTL did not refresh: %d calls", store.getUserCalls)
	}
}

func TestCacheNegativeResult(t *testing.T) {
	store := newFakeStore()
	cache := NewCache(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		info, err := cache.UserInfo(ctx, "ghost")
		if err != nil {
			t.Fatalf("UserInfo: %v", err)
		}
		if info.Exists {
			t.Fatal("expected ghost to not exist")
		}
	}
	if store.getUserCalls != 1 {
		t.Errorf("negative result not cached: %d store calls", store.getUserCalls)
	}
}

func TestRolePopulatedFromUserInfo(t *testing.T) {
	store := newFakeStore()
	cache := NewCache(store)
	ctx := context.Background()

	if _, err := cache.UserInfo(ctx, "alice"); err != nil {
		t.Fatalf("UserInfo: %v", err)
	}
	role, err := cache.Role(ctx, "alice", "acme")
	if err != nil {
		t.Fatalf("Role: %v", err)
	}
	if role != repository.RoleAdmin {
		t.Errorf("role = %q, want %q", role, repository.RoleAdmin)
	}
	if store.getRoleCalls != 0 {
		t.Errorf("role lookup hit the store despite populated user info: %d calls", store.getRoleCalls)
	}
}

func TestVerifyAccess(t *testing.T) {
	store := newFakeStore()
	cache := NewCache(store)
	ctx := context.Background()

	cases := []struct {
		name     string
		user     string
		org      string
		required string
		want     bool
	}{
		{"admin meets admin", "alice", "acme", repository.RoleAdmin, true},
		{"admin meets user", "alice", "acme", repository.RoleUser, true},
		{"user meets user", "bob", "acme", repository.RoleUser, true},
		{"user fails admin", "bob", "acme", repository.RoleAdmin, false},
		{"non-member denied", "alice", "other", repository.RoleUser, false},
		{"unknown user denied", "ghost", "acme", repository.RoleUser, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := cache.VerifyAccess(ctx, tc.user, tc.org, tc.required); got != tc.want {
				t.Errorf("VerifyAccess(%s, %s, %s) = %v, want %v",
					tc.user, tc.org, tc.required, got, tc.want)
			}
		})
	}
}

func TestStaleServedWhenStoreDown(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	cache := NewCache(store,
		WithTTL(300*time.Second),
		WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if role, _ := cache.Role(ctx, "alice", "acme"); role != repository.RoleAdmin {
		t.Fatalf("warm-up role = %q", role)
	}

	now = now.Add(301 * time.Second)
	store.fail = true

	role, err := cache.Role(ctx, "alice", "acme")
	if err != nil {
		t.Fatalf("expected stale role, got error: %v", err)
	}
	if role != repository.RoleAdmin {
		t.Errorf("stale role = %q, want %q", role, repository.RoleAdmin)
	}
}

func TestStoreDownWithoutCacheDeniesAccess(t *testing.T) {
	store := newFakeStore()
	store.fail = true
	cache := NewCache(store)
	ctx := context.Background()

	if cache.VerifyAccess(ctx, "alice", "acme", repository.RoleUser) {
		t.Error("access granted with no cached entry and store down")
	}
	if _, err := cache.Role(ctx, "alice", "acme"); err == nil {
		t.Error("expected error from cold lookup with store down")
	}
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()

	t.Run("single pair", func(t *testing.T) {
		store := newFakeStore()
		cache := NewCache(store)
		if _, err := cache.Role(ctx, "alice", "acme"); err != nil {
			t.Fatal(err)
		}
		calls := store.getUserCalls + store.getRoleCalls

		cache.Invalidate("alice", "acme")
		// User info is still cached, so the role is repopulated from it.
		if _, err := cache.Role(ctx, "alice", "acme"); err != nil {
			t.Fatal(err)
		}
		if got := store.getUserCalls + store.getRoleCalls; got != calls {
			t.Errorf("pair invalidation should refill from cached user info, calls %d -> %d", calls, got)
		}
	})

	t.Run("whole user", func(t *testing.T) {
		store := newFakeStore()
		cache := NewCache(store)
		if _, err := cache.UserInfo(ctx, "alice"); err != nil {
			t.Fatal(err)
		}
		cache.Invalidate("alice", "")
		if _, err := cache.UserInfo(ctx, "alice"); err != nil {
			t.Fatal(err)
		}
		if store.getUserCalls != 2 {
			t.Errorf("user invalidation did not force refetch: %d calls", store.getUserCalls)
		}
	})

	t.Run("whole organization", func(t *testing.T) {
		store := newFakeStore()
		cache := NewCache(store)
		if !cache.OrganizationExists(ctx, "acme") {
			t.Fatal("expected acme to exist")
		}
		cache.Invalidate("", "acme")
		if !cache.OrganizationExists(ctx, "acme") {
			t.Fatal("expected acme to exist after invalidation")
		}
		if store.orgCalls != 2 {
			t.Errorf("organization invalidation did not force refetch: %d calls", store.orgCalls)
		}
	})

	t.Run("full flush", func(t *testing.T) {
		store := newFakeStore()
		cache := NewCache(store)
		if _, err := cache.UserInfo(ctx, "alice"); err != nil {
			t.Fatal(err)
		}
		if _, err := cache.UserInfo(ctx, "bob"); err != nil {
			t.Fatal(err)
		}
		cache.Invalidate("", "")
		if _, err := cache.UserInfo(ctx, "alice"); err != nil {
			t.Fatal(err)
		}
		if store.getUserCalls != 3 {
			t.Errorf("full flush did not clear entries: %d calls", store.getUserCalls)
		}
	})
}
