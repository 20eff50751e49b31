package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/docuseek/rag/internal/embedder"
	"github.com/docuseek/rag/internal/identity"
	"github.com/docuseek/rag/internal/repository"
	"github.com/docuseek/rag/internal/vectorstore"
)

type memCollectionRepo struct {
	byName     map[string]*repository.Collection
	failCreate bool
}

func newMemCollectionRepo() *memCollectionRepo {
	return &memCollectionRepo{byName: map[string]*repository.Collection{}}
}

func (m *memCollectionRepo) Create(ctx context.Context, c *repository.Collection) error {
	if m.failCreate {
		return errors.New("insert failed")
	}
	m.byName[c.Name] = c
	return nil
}

func (m *memCollectionRepo) GetByName(ctx context.Context, name string) (*repository.Collection, error) {
	c, ok := m.byName[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

func (m *memCollectionRepo) ListForUser(ctx context.Context, userID, organizationID string) ([]*repository.Collection, error) {
	var out []*repository.Collection
	for _, c := range m.byName {
		if c.IsPersonal && c.UserID == userID {
			out = append(out, c)
		}
		if !c.IsPersonal && organizationID != "" && c.OrganizationID == organizationID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memCollectionRepo) Delete(ctx context.Context, name string, organizationID string, isPersonal bool) error {
	if _, ok := m.byName[name]; !ok {
		return repository.ErrNotFound
	}
	delete(m.byName, name)
	return nil
}

type stubIdentityStore struct {
	users map[string][]repository.OrganizationMembership
}

func (s *stubIdentityStore) GetUser(ctx context.Context, userID string) (*repository.User, error) {
	if _, ok := s.users[userID]; !ok {
		return nil, nil
	}
	return &repository.User{ID: userID}, nil
}

func (s *stubIdentityStore) GetUserOrganizations(ctx context.Context, userID string) ([]repository.OrganizationMembership, error) {
	return s.users[userID], nil
}

func (s *stubIdentityStore) GetRole(ctx context.Context, userID, organizationID string) (string, error) {
	for _, m := range s.users[userID] {
		if m.OrganizationID == organizationID {
			return m.Role, nil
		}
	}
	return "", nil
}

func (s *stubIdentityStore) OrganizationExists(ctx context.Context, organizationID string) (bool, error) {
	return true, nil
}

type stubVectorStore struct {
	vectorstore.VectorStore
	created []string
	deleted []string
}

func (s *stubVectorStore) CreateCollection(ctx context.Context, name string, denseDim, lateDim int) error {
	s.created = append(s.created, name)
	return nil
}

func (s *stubVectorStore) DeleteCollection(ctx context.Context, name string) error {
	s.deleted = append(s.deleted, name)
	return nil
}

type stubEmbedder struct {
	embedder.Embedder
}

func (stubEmbedder) DenseDimension() int { return 384 }
func (stubEmbedder) LateDimension() int  { return 128 }

func newTestCollectionService(repo *memCollectionRepo, store *stubVectorStore) *CollectionService {
	idStore := &stubIdentityStore{users: map[string][]repository.OrganizationMembership{
		"owner":   {{OrganizationID: "acme", Role: repository.RoleUser}},
		"member":  {{OrganizationID: "acme", Role: repository.RoleUser}},
		"admin":   {{OrganizationID: "acme", Role: repository.RoleAdmin}},
		"outside": {{OrganizationID: "other", Role: repository.RoleUser}},
	}}
	return NewCollectionService(repo, store, stubEmbedder{}, identity.NewCache(idStore), slog.Default())
}

func TestPersonalCollectionAccess(t *testing.T) {
	svc := newTestCollectionService(newMemCollectionRepo(), &stubVectorStore{})
	ctx := context.Background()
	personal := &repository.Collection{Name: "owner-notes", UserID: "owner", IsPersonal: true}

	if !svc.CanRead(ctx, "owner", personal) || !svc.CanWrite(ctx, "owner", personal) {
		t.Error("owner denied access to their personal collection")
	}
	// Not even an organization admin can see someone else's personal data.
	if svc.CanRead(ctx, "admin", personal) || svc.CanWrite(ctx, "admin", personal) {
		t.Error("non-owner granted access to a personal collection")
	}
}

func TestOrganizationCollectionAccess(t *testing.T) {
	svc := newTestCollectionService(newMemCollectionRepo(), &stubVectorStore{})
	ctx := context.Background()
	shared := &repository.Collection{Name: "acme-docs", UserID: "owner", OrganizationID: "acme"}

	cases := []struct {
		user      string
		wantRead  bool
		wantWrite bool
	}{
		{"owner", true, true},   // creator
		{"member", true, false}, // plain member
		{"admin", true, true},   // organization admin
		{"outside", false, false},
		{"ghost", false, false},
	}
	for _, tc := range cases {
		if got := svc.CanRead(ctx, tc.user, shared); got != tc.wantRead {
			t.Errorf("CanRead(%s) = %v, want %v", tc.user, got, tc.wantRead)
		}
		if got := svc.CanWrite(ctx, tc.user, shared); got != tc.wantWrite {
			t.Errorf("CanWrite(%s) = %v, want %v", tc.user, got, tc.wantWrite)
		}
	}
}

func TestCheckAccessByName(t *testing.T) {
	ctx := context.Background()
	repo := newMemCollectionRepo()
	svc := newTestCollectionService(repo, &stubVectorStore{})

	repo.byName["alpha"] = &repository.Collection{Name: "alpha", UserID: "owner", IsPersonal: true}
	repo.byName["acme-docs"] = &repository.Collection{Name: "acme-docs", UserID: "owner", OrganizationID: "acme"}

	cases := []struct {
		name           string
		user           string
		collection     string
		organizationID string
		perm           Permission
		want           bool
	}{
		{"owner reads own personal", "owner", "alpha", "", PermissionRead, true},
		{"non-owner denied personal", "member", "alpha", "", PermissionRead, false},
		{"member reads org collection", "member", "acme-docs", "acme", PermissionRead, true},
		{"member cannot delete org collection", "member", "acme-docs", "acme", PermissionDelete, false},
		{"creator writes org collection", "owner", "acme-docs", "acme", PermissionWrite, true},
		{"admin deletes org collection", "admin", "acme-docs", "acme", PermissionDelete, true},
		{"mismatched organization denied", "member", "acme-docs", "other", PermissionRead, false},
		{"unknown collection denied", "owner", "no-such", "", PermissionRead, false},
		{"unknown collection denied write", "admin", "no-such", "acme", PermissionWrite, false},
	}
	for _, tc := range cases {
		if got := svc.CheckAccess(ctx, tc.user, tc.collection, tc.organizationID, tc.perm); got != tc.want {
			t.Errorf("%s: CheckAccess = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCreateCollection(t *testing.T) {
	ctx := context.Background()

	t.Run("personal", func(t *testing.T) {
		repo := newMemCollectionRepo()
		store := &stubVectorStore{}
		svc := newTestCollectionService(repo, store)

		c, err := svc.Create(ctx, "owner", "", "owner-notes", true)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if !c.IsPersonal || c.OrganizationID != "" {
			t.Errorf("personal collection mis-recorded: %+v", c)
		}
		if len(store.created) != 1 || store.created[0] != "owner-notes" {
			t.Errorf("vector collection not created: %v", store.created)
		}
	})

	t.Run("organization requires membership", func(t *testing.T) {
		svc := newTestCollectionService(newMemCollectionRepo(), &stubVectorStore{})
		if _, err := svc.Create(ctx, "outside", "acme", "acme-docs", false); !errors.Is(err, ErrPermissionDenied) {
			t.Errorf("expected ErrPermissionDenied, got %v", err)
		}
	})

	t.Run("duplicate name", func(t *testing.T) {
		repo := newMemCollectionRepo()
		svc := newTestCollectionService(repo, &stubVectorStore{})
		if _, err := svc.Create(ctx, "owner", "", "dup", true); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.Create(ctx, "owner", "", "dup", true); !errors.Is(err, ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("rollback on record failure", func(t *testing.T) {
		repo := newMemCollectionRepo()
		repo.failCreate = true
		store := &stubVectorStore{}
		svc := newTestCollectionService(repo, store)

		if _, err := svc.Create(ctx, "owner", "", "doomed", true); err == nil {
			t.Fatal("expected error")
		}
		if len(store.deleted) != 1 || store.deleted[0] != "doomed" {
			t.Errorf("vector collection not rolled back: %v", store.deleted)
		}
	})
}

func TestDeleteCollectionPermissions(t *testing.T) {
	ctx := context.Background()
	repo := newMemCollectionRepo()
	store := &stubVectorStore{}
	svc := newTestCollectionService(repo, store)

	repo.byName["acme-docs"] = &repository.Collection{
		Name: "acme-docs", UserID: "owner", OrganizationID: "acme",
	}

	if err := svc.Delete(ctx, "member", "acme-docs"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("plain member deleted an organization collection: %v", err)
	}
	if err := svc.Delete(ctx, "admin", "acme-docs"); err != nil {
		t.Errorf("admin delete failed: %v", err)
	}
	if len(store.deleted) != 1 {
		t.Errorf("vector collection not deleted: %v", store.deleted)
	}
	if err := svc.Delete(ctx, "admin", "acme-docs"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing collection, got %v", err)
	}
}

func TestListFallsBackToPersonalForNonMembers(t *testing.T) {
	ctx := context.Background()
	repo := newMemCollectionRepo()
	svc := newTestCollectionService(repo, &stubVectorStore{})

	repo.byName["mine"] = &repository.Collection{Name: "mine", UserID: "outside", IsPersonal: true}
	repo.byName["acme-docs"] = &repository.Collection{Name: "acme-docs", UserID: "owner", OrganizationID: "acme"}

	got, err := svc.List(ctx, "outside", "acme")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].Name != "mine" {
		t.Errorf("non-member list = %v, want only personal collections", names(got))
	}
}

func names(cs []*repository.Collection) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Name
	}
	return out
}
