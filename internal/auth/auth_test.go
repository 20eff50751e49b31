package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/docuseek/rag/internal/repository"
)

func TestJWTRoundTrip(t *testing.T) {
	m := NewJWTManager(DefaultJWTConfig("test-secret"))

	token, err := m.GenerateToken("alice", "acme")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != "alice" || claims.OrganizationID != "acme" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestJWTExpired(t *testing.T) {
	config := DefaultJWTConfig("test-secret")
	config.Expiry = -time.Minute
	m := NewJWTManager(config)

	token, err := m.GenerateToken("alice", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.ValidateToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestJWTWrongSecret(t *testing.T) {
	token, err := NewJWTManager(DefaultJWTConfig("secret-a")).GenerateToken("alice", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewJWTManager(DefaultJWTConfig("secret-b")).ValidateToken(token); err == nil {
		t.Error("token accepted with wrong secret")
	}
}

type stubKeyRepo struct {
	keys map[string]*repository.APIKey
}

func (s *stubKeyRepo) Create(ctx context.Context, key *repository.APIKey) error { return nil }
func (s *stubKeyRepo) Revoke(ctx context.Context, id uuid.UUID) error           { return nil }

func (s *stubKeyRepo) GetByHash(ctx context.Context, keyHash string) (*repository.APIKey, error) {
	key, ok := s.keys[keyHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return key, nil
}

func TestAuthenticateMiddleware(t *testing.T) {
	jwtManager := NewJWTManager(DefaultJWTConfig("test-secret"))
	expired := time.Now().Add(-time.Hour)
	keys := &stubKeyRepo{keys: map[string]*repository.APIKey{
		HashAPIKey("good-key"):    {UserID: "bob"},
		HashAPIKey("revoked-key"): {UserID: "bob", Revoked: true},
		HashAPIKey("expired-key"): {UserID: "bob", ExpiresAt: &expired},
	}}
	mw := NewMiddleware(jwtManager, keys, slog.Default())

	var got *Principal
	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFromContext(r.Context())
	}))

	token, err := jwtManager.GenerateToken("alice", "acme")
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name       string
		header     string
		value      string
		wantStatus int
		wantUser   string
	}{
		{"bearer token", "Authorization", "Bearer " + token, http.StatusOK, "alice"},
		{"bad bearer token", "Authorization", "Bearer garbage", http.StatusUnauthorized, ""},
		{"api key", APIKeyHeader, "good-key", http.StatusOK, "bob"},
		{"unknown api key", APIKeyHeader, "wrong-key", http.StatusUnauthorized, ""},
		{"revoked api key", APIKeyHeader, "revoked-key", http.StatusUnauthorized, ""},
		{"expired api key", APIKeyHeader, "expired-key", http.StatusUnauthorized, ""},
		{"no credentials", "", "", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got = nil
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if tc.wantUser != "" && (got == nil || got.UserID != tc.wantUser) {
				t.Errorf("principal = %+v, want user %q", got, tc.wantUser)
			}
		})
	}
}
