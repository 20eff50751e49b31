package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/docuseek/rag/internal/repository"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// APIKeyHeader is the HTTP header for API key authentication
	APIKeyHeader = "X-Api-Key"

	principalContextKey contextKey = "principal"
)

// Principal is the authenticated caller stored in the request context.
type Principal struct {
	UserID         string
	OrganizationID string
	ViaAPIKey      bool
}

// PrincipalFromContext extracts the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	return p, ok
}

// WithPrincipal returns a context carrying the principal. Exposed for
// handler tests.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// HashAPIKey returns the SHA-256 hex digest of key material. Only hashes
// are stored and compared.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Middleware authenticates requests with either a Bearer JWT or an API key
// header and stores the resulting principal in the request context.
type Middleware struct {
	jwtManager *JWTManager
	apiKeys    repository.APIKeyRepository
	logger     *slog.Logger
}

// NewMiddleware creates the authentication middleware
func NewMiddleware(jwtManager *JWTManager, apiKeys repository.APIKeyRepository, logger *slog.Logger) *Middleware {
	return &Middleware{
		jwtManager: jwtManager,
		apiKeys:    apiKeys,
		logger:     logger,
	}
}

// Authenticate is a chi-compatible middleware. Requests without valid
// credentials get 401; the scheme is chosen by which credential is present,
// Bearer token first.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token := strings.TrimPrefix(header, "Bearer ")
			claims, err := m.jwtManager.ValidateToken(token)
			if err != nil {
				m.logger.Warn("rejected bearer token", "error", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			p := &Principal{UserID: claims.UserID, OrganizationID: claims.OrganizationID}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
			return
		}

		if key := r.Header.Get(APIKeyHeader); key != "" {
			p, err := m.resolveAPIKey(r.Context(), key)
			if err != nil {
				m.logger.Warn("rejected API key", "error", err)
				http.Error(w, "invalid API key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
			return
		}

		http.Error(w, "authentication required", http.StatusUnauthorized)
	})
}

var errKeyRejected = errors.New("API key rejected")

func (m *Middleware) resolveAPIKey(ctx context.Context, key string) (*Principal, error) {
	record, err := m.apiKeys.GetByHash(ctx, HashAPIKey(key))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errKeyRejected
		}
		return nil, err
	}
	if record.Revoked {
		return nil, errKeyRejected
	}
	if record.ExpiresAt != nil && record.ExpiresAt.Before(time.Now()) {
		return nil, errKeyRejected
	}
	return &Principal{UserID: record.UserID, ViaAPIKey: true}, nil
}
