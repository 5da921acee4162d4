package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/eldtechnologies/deskchat/internal/crypto"
	"github.com/eldtechnologies/deskchat/internal/models"
	"github.com/eldtechnologies/deskchat/internal/store"
)

type contextKey string

const (
	UserContextKey   contextKey = "user"
	ClaimsContextKey contextKey = "claims"
)

// AuthMiddleware verifies session tokens on authenticated endpoints.
type AuthMiddleware struct {
	tokens *crypto.TokenIssuer
	ds     store.DataStore
	redis  *store.RedisStore
}

// NewAuthMiddleware creates a new auth middleware. redis may be nil, in
// which case revoked tokens stay valid until they expire.
func NewAuthMiddleware(tokens *crypto.TokenIssuer, ds store.DataStore, redis *store.RedisStore) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, ds: ds, redis: redis}
}

// RequireAuth accepts a Bearer token, or a token query parameter for
// websocket upgrades where browsers cannot set headers.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			jsonError(w, http.StatusUnauthorized, "missing session token")
			return
		}

		claims, err := m.tokens.Parse(token)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		if m.redis != nil && m.redis.IsTokenRevoked(r.Context(), claims.ID) {
			jsonError(w, http.StatusUnauthorized, "session revoked")
			return
		}

		user, err := m.ds.GetUserByID(r.Context(), claims.UserID)
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, http.StatusUnauthorized, "user not found")
			return
		}
		if err != nil {
			jsonError(w, http.StatusInternalServerError, "database error")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		ctx = context.WithValue(ctx, ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": message})
}

// GetUserFromContext retrieves the authenticated user from the request context.
func GetUserFromContext(ctx context.Context) *models.User {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}

// GetClaimsFromContext retrieves the verified token claims.
func GetClaimsFromContext(ctx context.Context) *crypto.Claims {
	claims, ok := ctx.Value(ClaimsContextKey).(*crypto.Claims)
	if !ok {
		return nil
	}
	return claims
}
