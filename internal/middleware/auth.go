// Package middleware provides HTTP middlewares for authentication and logging.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/zainulabideen041/storink/internal/models"
)

type ctxKey string

const claimsKey ctxKey = "claims"

// TokenVerifier validates a bearer token and returns its claims.
type TokenVerifier interface {
	Verify(token string) (models.Claims, error)
}

// BearerAuth rejects requests without a valid "Authorization: Bearer" token
// with 401. On success the token's claims are stored in the request context.
func BearerAuth(v TokenVerifier, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				writeError(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}
			claims, err := v.Verify(raw)
			if err != nil {
				log.Debug("rejected bearer token", zap.Error(err))
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireAdmin allows only callers whose claims carry the admin role.
// It must run after BearerAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := GetClaims(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing or invalid authorization header")
			return
		}
		if c.Role != models.RoleAdmin {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithClaims returns a copy of ctx carrying c.
func WithClaims(ctx context.Context, c models.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// GetClaims extracts the authenticated caller from ctx.
func GetClaims(ctx context.Context) (models.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(models.Claims)
	return c, ok
}

// CanAccess reports whether c may act on resources owned by ownerID.
func CanAccess(c models.Claims, ownerID string) bool {
	return c.Role == models.RoleAdmin || (c.ID != "" && c.ID == ownerID)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": msg})
}
