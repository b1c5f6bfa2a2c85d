// Package middleware holds the HTTP middleware of the control surface.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/marmos91/hostd/internal/controlplane/api/auth"
	"github.com/marmos91/hostd/pkg/controlplane/api/handlers"
	"github.com/marmos91/hostd/internal/logger"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// GetClaimsFromContext returns the claims set by JWTAuth, or nil.
func GetClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsContextKey).(*auth.Claims)
	return claims
}

// JWTAuth rejects requests without a valid access token.
func JWTAuth(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := extractBearerToken(r)
			if !ok {
				handlers.Unauthorized(w, "Missing or malformed Authorization header")
				return
			}

			claims, err := jwtService.ValidateAccessToken(token)
			if err != nil {
				detail := "Invalid token"
				if errors.Is(err, auth.ErrExpiredToken) {
					detail = "Token has expired"
				}
				logger.DebugCtx(r.Context(), "token rejected", logger.KeyError, err)
				handlers.Unauthorized(w, detail)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalJWTAuth sets claims when a valid access token is present and
// passes every request through.
func OptionalJWTAuth(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, ok := extractBearerToken(r); ok {
				if claims, err := jwtService.ValidateAccessToken(token); err == nil {
					r = r.WithContext(context.WithValue(r.Context(), claimsContextKey, claims))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin must run after JWTAuth.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromContext(r.Context())
			if claims == nil {
				handlers.Unauthorized(w, "Authentication required")
				return
			}
			if !claims.IsAdmin() {
				handlers.Forbidden(w, "Admin role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractBearerToken reads "Authorization: Bearer <token>"; the scheme is
// case-insensitive.
func extractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}
