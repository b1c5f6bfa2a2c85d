package handlers

import (
	"errors"
	"net/http"

	"github.com/marmos91/hostd/internal/controlplane/api/auth"
	"github.com/marmos91/hostd/internal/controlplane/api/middleware"
	"github.com/marmos91/hostd/internal/logger"
	"github.com/marmos91/hostd/pkg/controlplane/api/handlers"
)

// defaultSubject names clients that do not identify themselves at login.
const defaultSubject = "admin"

// AuthHandler exchanges the admin secret for bearer tokens.
type AuthHandler struct {
	secretHash string
	jwtService *auth.JWTService
}

// NewAuthHandler creates an AuthHandler checking logins against the bcrypt
// hash of the admin secret.
func NewAuthHandler(secretHash string, jwtService *auth.JWTService) *AuthHandler {
	return &AuthHandler{
		secretHash: secretHash,
		jwtService: jwtService,
	}
}

// TokenRequest is the request body for POST /api/v1/auth/token.
type TokenRequest struct {
	Secret string `json:"secret"`

	// Subject is recorded in the token; defaults to "admin".
	Subject string `json:"subject,omitempty"`
}

// RefreshRequest is the request body for POST /api/v1/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// MeResponse describes the caller's token.
type MeResponse struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

// Token handles POST /api/v1/auth/token.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Secret == "" {
		handlers.BadRequest(w, "Secret is required")
		return
	}

	if err := auth.CheckSecret(h.secretHash, req.Secret); err != nil {
		logger.WarnCtx(r.Context(), "login rejected")
		handlers.Unauthorized(w, "Invalid secret")
		return
	}

	subject := req.Subject
	if subject == "" {
		subject = defaultSubject
	}
	h.issue(w, subject)
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		handlers.BadRequest(w, "Refresh token is required")
		return
	}

	claims, err := h.jwtService.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			handlers.Unauthorized(w, "Refresh token has expired")
			return
		}
		handlers.Unauthorized(w, "Invalid refresh token")
		return
	}
	h.issue(w, claims.Subject)
}

// Me handles GET /api/v1/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		handlers.Unauthorized(w, "Authentication required")
		return
	}
	handlers.WriteJSONOK(w, MeResponse{Subject: claims.Subject, Role: claims.Role})
}

func (h *AuthHandler) issue(w http.ResponseWriter, subject string) {
	tokenPair, err := h.jwtService.GenerateTokenPair(subject)
	if err != nil {
		handlers.InternalServerError(w, "Failed to generate token")
		return
	}
	handlers.WriteJSONOK(w, tokenPair)
}
