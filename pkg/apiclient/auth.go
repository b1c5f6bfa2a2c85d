package apiclient

import (
	"time"
)

// TokenRequest exchanges the admin secret for tokens.
type TokenRequest struct {
	Secret  string `json:"secret"`
	Subject string `json:"subject,omitempty"`
}

// TokenResponse represents the response from token/refresh endpoints.
type TokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"` // seconds
	ExpiresAt    time.Time `json:"expires_at"`
}

// ExpiresInDuration returns ExpiresIn as a time.Duration.
func (t *TokenResponse) ExpiresInDuration() time.Duration {
	return time.Duration(t.ExpiresIn) * time.Second
}

// MeResponse describes the current token.
type MeResponse struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

// Login exchanges the admin secret for a token pair.
func (c *Client) Login(secret, subject string) (*TokenResponse, error) {
	return createResource[TokenResponse](c, "/api/v1/auth/token", TokenRequest{Secret: secret, Subject: subject})
}

// RefreshToken refreshes the access token using the refresh token.
func (c *Client) RefreshToken(refreshToken string) (*TokenResponse, error) {
	req := struct {
		RefreshToken string `json:"refresh_token"`
	}{
		RefreshToken: refreshToken,
	}
	return createResource[TokenResponse](c, "/api/v1/auth/refresh", req)
}

// Me returns the subject of the current token.
func (c *Client) Me() (*MeResponse, error) {
	return getResource[MeResponse](c, "/api/v1/auth/me")
}
