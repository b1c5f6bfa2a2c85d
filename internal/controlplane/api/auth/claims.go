// Package auth issues and validates the bearer tokens of the hostd
// control surface.
package auth

import "github.com/golang-jwt/jwt/v5"

// TokenType distinguishes access from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// RoleAdmin is the only role; the admin secret grants full control.
const RoleAdmin = "admin"

// Claims are the JWT claims of a control-surface token. The subject names
// the client that logged in.
type Claims struct {
	jwt.RegisteredClaims

	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}

func (c *Claims) IsAccessToken() bool  { return c.TokenType == TokenTypeAccess }
func (c *Claims) IsRefreshToken() bool { return c.TokenType == TokenTypeRefresh }
func (c *Claims) IsAdmin() bool        { return c.Role == RoleAdmin }
