package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for console tokens.
// Tokens are minted by the identity service; this process only verifies them.
// DisplayName is what the target sees as the caller; it is never logged.
type Claims struct {
	jwt.RegisteredClaims

	UserID      string    `json:"user_id"`
	DisplayName string    `json:"name,omitempty"`
	Role        string    `json:"role"`
	TokenType   TokenType `json:"token_type"`
}
