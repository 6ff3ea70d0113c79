package models

import "time"

// TokenType distinguishes where a signed token may be used.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// TokenPair is what login and reissue hand back to the caller.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// TokenClaims holds the trusted fields of a token whose signature verified.
type TokenClaims struct {
	Subject   string
	Type      TokenType
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
