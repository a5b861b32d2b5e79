package models

import "time"

// TokenKind tags a token as access or refresh. It is part of the signed payload.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

func (k TokenKind) Valid() bool {
	return k == TokenKindAccess || k == TokenKindRefresh
}

func (k TokenKind) String() string {
	return string(k)
}

// Claims is the decoded, verified content of a token.
type Claims struct {
	ID string
	// FamilyID links the access and refresh tokens issued as one pair.
	FamilyID string
	Subject  string
	// Roles is nil when the token carries no roles.
	Roles     []string
	Kind      TokenKind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Remaining returns the token lifetime left at now, never negative.
func (c *Claims) Remaining(now time.Time) time.Duration {
	if d := c.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Principal is the authenticated identity installed for a single request.
type Principal struct {
	Subject string
	Roles   []string
}
