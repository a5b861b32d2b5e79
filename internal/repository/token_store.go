package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrStoreUnavailable marks a token store call that could not complete:
// network failure, timeout, or a cancelled context. It is never used for
// "not found".
var ErrStoreUnavailable = errors.New("token store unavailable")

// TokenStore keeps the per-subject refresh token registry and the access
// token revocation index. Every entry carries its own TTL.
type TokenStore interface {
	// PutRefresh unconditionally replaces the subject's registered refresh token.
	PutRefresh(ctx context.Context, subject, token string, ttl time.Duration) error
	// GetRefresh returns the registered refresh token, found is false when absent.
	GetRefresh(ctx context.Context, subject string) (token string, found bool, err error)
	DeleteRefresh(ctx context.Context, subject string) error
	// Revoke records token as revoked for ttl. Revoking an already revoked
	// token leaves the existing entry untouched.
	Revoke(ctx context.Context, token string, ttl time.Duration) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// tokenDigest keys revocation entries by hash so raw bearer strings never
// become store keys.
func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
