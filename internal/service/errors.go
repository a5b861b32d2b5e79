package service

import (
	"errors"
	"fmt"

	"github.com/tourspot/authcore/internal/repository"
)

// Token errors are distinct so transport adapters can map each to its own
// code. Classify with errors.Is.
var (
	ErrMalformed = errors.New("token malformed")
	// ErrUnsupportedFormat also matches ErrMalformed.
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported token format", ErrMalformed)
	ErrSignatureInvalid  = errors.New("token signature invalid")
	ErrExpired           = errors.New("token expired")
	ErrWrongKind         = errors.New("token kind not accepted here")
	ErrRevoked           = errors.New("token revoked")
	ErrStaleRefreshToken = errors.New("refresh token stale or unknown")
	ErrStoreUnavailable  = repository.ErrStoreUnavailable
)
