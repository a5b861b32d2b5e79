package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tourspot/authcore/internal/config"
	"github.com/tourspot/authcore/internal/models"
	"github.com/tourspot/authcore/internal/repository"
)

// TokenManager issues, validates, refreshes and revokes access/refresh
// token pairs. Per token: issued, then active until it expires or, for
// access tokens only, is revoked. Refresh tokens are invalidated by
// replacing or deleting the subject's registry entry.
type TokenManager struct {
	codec        *ClaimsCodec
	store        repository.TokenStore
	storeTimeout time.Duration
	logger       *logrus.Logger
}

func NewTokenManager(codec *ClaimsCodec, store repository.TokenStore, cfg *config.JWTConfig, logger *logrus.Logger) *TokenManager {
	return &TokenManager{
		codec:        codec,
		store:        store,
		storeTimeout: cfg.StoreTimeout,
		logger:       logger,
	}
}

// AccessWindow is the lifetime of issued access tokens.
func (m *TokenManager) AccessWindow() time.Duration {
	return m.codec.Window(models.TokenKindAccess)
}

func (m *TokenManager) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.storeTimeout)
}

// IssuePair signs a new access/refresh pair for subject and registers the refresh
// token, superseding any refresh token issued to subject before.
func (m *TokenManager) IssuePair(ctx context.Context, subject string, roles []string) (*models.TokenPair, error) {
	familyID := uuid.New().String()

	accessToken, err := m.codec.EncodeInFamily(subject, roles, models.TokenKindAccess, familyID)
	if err != nil {
		return nil, err
	}

	refreshToken, err := m.codec.EncodeInFamily(subject, roles, models.TokenKindRefresh, familyID)
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := m.storeContext(ctx)
	defer cancel()

	if err := m.store.PutRefresh(storeCtx, subject, refreshToken, m.codec.Window(models.TokenKindRefresh)); err != nil {
		return nil, fmt.Errorf("failed to register refresh token: %w", err)
	}

	m.logger.WithField("subject", subject).Info("Issued token pair")

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(m.AccessWindow().Seconds()),
	}, nil
}

// ValidateAccess accepts only unrevoked, well-formed, unexpired access tokens.
// A store failure fails closed.
func (m *TokenManager) ValidateAccess(ctx context.Context, token string) (*models.Claims, error) {
	storeCtx, cancel := m.storeContext(ctx)
	defer cancel()

	revoked, err := m.store.IsRevoked(storeCtx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to check revocation: %w", err)
	}
	if revoked {
		return nil, ErrRevoked
	}

	claims, err := m.codec.Decode(token)
	if err != nil {
		return nil, err
	}

	if claims.Kind != models.TokenKindAccess {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrWrongKind, models.TokenKindAccess, claims.Kind)
	}

	return claims, nil
}

// Refresh exchanges the subject's registered refresh token for a new access token.
// The refresh token is not rotated and stays usable until it expires or the
// subject logs out or logs in again.
func (m *TokenManager) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := m.codec.Decode(refreshToken)
	if err != nil {
		return "", err
	}

	if claims.Kind != models.TokenKindRefresh {
		return "", fmt.Errorf("%w: expected %s, got %s", ErrWrongKind, models.TokenKindRefresh, claims.Kind)
	}

	storeCtx, cancel := m.storeContext(ctx)
	defer cancel()

	registered, found, err := m.store.GetRefresh(storeCtx, claims.Subject)
	if err != nil {
		return "", fmt.Errorf("failed to load refresh token: %w", err)
	}
	if !found || subtle.ConstantTimeCompare([]byte(registered), []byte(refreshToken)) != 1 {
		m.logger.WithField("subject", claims.Subject).Info("Rejected stale refresh token")
		return "", ErrStaleRefreshToken
	}

	return m.codec.EncodeInFamily(claims.Subject, claims.Roles, models.TokenKindAccess, claims.FamilyID)
}

// RevokeAccess blacklists accessToken for its remaining lifetime. Tokens that
// no longer decode are treated as already harmless. Store failures are
// returned since an unrecorded revocation leaves the token usable. The
// subject's refresh token is left alone; see Logout.
func (m *TokenManager) RevokeAccess(ctx context.Context, accessToken string) error {
	_, err := m.revoke(ctx, accessToken)
	return err
}

// Logout revokes accessToken and drops the subject's registered refresh token
// if it belongs to the same pair. A refresh token from a later login has
// another family and survives. Logout can be retried after a store failure
// until it succeeds.
func (m *TokenManager) Logout(ctx context.Context, accessToken string) error {
	claims, err := m.revoke(ctx, accessToken)
	if err != nil || claims == nil {
		return err
	}

	storeCtx, cancel := m.storeContext(ctx)
	defer cancel()

	registered, found, err := m.store.GetRefresh(storeCtx, claims.Subject)
	if err != nil {
		return fmt.Errorf("failed to load refresh token: %w", err)
	}
	if !found || m.familyOf(registered) != claims.FamilyID {
		return nil
	}

	if err := m.store.DeleteRefresh(storeCtx, claims.Subject); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}

	m.logger.WithField("subject", claims.Subject).Info("Logged out")

	return nil
}

// familyOf returns "" for a registered token that no longer decodes.
func (m *TokenManager) familyOf(refreshToken string) string {
	claims, err := m.codec.Decode(refreshToken)
	if err != nil {
		return ""
	}
	return claims.FamilyID
}

// revoke returns nil claims and no error for a token that does not decode.
func (m *TokenManager) revoke(ctx context.Context, accessToken string) (*models.Claims, error) {
	claims, err := m.codec.Decode(accessToken)
	if err != nil {
		m.logger.WithError(err).Debug("Skipping revocation of undecodable token")
		return nil, nil
	}

	if claims.Kind != models.TokenKindAccess {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrWrongKind, models.TokenKindAccess, claims.Kind)
	}

	storeCtx, cancel := m.storeContext(ctx)
	defer cancel()

	revoked, err := m.store.IsRevoked(storeCtx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to check revocation: %w", err)
	}
	if revoked {
		return claims, nil
	}

	// An already expired token needs no blacklist entry.
	if remaining := claims.Remaining(m.codec.Now()); remaining > 0 {
		if err := m.store.Revoke(storeCtx, accessToken, remaining); err != nil {
			return nil, fmt.Errorf("failed to revoke access token: %w", err)
		}
	}

	m.logger.WithField("subject", claims.Subject).Info("Revoked access token")

	return claims, nil
}
