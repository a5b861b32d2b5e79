package service

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tourspot/authcore/internal/config"
	"github.com/tourspot/authcore/internal/models"
)

// MinKeyLength is the minimum HS256 key size in bytes, after decoding.
const MinKeyLength = 32

const rolesSeparator = ","

var errUnexpectedAlg = errors.New("unexpected signing method")

// tokenClaims is the signed wire payload.
type tokenClaims struct {
	Roles  string           `json:"roles"`
	Kind   models.TokenKind `json:"kind"`
	Family string           `json:"fid"`
	jwt.RegisteredClaims
}

// ClaimsCodec signs and verifies token claims with a key loaded once at
// construction. It holds no mutable state and is safe for concurrent use.
type ClaimsCodec struct {
	secretKey     []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	logger        *logrus.Logger
	now           func() time.Time
}

func NewClaimsCodec(cfg *config.JWTConfig, logger *logrus.Logger) (*ClaimsCodec, error) {
	if cfg.AccessExpiry <= 0 || cfg.RefreshExpiry <= 0 {
		return nil, fmt.Errorf("token windows must be positive")
	}

	secretKey, err := loadSigningKey(cfg.SecretKey, logger)
	if err != nil {
		return nil, err
	}

	return &ClaimsCodec{
		secretKey:     secretKey,
		accessExpiry:  cfg.AccessExpiry,
		refreshExpiry: cfg.RefreshExpiry,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// loadSigningKey decodes a Base64 secret, falling back to the raw bytes when
// the secret is not Base64 or decodes to a key that is too short.
func loadSigningKey(secret string, logger *logrus.Logger) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("signing secret is empty")
	}

	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		key, err = base64.URLEncoding.DecodeString(secret)
	}
	switch {
	case err != nil:
		logger.Warn("JWT secret is not valid Base64, using raw secret bytes as signing key")
		key = []byte(secret)
	case len(key) < MinKeyLength && len(secret) >= MinKeyLength:
		// e.g. a hex string, which is also valid Base64
		logger.WithField("decoded_length", len(key)).Warn("JWT secret decodes to a short key, using raw secret bytes as signing key")
		key = []byte(secret)
	}

	if len(key) < MinKeyLength {
		return nil, fmt.Errorf("signing key must be at least %d bytes, got %d", MinKeyLength, len(key))
	}

	return key, nil
}

// Window returns the configured lifetime for kind.
func (c *ClaimsCodec) Window(kind models.TokenKind) time.Duration {
	if kind == models.TokenKindRefresh {
		return c.refreshExpiry
	}
	return c.accessExpiry
}

// Now is the clock the codec stamps and validates tokens with.
func (c *ClaimsCodec) Now() time.Time {
	return c.now()
}

// Encode signs a token that starts a new family.
func (c *ClaimsCodec) Encode(subject string, roles []string, kind models.TokenKind) (string, error) {
	return c.EncodeInFamily(subject, roles, kind, uuid.New().String())
}

// EncodeInFamily signs a token belonging to familyID. The access and refresh
// tokens of one pair share a family, as do access tokens refreshed from it.
func (c *ClaimsCodec) EncodeInFamily(subject string, roles []string, kind models.TokenKind, familyID string) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("invalid token kind %q", kind)
	}
	if subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	if familyID == "" {
		return "", fmt.Errorf("family id is required")
	}
	for _, role := range roles {
		if role == "" || strings.Contains(role, rolesSeparator) {
			return "", fmt.Errorf("invalid role %q", role)
		}
	}

	now := c.now()
	claims := &tokenClaims{
		Roles:  strings.Join(roles, rolesSeparator),
		Kind:   kind,
		Family: familyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.Window(kind))),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secretKey)
	if err != nil {
		c.logger.WithError(err).WithField("kind", kind).Error("Failed to sign token")
		return "", fmt.Errorf("failed to sign %s token: %w", kind, err)
	}

	return signed, nil
}

func (c *ClaimsCodec) Decode(tokenString string) (*models.Claims, error) {
	parser := jwt.NewParser(
		jwt.WithStrictDecoding(),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)

	claims := &tokenClaims{}
	_, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("%w: %v", errUnexpectedAlg, token.Header["alg"])
		}
		return c.secretKey, nil
	})
	if err != nil {
		return nil, classifyParseError(err)
	}

	if !claims.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown token kind %q", ErrMalformed, claims.Kind)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrMalformed)
	}
	if claims.Family == "" {
		return nil, fmt.Errorf("%w: missing family id", ErrMalformed)
	}

	return &models.Claims{
		ID:        claims.ID,
		FamilyID:  claims.Family,
		Subject:   claims.Subject,
		Roles:     splitRoles(claims.Roles),
		Kind:      claims.Kind,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// classifyParseError maps jwt parser failures onto the codec error kinds.
// Signature is verified before claims, so a tampered expired token reports
// ErrSignatureInvalid.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

// splitRoles maps an empty field to nil; encoding nil or an empty slice is
// indistinguishable on the wire.
func splitRoles(roles string) []string {
	if roles == "" {
		return nil
	}
	return strings.Split(roles, rolesSeparator)
}

// GenerateSecretKey returns a random 256-bit key, Base64 encoded.
func GenerateSecretKey() (string, error) {
	key := make([]byte, MinKeyLength)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
