package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tourspot/authcore/internal/models"
	"github.com/tourspot/authcore/internal/service"
)

type principalContextKey struct{}

// AccessValidator is the part of the token manager the middleware needs.
type AccessValidator interface {
	ValidateAccess(ctx context.Context, token string) (*models.Claims, error)
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *models.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the principal installed by Authenticate, if any.
func PrincipalFromContext(ctx context.Context) (*models.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*models.Principal)
	return p, ok && p != nil
}

// TokenExtractor finds the bearer token of a request: the Authorization
// header first, then the configured cookie.
type TokenExtractor struct {
	CookieName string
}

func (e TokenExtractor) Extract(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", false
		}
		token := strings.TrimSpace(parts[1])
		return token, token != ""
	}

	if e.CookieName != "" {
		if cookie, err := r.Cookie(e.CookieName); err == nil && cookie.Value != "" {
			return cookie.Value, true
		}
	}

	return "", false
}

type AuthMiddleware struct {
	validator AccessValidator
	extractor TokenExtractor
	logger    *logrus.Logger
}

func NewAuthMiddleware(validator AccessValidator, extractor TokenExtractor, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		extractor: extractor,
		logger:    logger,
	}
}

// Authenticate tries to identify the caller and never rejects a request. A
// principal is installed only for a valid access token, and only on this
// request's context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := m.extractor.Extract(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.validator.ValidateAccess(r.Context(), token)
		if err != nil {
			entry := m.logger.WithError(err).WithField("reason", failureReason(err))
			if errors.Is(err, service.ErrStoreUnavailable) {
				entry.Warn("Token validation failed closed")
			} else {
				entry.Debug("Token verification failed")
			}
			next.ServeHTTP(w, r)
			return
		}

		ctx := WithPrincipal(r.Context(), &models.Principal{
			Subject: claims.Subject,
			Roles:   claims.Roles,
		})

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth rejects requests that Authenticate left without a principal.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFromContext(r.Context()); !ok {
			respondUnauthorized(w, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, service.ErrRevoked):
		return "revoked"
	case errors.Is(err, service.ErrExpired):
		return "expired"
	case errors.Is(err, service.ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, service.ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, service.ErrMalformed):
		return "malformed"
	case errors.Is(err, service.ErrWrongKind):
		return "wrong_kind"
	case errors.Is(err, service.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "unknown"
	}
}

func respondUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"` + message + `"}}`))
}
