package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tourspot/authcore/internal/middleware"
	"github.com/tourspot/authcore/internal/models"
	"github.com/tourspot/authcore/internal/repository"
	"github.com/tourspot/authcore/internal/service"
)

// TokenService is the token lifecycle surface the handlers call into.
type TokenService interface {
	IssuePair(ctx context.Context, subject string, roles []string) (*models.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (string, error)
	Logout(ctx context.Context, accessToken string) error
	AccessWindow() time.Duration
}

// CredentialAuthenticator verifies login credentials.
type CredentialAuthenticator interface {
	Authenticate(ctx context.Context, username, password string) (*models.User, error)
}

// PrincipalResolver loads the full user record behind a token subject.
type PrincipalResolver interface {
	Resolve(ctx context.Context, subject string) (*models.User, error)
}

type AuthHandlers struct {
	tokens    TokenService
	creds     CredentialAuthenticator
	resolver  PrincipalResolver
	extractor middleware.TokenExtractor
	logger    *logrus.Logger
}

func NewAuthHandlers(
	tokens TokenService,
	creds CredentialAuthenticator,
	resolver PrincipalResolver,
	extractor middleware.TokenExtractor,
	logger *logrus.Logger,
) *AuthHandlers {
	return &AuthHandlers{
		tokens:    tokens,
		creds:     creds,
		resolver:  resolver,
		extractor: extractor,
		logger:    logger,
	}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type MeResponse struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Username and password are required")
		return
	}

	user, err := h.creds.Authenticate(r.Context(), username, req.Password)
	if errors.Is(err, repository.ErrInvalidCredentials) {
		h.respondWithError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to authenticate credentials")
		h.respondWithError(w, http.StatusInternalServerError, "AUTHENTICATION_FAILED", "Failed to authenticate")
		return
	}

	tokenPair, err := h.tokens.IssuePair(r.Context(), user.Username, user.Roles)
	if err != nil {
		h.respondWithTokenError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, tokenPair)
}

func (h *AuthHandlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if req.RefreshToken == "" {
		h.respondWithError(w, http.StatusBadRequest, "MISSING_TOKEN", "Refresh token is required")
		return
	}

	accessToken, err := h.tokens.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.respondWithTokenError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: req.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.tokens.AccessWindow().Seconds()),
	})
}

func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	accessToken, ok := h.extractor.Extract(r)
	if !ok {
		h.respondWithError(w, http.StatusBadRequest, "MISSING_TOKEN", "Access token is required")
		return
	}

	if err := h.tokens.Logout(r.Context(), accessToken); err != nil {
		if errors.Is(err, service.ErrStoreUnavailable) {
			h.logger.WithError(err).Warn("Logout could not record token revocation")
		}
		h.respondWithTokenError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"message": "Logged out successfully",
	})
}

func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	user, err := h.resolver.Resolve(r.Context(), principal.Subject)
	if errors.Is(err, repository.ErrUserNotFound) {
		h.respondWithError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to resolve principal")
		h.respondWithError(w, http.StatusInternalServerError, "USER_LOOKUP_FAILED", "Failed to load user")
		return
	}

	h.respondWithJSON(w, http.StatusOK, MeResponse{
		Username: user.Username,
		Roles:    principal.Roles,
	})
}

// tokenErrorStatus maps token core errors to a status and a stable code.
func tokenErrorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, service.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Token store unavailable, try again"
	case errors.Is(err, service.ErrExpired):
		return http.StatusUnauthorized, "TOKEN_EXPIRED", "Token has expired"
	case errors.Is(err, service.ErrSignatureInvalid):
		return http.StatusUnauthorized, "TOKEN_SIGNATURE_INVALID", "Token signature is invalid"
	case errors.Is(err, service.ErrUnsupportedFormat):
		return http.StatusUnauthorized, "TOKEN_UNSUPPORTED", "Token format is not supported"
	case errors.Is(err, service.ErrMalformed):
		return http.StatusUnauthorized, "TOKEN_MALFORMED", "Token is malformed"
	case errors.Is(err, service.ErrWrongKind):
		return http.StatusUnauthorized, "TOKEN_WRONG_KIND", "Token type not accepted here"
	case errors.Is(err, service.ErrRevoked):
		return http.StatusUnauthorized, "TOKEN_REVOKED", "Token has been revoked"
	case errors.Is(err, service.ErrStaleRefreshToken):
		return http.StatusUnauthorized, "REFRESH_TOKEN_STALE", "Refresh token is no longer valid"
	default:
		return http.StatusInternalServerError, "TOKEN_OPERATION_FAILED", "Token operation failed"
	}
}

func (h *AuthHandlers) respondWithTokenError(w http.ResponseWriter, err error) {
	status, code, message := tokenErrorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).Error("Token operation failed")
	}
	h.respondWithError(w, status, code, message)
}

func (h *AuthHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *AuthHandlers) respondWithError(w http.ResponseWriter, status int, code, message string) {
	h.respondWithJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}
