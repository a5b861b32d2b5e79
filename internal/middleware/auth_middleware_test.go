package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tourspot/authcore/internal/models"
	"github.com/tourspot/authcore/internal/service"
)

// stubValidator accepts "good-<subject>" tokens and fails everything else
// with the error registered for it.
type stubValidator struct {
	mu     sync.Mutex
	errs   map[string]error
	tokens []string
}

func (v *stubValidator) ValidateAccess(_ context.Context, token string) (*models.Claims, error) {
	v.mu.Lock()
	v.tokens = append(v.tokens, token)
	v.mu.Unlock()

	if err, ok := v.errs[token]; ok {
		return nil, err
	}
	if len(token) > 5 && token[:5] == "good-" {
		return &models.Claims{
			Subject: token[5:],
			Roles:   []string{"ROLE_USER"},
			Kind:    models.TokenKindAccess,
		}, nil
	}
	return nil, service.ErrMalformed
}

func newTestMiddleware(v *stubValidator) (*AuthMiddleware, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return NewAuthMiddleware(v, TokenExtractor{CookieName: "access_token"}, logger), hook
}

// principalEcho writes the principal subject, or "anonymous".
var principalEcho = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if p, ok := PrincipalFromContext(r.Context()); ok {
		fmt.Fprint(w, p.Subject)
		return
	}
	fmt.Fprint(w, "anonymous")
})

func TestTokenExtractor(t *testing.T) {
	extractor := TokenExtractor{CookieName: "access_token"}

	cases := []struct {
		name   string
		header string
		cookie string
		want   string
		found  bool
	}{
		{name: "bearer header", header: "Bearer abc", want: "abc", found: true},
		{name: "scheme is case insensitive", header: "bearer abc", want: "abc", found: true},
		{name: "header wins over cookie", header: "Bearer abc", cookie: "xyz", want: "abc", found: true},
		{name: "cookie fallback", cookie: "xyz", want: "xyz", found: true},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz"},
		{name: "empty bearer", header: "Bearer "},
		{name: "no scheme", header: "abc"},
		{name: "nothing"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "access_token", Value: tc.cookie})
			}

			token, found := extractor.Extract(req)
			assert.Equal(t, tc.found, found)
			assert.Equal(t, tc.want, token)
		})
	}
}

func TestAuthenticate_InstallsPrincipal(t *testing.T) {
	m, _ := newTestMiddleware(&stubValidator{})
	handler := m.Authenticate(principalEcho)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good-alice")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "good-bob"})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "bob", rec.Body.String())
}

func TestAuthenticate_InvalidTokenProceedsAnonymously(t *testing.T) {
	v := &stubValidator{errs: map[string]error{
		"revoked": service.ErrRevoked,
		"expired": fmt.Errorf("%w: token is expired", service.ErrExpired),
	}}
	m, hook := newTestMiddleware(v)
	handler := m.Authenticate(principalEcho)

	for _, token := range []string{"revoked", "expired", "garbage"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, token)
		assert.Equal(t, "anonymous", rec.Body.String(), token)
	}

	var reasons []interface{}
	for _, entry := range hook.AllEntries() {
		assert.Equal(t, logrus.DebugLevel, entry.Level)
		reasons = append(reasons, entry.Data["reason"])
	}
	assert.Equal(t, []interface{}{"revoked", "expired", "malformed"}, reasons)
}

func TestAuthenticate_StoreFailureLogsWarning(t *testing.T) {
	v := &stubValidator{errs: map[string]error{
		"good-alice": fmt.Errorf("failed to check revocation: %w", service.ErrStoreUnavailable),
	}}
	m, hook := newTestMiddleware(v)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good-alice")
	rec := httptest.NewRecorder()
	m.Authenticate(principalEcho).ServeHTTP(rec, req)

	assert.Equal(t, "anonymous", rec.Body.String())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "store_unavailable", hook.LastEntry().Data["reason"])
}

func TestAuthenticate_WithoutTokenSkipsValidation(t *testing.T) {
	v := &stubValidator{}
	m, _ := newTestMiddleware(v)

	rec := httptest.NewRecorder()
	m.Authenticate(principalEcho).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "anonymous", rec.Body.String())
	assert.Empty(t, v.tokens)
}

func TestAuthenticate_PrincipalDoesNotLeakBetweenRequests(t *testing.T) {
	m, _ := newTestMiddleware(&stubValidator{})
	handler := m.Authenticate(principalEcho)

	var wg sync.WaitGroup
	results := make([]string, 64)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if i%2 == 0 {
				req.Header.Set("Authorization", fmt.Sprintf("Bearer good-user%d", i))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			results[i] = rec.Body.String()
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		if i%2 == 0 {
			assert.Equal(t, fmt.Sprintf("user%d", i), got)
		} else {
			assert.Equal(t, "anonymous", got)
		}
	}
}

func TestRequireAuth(t *testing.T) {
	m, _ := newTestMiddleware(&stubValidator{})
	handler := m.Authenticate(m.RequireAuth(principalEcho))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":{"code":"UNAUTHORIZED","message":"Authentication required"}}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good-alice")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())
}

func TestPrincipalFromContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	_, ok = PrincipalFromContext(WithPrincipal(context.Background(), nil))
	assert.False(t, ok)

	p, ok := PrincipalFromContext(WithPrincipal(context.Background(), &models.Principal{Subject: "alice"}))
	require.True(t, ok)
	assert.Equal(t, "alice", p.Subject)
}
