package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	auth "github.com/hichchidev/hichchi-sub000"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func protectedHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.FromContext(r.Context())
		require.True(t, ok)
		auth.WriteJSON(w, http.StatusOK, auth.Response{Data: user.UserView})
	})
}

// cookiesFor returns the signed auth cookies the manager would write for pair.
func cookiesFor(m *auth.CookieManager, pair *auth.TokenPair) []*http.Cookie {
	rec := httptest.NewRecorder()
	m.SetAuthCookies(rec, pair)
	return rec.Result().Cookies()
}

func signIn(t *testing.T, f *serviceFixture) *auth.AuthUser {
	t.Helper()
	f.provider.add(t, auth.User{Email: "jane@example.com"}, "Passw0rd!")
	user, err := f.service.AuthenticateByCredentials(context.Background(), "jane@example.com", "Passw0rd!")
	require.NoError(t, err)
	return user
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *auth.ErrorResponse {
	t.Helper()
	var resp auth.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	return resp.Error
}

func TestGuard_HeaderMode(t *testing.T) {
	f := newServiceFixture(t, func(c *auth.Config) { c.AuthMethod = auth.AuthMethodHeader })
	user := signIn(t, f)
	handler := auth.NewGuard(f.service).Middleware(protectedHandler(t))

	t.Run("valid bearer token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+user.AccessToken)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header"},
		{name: "wrong scheme", header: "Basic " + user.AccessToken},
		{name: "garbage", header: "Bearer nope"},
		{name: "refresh token as access", header: "Bearer " + user.Tokens.RefreshToken},
		{name: "expired", header: "Bearer " + signExpired(t, testJWTConfig().Secret, user.ID)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, auth.TextCodeNotLoggedIn, decodeError(t, rec).Code)
			assert.Empty(t, rec.Result().Cookies(), "header mode never writes cookies")
		})
	}
}

func TestGuard_CookieMode(t *testing.T) {
	f := newServiceFixture(t)
	user := signIn(t, f)
	guard := auth.NewGuard(f.service)
	handler := guard.Middleware(protectedHandler(t))

	t.Run("valid access cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		for _, c := range cookiesFor(guard.Cookies(), user.Tokens) {
			req.AddCookie(c)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Result().Cookies())
	})

	t.Run("tampered cookie clears both cookies", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.AddCookie(&http.Cookie{Name: "access_token", Value: user.AccessToken + ".forged"})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		cleared := map[string]int{}
		for _, c := range rec.Result().Cookies() {
			cleared[c.Name] = c.MaxAge
		}
		assert.Equal(t, map[string]int{"access_token": -1, "refresh_token": -1}, cleared)
	})
}

func TestGuard_CookieModeSilentRefresh(t *testing.T) {
	f := newServiceFixture(t)
	user := signIn(t, f)
	guard := auth.NewGuard(f.service)

	var seen *auth.AuthUser
	handler := guard.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	expired := &auth.TokenPair{
		AccessToken:  signExpired(t, testJWTConfig().Secret, user.ID),
		RefreshToken: user.Tokens.RefreshToken,
	}
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	for _, c := range cookiesFor(guard.Cookies(), expired) {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	require.NotNil(t, seen.Tokens)
	assert.Equal(t, user.SessionID, seen.SessionID)
	assert.NotEqual(t, user.Tokens.RefreshToken, seen.Tokens.RefreshToken)

	written := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		written[c.Name] = c
	}
	require.Contains(t, written, "access_token")
	require.Contains(t, written, "refresh_token")
	assert.True(t, written["access_token"].HttpOnly)
	assert.Equal(t, int(testJWTConfig().ExpiresIn.Seconds()), written["access_token"].MaxAge)
	assert.Equal(t, int(testJWTConfig().RefreshExpiresIn.Seconds()), written["refresh_token"].MaxAge)

	_, err := f.service.Refresh(context.Background(), user.Tokens.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidRefreshToken, "silent refresh rotates the refresh token")
}

func TestGuard_CookieModeWithoutAnyCookie(t *testing.T) {
	f := newServiceFixture(t)
	handler := auth.NewGuard(f.service).Middleware(protectedHandler(t))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, auth.TextCodeNotLoggedIn, decodeError(t, rec).Code)
}

func TestGuard_Optional(t *testing.T) {
	f := newServiceFixture(t, func(c *auth.Config) { c.AuthMethod = auth.AuthMethodHeader })
	user := signIn(t, f)

	var authenticated bool
	handler := auth.NewGuard(f.service).Optional(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, authenticated = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, authenticated)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+user.AccessToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.True(t, authenticated)
}

func TestGuard_CustomErrorHandler(t *testing.T) {
	f := newServiceFixture(t, func(c *auth.Config) { c.AuthMethod = auth.AuthMethodHeader })
	guard := auth.NewGuard(f.service)

	var got error
	guard.ErrorHandler = func(w http.ResponseWriter, _ *http.Request, err error) {
		got = err
		w.WriteHeader(http.StatusTeapot)
	}

	rec := httptest.NewRecorder()
	guard.Middleware(protectedHandler(t)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.ErrorIs(t, got, auth.ErrNotLoggedIn)
}
