package auth_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	auth "github.com/hichchidev/hichchi-sub000"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type controllerFixture struct {
	*serviceFixture
	router http.Handler
	guard  *auth.Guard
}

func newControllerFixture(t *testing.T, opts []auth.ControllerOption, mutate ...func(*auth.Config)) *controllerFixture {
	t.Helper()
	f := newServiceFixture(t, mutate...)
	guard := auth.NewGuard(f.service)
	r := chi.NewRouter()
	auth.NewController(f.service, guard, opts...).Mount(r)
	return &controllerFixture{serviceFixture: f, router: r, guard: guard}
}

func (f *controllerFixture) do(t *testing.T, method, path string, body any, prepare ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, fn := range prepare {
		fn(req)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookies(cookies []*http.Cookie) func(*http.Request) {
	return func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(c)
		}
	}
}

type tokenEnvelope struct {
	Data auth.TokenResponse `json:"data"`
}

func decodeTokens(t *testing.T, rec *httptest.ResponseRecorder) auth.TokenResponse {
	t.Helper()
	var env tokenEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Data
}

func headerMode(c *auth.Config) { c.AuthMethod = auth.AuthMethodHeader }

func TestController_SignInAndMe_HeaderMode(t *testing.T) {
	f := newControllerFixture(t, nil, headerMode)
	f.provider.add(t, auth.User{Email: "jane@example.com", FirstName: "Jane"}, "Passw0rd!")

	rec := f.do(t, http.MethodPost, "/sign-in", auth.SignInRequest{Identifier: "jane@example.com", Password: "Passw0rd!"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, rec.Result().Cookies())

	tokens := decodeTokens(t, rec)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.NotEmpty(t, tokens.SessionID)
	require.NotNil(t, tokens.User)
	assert.Equal(t, "jane@example.com", tokens.User.Email)

	rec = f.do(t, http.MethodGet, "/me", nil, withBearer(tokens.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"first_name":"Jane"`)

	rec = f.do(t, http.MethodPost, "/sign-in", auth.SignInRequest{Identifier: "jane@example.com", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, auth.TextCodeInvalidCreds, decodeError(t, rec).Code)
}

func TestController_SignIn_CookieModeSetsCookies(t *testing.T) {
	f := newControllerFixture(t, nil)
	f.provider.add(t, auth.User{Email: "jane@example.com"}, "Passw0rd!")

	rec := f.do(t, http.MethodPost, "/sign-in", auth.SignInRequest{Identifier: "jane@example.com", Password: "Passw0rd!"})
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)

	rec = f.do(t, http.MethodGet, "/me", nil, withCookies(cookies))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/sign-out", nil, withCookies(cookies))
	require.Equal(t, http.StatusOK, rec.Code)
	for _, c := range rec.Result().Cookies() {
		assert.Equal(t, -1, c.MaxAge)
	}

	rec = f.do(t, http.MethodGet, "/me", nil, withCookies(cookies))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestController_Validation(t *testing.T) {
	f := newControllerFixture(t, nil, headerMode)

	rec := f.do(t, http.MethodPost, "/register", auth.RegisterRequest{
		Email:           "not-an-email",
		Password:        "Passw0rd!",
		ConfirmPassword: "different",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", body.Code)
	assert.Contains(t, body.Fields, "email")
	assert.Equal(t, "values must match", body.Fields["confirm_password"])

	req := httptest.NewRequest(http.MethodPost, "/sign-in", bytes.NewBufferString("{"))
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decodeError(t, rec).Code)
}

func TestController_PasswordByteLimit(t *testing.T) {
	f := newControllerFixture(t, nil, headerMode)
	long := strings.Repeat("pässwörd", 10)
	require.Greater(t, len(long), auth.MaxPasswordBytes)

	rec := f.do(t, http.MethodPost, "/register", auth.RegisterRequest{
		Email:           "new@example.com",
		Password:        long,
		ConfirmPassword: long,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "must be at most 72 bytes", decodeError(t, rec).Fields["password"])

	user := signIn(t, f.serviceFixture)
	rec = f.do(t, http.MethodPost, "/change-password", auth.ChangePasswordRequest{
		OldPassword:     "Passw0rd!",
		NewPassword:     long,
		ConfirmPassword: long,
	}, withBearer(user.AccessToken))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Fields, "new_password")

	exact := strings.Repeat("a", auth.MaxPasswordBytes)
	rec = f.do(t, http.MethodPost, "/register", auth.RegisterRequest{
		Email:           "exact@example.com",
		Password:        exact,
		ConfirmPassword: exact,
	})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestController_Register(t *testing.T) {
	f := newControllerFixture(t, nil, headerMode)

	rec := f.do(t, http.MethodPost, "/register", auth.RegisterRequest{
		Email:           "new@example.com",
		Password:        "Passw0rd!",
		ConfirmPassword: "Passw0rd!",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"sign_up_type":"local"`)

	rec = f.do(t, http.MethodPost, "/register", auth.RegisterRequest{
		Email:           "new@example.com",
		Password:        "Passw0rd!",
		ConfirmPassword: "Passw0rd!",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestController_Refresh(t *testing.T) {
	t.Run("header mode reads the body", func(t *testing.T) {
		f := newControllerFixture(t, nil, headerMode)
		user := signIn(t, f.serviceFixture)

		rec := f.do(t, http.MethodPost, "/refresh-token", auth.RefreshRequest{RefreshToken: user.Tokens.RefreshToken})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		tokens := decodeTokens(t, rec)
		assert.NotEqual(t, user.Tokens.RefreshToken, tokens.RefreshToken)
		assert.Equal(t, user.SessionID, tokens.SessionID)

		rec = f.do(t, http.MethodPost, "/refresh-token", auth.RefreshRequest{RefreshToken: user.Tokens.RefreshToken})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, auth.TextCodeInvalidRefreshToken, decodeError(t, rec).Code)
	})

	t.Run("cookie mode reads the cookie and clears it on failure", func(t *testing.T) {
		f := newControllerFixture(t, nil)
		user := signIn(t, f.serviceFixture)
		cookies := cookiesFor(f.guard.Cookies(), user.Tokens)

		rec := f.do(t, http.MethodPost, "/refresh-token", nil, withCookies(cookies))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Len(t, rec.Result().Cookies(), 2)

		rec = f.do(t, http.MethodPost, "/refresh-token", nil, withCookies(cookies))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		for _, c := range rec.Result().Cookies() {
			assert.Equal(t, -1, c.MaxAge)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		f := newControllerFixture(t, nil, headerMode)
		rec := f.do(t, http.MethodPost, "/refresh-token", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestController_PasswordResetFlow(t *testing.T) {
	f := newControllerFixture(t, nil, headerMode)
	u := f.provider.add(t, auth.User{Email: "jane@example.com"}, "Passw0rd!")

	rec := f.do(t, http.MethodPost, "/request-password-reset", auth.EmailRequest{Email: "jane@example.com"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	token := f.provider.lastReset(u.ID)
	require.NotEmpty(t, token)

	rec = f.do(t, http.MethodPost, "/verify-reset-token", auth.TokenRequest{Token: token})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/reset-password", auth.ResetPasswordRequest{
		Token:           token,
		Password:        "N3wPassword!",
		ConfirmPassword: "N3wPassword!",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/verify-reset-token", auth.TokenRequest{Token: token})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, auth.TextCodeExpiredOrInvalidToken, decodeError(t, rec).Code)

	rec = f.do(t, http.MethodPost, "/sign-in", auth.SignInRequest{Identifier: "jane@example.com", Password: "N3wPassword!"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestController_EmailVerificationFlow(t *testing.T) {
	f := newControllerFixture(t, nil, headerMode)
	user := signIn(t, f.serviceFixture)

	rec := f.do(t, http.MethodPost, "/resend-verification", nil, withBearer(user.AccessToken))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	token := f.provider.lastVerification(user.ID)
	require.NotEmpty(t, token)

	rec = f.do(t, http.MethodPost, "/verify-email", auth.TokenRequest{Token: token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"email_verified":true`)

	rec = f.do(t, http.MethodPost, "/request-verification", auth.EmailRequest{Email: "jane@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, auth.TextCodeEmailAlreadyVerified, decodeError(t, rec).Code)
}

func TestController_ChangePassword(t *testing.T) {
	f := newControllerFixture(t, nil, headerMode)
	user := signIn(t, f.serviceFixture)

	rec := f.do(t, http.MethodPost, "/change-password", auth.ChangePasswordRequest{
		OldPassword:     "Passw0rd!",
		NewPassword:     "N3wPassword!",
		ConfirmPassword: "N3wPassword!",
	}, withBearer(user.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/change-password", auth.ChangePasswordRequest{
		OldPassword:     "N3wPassword!",
		NewPassword:     "Another1!",
		ConfirmPassword: "Another1!",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "guarded route")
}

func TestController_RateLimitedSignIn(t *testing.T) {
	limiter := auth.NewRateLimiter(auth.RateLimiterConfig{Rate: 0.5, Burst: 2}, nil)
	t.Cleanup(limiter.Stop)

	f := newControllerFixture(t, []auth.ControllerOption{auth.WithRateLimiter(limiter)}, headerMode)
	payload := auth.SignInRequest{Identifier: "nobody@example.com", Password: "whatever"}

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/sign-in", payload).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/sign-in", payload).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(t, http.MethodPost, "/sign-in", payload).Code)

	rec := f.do(t, http.MethodPost, "/verify-reset-token", auth.TokenRequest{Token: "abcdef"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "token routes are not throttled")
}

// recordingLogger keeps debug lines for inspection.
type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.record(msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.record(msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.record(msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.record(msg, args) }

func (l *recordingLogger) record(msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, msg+" "+fmt.Sprint(args...))
}

func (l *recordingLogger) output() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.lines, "\n")
}

func TestController_DebugLogsRedactedPayload(t *testing.T) {
	logger := &recordingLogger{}
	f := newControllerFixture(t, []auth.ControllerOption{
		auth.WithControllerDebug(true),
		auth.WithControllerLogger(logger),
	}, headerMode)

	rec := f.do(t, http.MethodPost, "/sign-in", auth.SignInRequest{Identifier: "x@example.com", Password: "secret-value"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	out := logger.output()
	assert.Contains(t, out, "controller payload")
	assert.Contains(t, out, "x@example.com")
	assert.NotContains(t, out, "secret-value")
}
