package social_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	auth "github.com/hichchidev/hichchi-sub000"
	"github.com/hichchidev/hichchi-sub000/social"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type usersByEmail struct {
	mu    sync.Mutex
	users map[string]*auth.User
}

func (u *usersByEmail) GetUserByID(_ context.Context, id string) (*auth.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, user := range u.users {
		if user.ID == id {
			c := *user
			return &c, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

func (u *usersByEmail) GetUserByEmail(_ context.Context, email string) (*auth.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if user, ok := u.users[email]; ok {
		c := *user
		return &c, nil
	}
	return nil, nil
}

func (u *usersByEmail) UpdateUserByID(ctx context.Context, id string, _ auth.UserUpdate) (*auth.User, error) {
	return u.GetUserByID(ctx, id)
}

func (u *usersByEmail) SignUpUser(_ context.Context, input auth.SignUpInput) (*auth.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	user := &auth.User{
		ID:            fmt.Sprintf("user-%d", len(u.users)+1),
		Email:         input.Email,
		FirstName:     input.FirstName,
		LastName:      input.LastName,
		EmailVerified: input.EmailVerified,
		Account:       input.Account,
	}
	u.users[input.Email] = user
	c := *user
	return &c, nil
}

type fakeProvider struct {
	profile      *auth.SocialProfile
	exchangeErr  error
	lastVerifier string
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) AuthCodeURL(state string, opts ...social.AuthCodeOption) string {
	cfg := social.ApplyAuthCodeOptions(nil, opts...)
	return "https://idp.example.com/authorize?" + url.Values{
		"state":          {state},
		"code_challenge": {cfg.CodeChallenge},
	}.Encode()
}

func (p *fakeProvider) Exchange(_ context.Context, code string, opts ...social.ExchangeOption) (*social.Token, error) {
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	p.lastVerifier = social.ApplyExchangeOptions(opts...).CodeVerifier
	return &social.Token{AccessToken: "idp-token-" + code}, nil
}

func (p *fakeProvider) UserInfo(context.Context, *social.Token) (*auth.SocialProfile, error) {
	c := *p.profile
	return &c, nil
}

type memoryAccounts struct {
	accounts []*social.SocialAccount
	err      error
}

func (m *memoryAccounts) FindByProviderID(_ context.Context, provider, providerUserID string) (*social.SocialAccount, error) {
	for _, a := range m.accounts {
		if a.Provider == provider && a.ProviderUserID == providerUserID {
			return a, nil
		}
	}
	return nil, errors.New("not found")
}

func (m *memoryAccounts) FindByUserID(_ context.Context, userID string) ([]*social.SocialAccount, error) {
	var out []*social.SocialAccount
	for _, a := range m.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memoryAccounts) Upsert(_ context.Context, account *social.SocialAccount) error {
	if m.err != nil {
		return m.err
	}
	m.accounts = append(m.accounts, account)
	return nil
}

type logEntry struct {
	level string
	msg   string
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg})
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.record("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.record("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.record("error", msg) }

func (l *recordingLogger) has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			return true
		}
	}
	return false
}

type handlerFixture struct {
	service  *auth.Service
	provider *fakeProvider
	accounts *memoryAccounts
	logs     *recordingLogger
	router   http.Handler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := auth.DefaultConfig()
	cfg.AuthMethod = auth.AuthMethodHeader
	cfg.JWT.Secret = "access-secret"
	cfg.JWT.RefreshSecret = "refresh-secret"
	cfg.ClientURL = "https://app.example.com"

	service, err := auth.NewService(&usersByEmail{users: map[string]*auth.User{}}, auth.NewRedisCache(client, ""), cfg)
	require.NoError(t, err)
	logs := &recordingLogger{}
	service.WithLogger(logs)

	provider := &fakeProvider{profile: &auth.SocialProfile{
		ProviderUserID: "idp-42",
		Email:          "social@example.com",
		EmailVerified:  true,
		FirstName:      "Soc",
	}}
	accounts := &memoryAccounts{}

	handler, err := social.NewHandler(service, social.NewEncryptedStateManager("state-secret", time.Minute),
		social.WithAccountRepository(accounts))
	require.NoError(t, err)
	handler.Register(provider)

	r := chi.NewRouter()
	r.Route("/auth", handler.Mount)

	return &handlerFixture{service: service, provider: provider, accounts: accounts, logs: logs, router: r}
}

func (f *handlerFixture) get(target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func (f *handlerFixture) start(t *testing.T, redirect string) string {
	t.Helper()
	rec := f.get("/auth/fake?redirect=" + url.QueryEscape(redirect))
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "idp.example.com", location.Host)
	assert.NotEmpty(t, location.Query().Get("code_challenge"))
	return location.Query().Get("state")
}

func TestHandler_RoundTrip(t *testing.T) {
	f := newHandlerFixture(t)
	state := f.start(t, "/after")

	rec := f.get("/auth/fake/callback?code=abc&state=" + url.QueryEscape(state))
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", location.Host)
	assert.Equal(t, "/after", location.Path)

	token := location.Query().Get("token")
	require.NotEmpty(t, token)

	user, err := f.service.AuthenticateByToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "social@example.com", user.Email)
	assert.Equal(t, "fake", user.SignUpType)
	assert.Equal(t, "https://app.example.com/after", user.OriginURL)
	assert.NotEmpty(t, f.provider.lastVerifier)

	require.Len(t, f.accounts.accounts, 1)
	assert.Equal(t, user.ID, f.accounts.accounts[0].UserID)
	assert.Equal(t, "idp-42", f.accounts.accounts[0].ProviderUserID)
}

func TestHandler_StartRejectsForeignRedirect(t *testing.T) {
	f := newHandlerFixture(t)

	for _, target := range []string{"https://evil.example.com/", "//evil.example.com/x", "http://app.example.com/"} {
		rec := f.get("/auth/fake?redirect=" + url.QueryEscape(target))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestHandler_UnknownProvider(t *testing.T) {
	f := newHandlerFixture(t)
	assert.Equal(t, http.StatusNotFound, f.get("/auth/nope").Code)
}

func TestHandler_CallbackRejectsBadState(t *testing.T) {
	f := newHandlerFixture(t)
	rec := f.get("/auth/fake/callback?code=abc&state=forged")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_CallbackFailureRedirectsWithError(t *testing.T) {
	f := newHandlerFixture(t)
	f.provider.exchangeErr = errors.New("code already used")
	state := f.start(t, "")

	rec := f.get("/auth/fake/callback?code=abc&state=" + url.QueryEscape(state))
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, social.TextCodeTokenExchangeFail, location.Query().Get("error"))
	assert.Empty(t, location.Query().Get("token"))
}

func TestHandler_LinkFailureDoesNotBlockSignIn(t *testing.T) {
	f := newHandlerFixture(t)
	f.accounts.err = errors.New("db down")
	state := f.start(t, "/")

	rec := f.get("/auth/fake/callback?code=abc&state=" + url.QueryEscape(state))
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.NotEmpty(t, location.Query().Get("token"))
	assert.True(t, f.logs.has("warn", "social account link failed"))
}
