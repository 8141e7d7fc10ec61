package auth_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	auth "github.com/hichchidev/hichchi-sub000"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// memoryProvider is an in memory UserProvider implementing every capability.
type memoryProvider struct {
	mu     sync.Mutex
	users  map[string]*auth.User
	nextID int

	sentVerification map[string][]string
	sentReset        map[string][]string
	sendErr          error
	signUpErr        error
}

func newMemoryProvider() *memoryProvider {
	return &memoryProvider{
		users:            map[string]*auth.User{},
		sentVerification: map[string][]string{},
		sentReset:        map[string][]string{},
	}
}

func (p *memoryProvider) add(t *testing.T, user auth.User, password string) *auth.User {
	t.Helper()
	if password != "" {
		hash, err := auth.HashPassword(password)
		require.NoError(t, err)
		user.Account = auth.LocalAccount{PasswordHash: hash}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if user.ID == "" {
		p.nextID++
		user.ID = fmt.Sprintf("user-%d", p.nextID)
	}
	u := user
	p.users[u.ID] = &u
	return &u
}

func (p *memoryProvider) GetUserByID(_ context.Context, id string) (*auth.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if u, ok := p.users[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, auth.ErrUserNotFound
}

func (p *memoryProvider) UpdateUserByID(_ context.Context, id string, update auth.UserUpdate) (*auth.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.users[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	if update.PasswordHash != nil {
		u.Account = auth.LocalAccount{PasswordHash: *update.PasswordHash}
	}
	if update.EmailVerified != nil {
		u.EmailVerified = *update.EmailVerified
	}
	c := *u
	return &c, nil
}

func (p *memoryProvider) SignUpUser(_ context.Context, input auth.SignUpInput) (*auth.User, error) {
	if p.signUpErr != nil {
		return nil, p.signUpErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	u := &auth.User{
		ID:            fmt.Sprintf("user-%d", p.nextID),
		Email:         input.Email,
		Username:      input.Username,
		FirstName:     input.FirstName,
		LastName:      input.LastName,
		EmailVerified: input.EmailVerified,
		Account:       input.Account,
	}
	p.users[u.ID] = u
	c := *u
	return &c, nil
}

func (p *memoryProvider) find(match func(*auth.User) bool) (*auth.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range p.users {
		if match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (p *memoryProvider) GetUserByEmail(_ context.Context, email string) (*auth.User, error) {
	return p.find(func(u *auth.User) bool { return strings.EqualFold(u.Email, email) })
}

func (p *memoryProvider) GetUserByUsername(_ context.Context, username string) (*auth.User, error) {
	return p.find(func(u *auth.User) bool { return u.Username == username })
}

func (p *memoryProvider) GetUserByUsernameOrEmail(_ context.Context, identifier string) (*auth.User, error) {
	return p.find(func(u *auth.User) bool {
		return u.Username == identifier || strings.EqualFold(u.Email, identifier)
	})
}

func (p *memoryProvider) SendVerificationEmail(_ context.Context, user *auth.User, token string) error {
	if p.sendErr != nil {
		return p.sendErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sentVerification[user.ID] = append(p.sentVerification[user.ID], token)
	return nil
}

func (p *memoryProvider) SendPasswordResetEmail(_ context.Context, user *auth.User, token string) error {
	if p.sendErr != nil {
		return p.sendErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sentReset[user.ID] = append(p.sentReset[user.ID], token)
	return nil
}

func (p *memoryProvider) lastReset(userID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	tokens := p.sentReset[userID]
	if len(tokens) == 0 {
		return ""
	}
	return tokens[len(tokens)-1]
}

func (p *memoryProvider) lastVerification(userID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	tokens := p.sentVerification[userID]
	if len(tokens) == 0 {
		return ""
	}
	return tokens[len(tokens)-1]
}

// minimalProvider only implements the required methods.
type minimalProvider struct {
	mock.Mock
}

func (m *minimalProvider) GetUserByID(ctx context.Context, id string) (*auth.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*auth.User)
	return u, args.Error(1)
}

func (m *minimalProvider) UpdateUserByID(ctx context.Context, id string, update auth.UserUpdate) (*auth.User, error) {
	args := m.Called(ctx, id, update)
	u, _ := args.Get(0).(*auth.User)
	return u, args.Error(1)
}

func (m *minimalProvider) SignUpUser(ctx context.Context, input auth.SignUpInput) (*auth.User, error) {
	args := m.Called(ctx, input)
	u, _ := args.Get(0).(*auth.User)
	return u, args.Error(1)
}

// emailOnlyProvider adds email lookup to minimalProvider.
type emailOnlyProvider struct {
	minimalProvider
}

func (m *emailOnlyProvider) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	args := m.Called(ctx, email)
	u, _ := args.Get(0).(*auth.User)
	return u, args.Error(1)
}

// MockLogger implements auth.Logger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(msg string, args ...any) { m.Called(msg, args) }
func (m *MockLogger) Info(msg string, args ...any)  { m.Called(msg, args) }
func (m *MockLogger) Warn(msg string, args ...any)  { m.Called(msg, args) }
func (m *MockLogger) Error(msg string, args ...any) { m.Called(msg, args) }

// eventRecorder collects emitted events.
type eventRecorder struct {
	mu     sync.Mutex
	events []auth.Event
}

func (r *eventRecorder) OnAuthEvent(_ context.Context, event auth.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) last() auth.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return auth.Event{}
	}
	return r.events[len(r.events)-1]
}

func (r *eventRecorder) ofType(typ auth.EventType) []auth.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []auth.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

var errBoom = errors.New("boom")

func testConfig() auth.Config {
	cfg := auth.DefaultConfig()
	cfg.JWT = testJWTConfig()
	cfg.Cookies.Secure = false
	cfg.PasswordResetTokenTTL = time.Hour
	return cfg
}

type serviceFixture struct {
	service  *auth.Service
	provider *memoryProvider
	cache    *auth.RedisCache
	events   *eventRecorder
}

func newServiceFixture(t *testing.T, mutate ...func(*auth.Config)) *serviceFixture {
	t.Helper()
	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}
	cache, _ := setupTestCache(t)
	provider := newMemoryProvider()
	events := &eventRecorder{}

	svc, err := auth.NewService(provider, cache, cfg)
	require.NoError(t, err)
	svc.WithListener(events)

	return &serviceFixture{service: svc, provider: provider, cache: cache, events: events}
}
