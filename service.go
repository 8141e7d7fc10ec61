package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	goerrors "github.com/goliatone/go-errors"
)

// Service runs every authentication flow. It is safe for concurrent use; the
// cached session list is updated with an optimistic read-modify-write, so two
// concurrent refreshes of the same user may lose one rotation.
type Service struct {
	cfg          Config
	provider     UserProvider
	caps         providerCapabilities
	tokens       *TokenService
	sessions     *SessionStore
	verifyTokens *VerificationTokenStore
	resetTokens  *VerificationTokenStore
	events       *eventDispatcher
	logger       Logger
}

// RegisterInput is the payload of Register.
type RegisterInput struct {
	Email     string
	Username  string
	Password  string
	FirstName string
	LastName  string
}

// NewService validates cfg, resolves the provider capabilities and wires the
// stores over cache. Capabilities required by cfg but missing from provider
// fail here.
func NewService(provider UserProvider, cache Cache, cfg Config) (*Service, error) {
	if provider == nil {
		return nil, configError("user provider is required", nil)
	}
	if cache == nil {
		return nil, configError("cache is required", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	caps, err := resolveCapabilities(provider, cfg)
	if err != nil {
		return nil, err
	}

	logger := normalizeLogger(nil)
	s := &Service{
		cfg:          cfg,
		provider:     provider,
		caps:         caps,
		tokens:       NewTokenService(cfg.JWT, logger),
		sessions:     NewSessionStore(cache, cfg.SessionSecret, cfg.JWT.RefreshExpiresIn, logger),
		verifyTokens: NewEmailVerificationStore(cache),
		resetTokens:  NewPasswordResetStore(cache),
		events:       &eventDispatcher{logger: logger, now: time.Now},
		logger:       logger,
	}

	if l, ok := provider.(EventListener); ok {
		s.events.add(l)
	}
	return s, nil
}

// WithLogger sets the logger used by the service and its stores.
func (s *Service) WithLogger(logger Logger) *Service {
	logger = normalizeLogger(logger)
	s.logger = logger
	s.tokens.logger = logger
	s.sessions.logger = logger
	s.events.logger = logger
	return s
}

// WithListener registers an additional lifecycle event listener.
func (s *Service) WithListener(l EventListener) *Service {
	s.events.add(l)
	return s
}

// Config returns the configuration the service was built with.
func (s *Service) Config() Config { return s.cfg }

// Tokens returns the token codec.
func (s *Service) Tokens() *TokenService { return s.tokens }

// Sessions returns the session store.
func (s *Service) Sessions() *SessionStore { return s.sessions }

// Logger returns the logger set with WithLogger.
func (s *Service) Logger() Logger { return s.logger }

// Register creates a local account. When the provider can send verification
// emails a token is issued right away; a failed send does not undo the sign up.
func (s *Service) Register(ctx context.Context, input RegisterInput) (view *UserView, err error) {
	defer func() {
		ev := Event{Type: EventRegister, Identifier: input.Email, Err: err}
		if view != nil {
			ev.UserID = view.ID
		}
		s.events.emit(ctx, ev)
	}()

	if s.cfg.DisableRegistration {
		return nil, ErrRegistrationDisabled
	}

	if err := s.ensureAvailable(ctx, input); err != nil {
		return nil, err
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	user, err := s.provider.SignUpUser(ctx, SignUpInput{
		Email:     input.Email,
		Username:  input.Username,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Account:   LocalAccount{PasswordHash: hash},
	})
	if err != nil {
		return nil, s.internal(err, "failed to sign up user")
	}
	if user == nil {
		return nil, s.internal(ErrUserNotFound, "sign up returned no user")
	}

	if s.caps.verificationMail != nil && !user.EmailVerified && user.Email != "" {
		if err := s.sendVerification(ctx, user); err != nil {
			s.logger.Warn("register could not send verification email", "user_id", user.ID, "error", err)
		}
	}

	v := user.View()
	return &v, nil
}

func (s *Service) ensureAvailable(ctx context.Context, input RegisterInput) error {
	if input.Email != "" && s.caps.byEmail != nil {
		existing, err := normalizeLookup(s.caps.byEmail.GetUserByEmail(ctx, input.Email))
		if err != nil {
			return s.internal(err, "failed to look up user by email")
		}
		if existing != nil {
			return ErrUserAlreadyExists
		}
	}
	if input.Username != "" && s.caps.byUsername != nil {
		existing, err := normalizeLookup(s.caps.byUsername.GetUserByUsername(ctx, input.Username))
		if err != nil {
			return s.internal(err, "failed to look up user by username")
		}
		if existing != nil {
			return ErrUserAlreadyExists
		}
	}
	return nil
}

// AuthenticateByCredentials signs a user in with identifier and password. The
// identifier is matched against the configured AuthField.
func (s *Service) AuthenticateByCredentials(ctx context.Context, identifier, password string) (authUser *AuthUser, err error) {
	var userID string
	defer func() {
		s.events.emit(ctx, Event{Type: EventSignIn, UserID: userID, Identifier: identifier, Err: err})
	}()

	user, err := normalizeLookup(s.caps.findByIdentifier(ctx, s.cfg.AuthField, identifier))
	if err != nil {
		return nil, s.internal(err, "failed to look up user")
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	userID = user.ID

	hash, ok := user.PasswordHash()
	if !ok {
		if _, federated := user.Account.(FederatedAccount); federated {
			return nil, ErrNotLocalAccount
		}
		return nil, ErrInvalidCredentials
	}
	if !VerifyPassword(password, hash) {
		return nil, ErrInvalidCredentials
	}

	if s.cfg.CheckEmailVerified && !user.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	return s.issueSession(ctx, user, "")
}

// AuthenticateBySocialProfile signs in the user owning profile.Email, creating
// a federated account on first use. redirectURL is recorded on the session.
func (s *Service) AuthenticateBySocialProfile(ctx context.Context, profile SocialProfile, redirectURL string) (authUser *AuthUser, err error) {
	var userID string
	defer func() {
		s.events.emit(ctx, Event{
			Type:       EventSocialSignIn,
			UserID:     userID,
			Identifier: profile.Email,
			Err:        err,
			Metadata:   map[string]any{"provider": profile.Provider},
		})
	}()

	if profile.Email == "" {
		return nil, ErrSocialSignUpFailed
	}

	user, err := normalizeLookup(s.caps.findByEmail(ctx, profile.Email))
	if err != nil {
		return nil, s.internal(err, "failed to look up user by email")
	}

	// An unverified provider email only reaches accounts that provider created.
	if user != nil && !profile.EmailVerified && !federatedBy(user, profile.Provider) {
		return nil, ErrEmailNotVerified
	}

	if user == nil {
		if s.cfg.DisableRegistration {
			return nil, ErrRegistrationDisabled
		}
		firstName, lastName := profile.FirstName, profile.LastName
		if firstName == "" && lastName == "" {
			firstName = profile.Name
		}
		created, signUpErr := s.provider.SignUpUser(ctx, SignUpInput{
			Email:         profile.Email,
			FirstName:     firstName,
			LastName:      lastName,
			EmailVerified: profile.EmailVerified,
			Account:       FederatedAccount{Provider: profile.Provider},
		})
		if signUpErr != nil || created == nil {
			s.logger.Error("social sign up failed", "provider", profile.Provider, "error", signUpErr)
			return nil, ErrSocialSignUpFailed
		}
		user = created
	}
	userID = user.ID

	return s.issueSession(ctx, user, redirectURL)
}

func federatedBy(user *User, provider string) bool {
	account, ok := user.Account.(FederatedAccount)
	return ok && account.Provider == provider
}

// issueSession mints a token pair and appends a new session to the cached
// user.
func (s *Service) issueSession(ctx context.Context, user *User, originURL string) (*AuthUser, error) {
	pair, err := s.tokens.CreateTokenPair(JwtPayload{Sub: user.ID})
	if err != nil {
		return nil, s.internal(err, "failed to issue tokens")
	}

	session := Session{
		SessionID:    uuid.NewString(),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		OriginURL:    originURL,
	}

	cached := s.sessions.GetUser(ctx, user.ID)
	if cached == nil {
		cached = &CachedUser{}
	}
	cached.UserView = user.View()
	cached.Sessions = append(cached.Sessions, session)

	if err := s.sessions.SetUser(ctx, cached); err != nil {
		return nil, s.internal(err, "failed to store session")
	}

	return newAuthUser(cached.UserView, session, pair), nil
}

// AuthenticateByToken resolves the user of an access token. Expired tokens
// fail with ErrAccessTokenExpired, every other failure with ErrInvalidToken.
func (s *Service) AuthenticateByToken(ctx context.Context, accessToken string) (*AuthUser, error) {
	payload, err := s.tokens.VerifyAccessToken(accessToken)
	if err != nil {
		if goerrors.Is(err, ErrTokenExpired) {
			return nil, ErrAccessTokenExpired
		}
		return nil, ErrInvalidToken
	}

	cached := s.sessions.GetUser(ctx, payload.Sub)
	if cached == nil || len(cached.Sessions) == 0 {
		return nil, ErrInvalidToken
	}
	session, ok := cached.SessionByAccessToken(accessToken)
	if !ok {
		return nil, ErrInvalidToken
	}
	return newAuthUser(cached.UserView, session, nil), nil
}

// GetUserByToken returns the cached user holding token, an access token or a
// refresh token depending on refresh. It returns nil when the token does not
// verify or belongs to no cached session.
func (s *Service) GetUserByToken(ctx context.Context, token string, refresh bool) *CachedUser {
	verify := s.tokens.VerifyAccessToken
	if refresh {
		verify = s.tokens.VerifyRefreshToken
	}
	payload, err := verify(token)
	if err != nil {
		return nil
	}

	cached := s.sessions.GetUser(ctx, payload.Sub)
	if cached == nil {
		return nil
	}
	if refresh {
		_, ok := cached.SessionByRefreshToken(token)
		if !ok {
			return nil
		}
		return cached
	}
	if _, ok := cached.SessionByAccessToken(token); !ok {
		return nil
	}
	return cached
}

// RotateSession replaces the session holding oldRefreshToken with a session
// for a freshly minted pair. The session id and origin are kept.
func (s *Service) RotateSession(ctx context.Context, cached *CachedUser, oldRefreshToken string) (*AuthUser, error) {
	if cached == nil {
		return nil, ErrInvalidRefreshToken
	}
	old, ok := cached.SessionByRefreshToken(oldRefreshToken)
	if !ok {
		return nil, ErrInvalidRefreshToken
	}

	pair, err := s.tokens.CreateTokenPair(JwtPayload{Sub: cached.ID})
	if err != nil {
		return nil, s.internal(err, "failed to issue tokens")
	}

	rotated := Session{
		SessionID:    old.SessionID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		OriginURL:    old.OriginURL,
	}

	next := &CachedUser{UserView: cached.UserView}
	next.Sessions = withoutSession(cached.Sessions, func(x Session) bool {
		return x.RefreshToken != oldRefreshToken
	})
	next.Sessions = append(next.Sessions, rotated)

	if err := s.sessions.SetUser(ctx, next); err != nil {
		return nil, s.internal(err, "failed to store session")
	}
	return newAuthUser(next.UserView, rotated, pair), nil
}

// Refresh exchanges a refresh token for a new pair. The old refresh token
// stops working.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (authUser *AuthUser, err error) {
	var userID string
	defer func() {
		s.events.emit(ctx, Event{Type: EventRefresh, UserID: userID, Err: err})
	}()

	payload, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		if goerrors.Is(err, ErrTokenExpired) {
			return nil, ErrRefreshTokenExpired
		}
		return nil, ErrInvalidRefreshToken
	}
	userID = payload.Sub

	user, err := normalizeLookup(s.provider.GetUserByID(ctx, payload.Sub))
	if err != nil {
		return nil, s.internal(err, "failed to look up user")
	}
	if user == nil {
		return nil, ErrInvalidRefreshToken
	}

	cached := s.sessions.GetUser(ctx, user.ID)
	if cached == nil {
		return nil, ErrInvalidRefreshToken
	}
	cached.UserView = user.View()

	return s.RotateSession(ctx, cached, refreshToken)
}

// SignOut ends the session of authUser. Remaining sessions whose refresh
// token no longer verifies are dropped, and the record is removed when no
// session is left.
func (s *Service) SignOut(ctx context.Context, authUser *AuthUser) (err error) {
	if authUser == nil {
		return ErrNotLoggedIn
	}
	defer func() {
		s.events.emit(ctx, Event{Type: EventSignOut, UserID: authUser.ID, Err: err})
	}()

	cached := s.sessions.GetUser(ctx, authUser.ID)
	if cached == nil {
		return nil
	}
	if len(cached.Sessions) <= 1 {
		return s.clearUser(ctx, authUser.ID)
	}

	remaining := withoutSession(cached.Sessions, func(x Session) bool {
		if x.AccessToken == authUser.AccessToken {
			return false
		}
		if authUser.SessionID != "" && x.SessionID == authUser.SessionID {
			return false
		}
		_, verr := s.tokens.VerifyRefreshToken(x.RefreshToken)
		return verr == nil
	})
	if len(remaining) == 0 {
		return s.clearUser(ctx, authUser.ID)
	}

	cached.Sessions = remaining
	if err := s.sessions.SetUser(ctx, cached); err != nil {
		return s.internal(err, "failed to store sessions")
	}
	return nil
}

func (s *Service) clearUser(ctx context.Context, userID string) error {
	if err := s.sessions.ClearUser(ctx, userID); err != nil {
		return s.internal(err, "failed to clear sessions")
	}
	return nil
}

// GetCurrentUser loads the provider's current view of authUser.
func (s *Service) GetCurrentUser(ctx context.Context, authUser *AuthUser) (*UserView, error) {
	if authUser == nil {
		return nil, ErrNotLoggedIn
	}
	user, err := normalizeLookup(s.provider.GetUserByID(ctx, authUser.ID))
	if err != nil {
		return nil, s.internal(err, "failed to look up user")
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	v := user.View()
	return &v, nil
}

// ChangePassword replaces the password of a local account. Every session
// except the current one is ended.
func (s *Service) ChangePassword(ctx context.Context, authUser *AuthUser, oldPassword, newPassword string) (err error) {
	if authUser == nil {
		return ErrNotLoggedIn
	}
	defer func() {
		s.events.emit(ctx, Event{Type: EventChangePassword, UserID: authUser.ID, Err: err})
	}()

	user, err := normalizeLookup(s.provider.GetUserByID(ctx, authUser.ID))
	if err != nil {
		return s.internal(err, "failed to look up user")
	}
	if user == nil {
		return ErrUserNotFound
	}

	hash, ok := user.PasswordHash()
	if !ok {
		return ErrNotLocalAccount
	}
	if !VerifyPassword(oldPassword, hash) {
		return ErrInvalidCredentials
	}

	newHash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if _, err := s.provider.UpdateUserByID(ctx, user.ID, UserUpdate{PasswordHash: &newHash}); err != nil {
		return s.internal(err, "failed to update password")
	}

	if cached := s.sessions.GetUser(ctx, user.ID); cached != nil {
		cached.Sessions = withoutSession(cached.Sessions, func(x Session) bool {
			return x.AccessToken == authUser.AccessToken
		})
		var storeErr error
		if len(cached.Sessions) == 0 {
			storeErr = s.sessions.ClearUser(ctx, user.ID)
		} else {
			storeErr = s.sessions.SetUser(ctx, cached)
		}
		if storeErr != nil {
			s.logger.Warn("change password could not prune sessions", "user_id", user.ID, "error", storeErr)
		}
	}
	return nil
}

// RequestEmailVerification sends a verification token to email.
func (s *Service) RequestEmailVerification(ctx context.Context, email string) (err error) {
	var userID string
	defer func() {
		s.events.emit(ctx, Event{Type: EventEmailVerificationRequest, UserID: userID, Identifier: email, Err: err})
	}()

	if s.caps.verificationMail == nil {
		return ErrNotImplemented
	}

	user, err := normalizeLookup(s.caps.findByEmail(ctx, email))
	if err != nil {
		return s.internal(err, "failed to look up user by email")
	}
	if user == nil {
		return ErrEmailNotFound
	}
	userID = user.ID
	if user.EmailVerified {
		return ErrEmailAlreadyVerified
	}
	return s.sendVerification(ctx, user)
}

// ResendEmailVerification issues a new verification token for a signed in
// user. The previous token stops working.
func (s *Service) ResendEmailVerification(ctx context.Context, authUser *AuthUser) (err error) {
	if authUser == nil {
		return ErrNotLoggedIn
	}
	defer func() {
		s.events.emit(ctx, Event{Type: EventEmailVerificationRequest, UserID: authUser.ID, Err: err})
	}()

	if s.caps.verificationMail == nil {
		return ErrNotImplemented
	}

	user, err := normalizeLookup(s.provider.GetUserByID(ctx, authUser.ID))
	if err != nil {
		return s.internal(err, "failed to look up user")
	}
	if user == nil {
		return ErrUserNotFound
	}
	if user.EmailVerified {
		return ErrEmailAlreadyVerified
	}
	return s.sendVerification(ctx, user)
}

func (s *Service) sendVerification(ctx context.Context, user *User) error {
	return s.sendToken(ctx, user, s.verifyTokens, s.cfg.EmailVerifyTokenTTL, s.caps.verificationMail.SendVerificationEmail)
}

func (s *Service) sendToken(
	ctx context.Context,
	user *User,
	store *VerificationTokenStore,
	ttl time.Duration,
	send func(ctx context.Context, user *User, token string) error,
) error {
	token, err := GenerateVerifyToken()
	if err != nil {
		return s.internal(err, "failed to generate verification token")
	}
	if err := store.SaveToken(ctx, user.ID, token, ttl); err != nil {
		s.logger.Error("could not store verification token", "user_id", user.ID, "error", err)
		return ErrSendEmailFailed
	}
	if err := send(ctx, user, token); err != nil {
		s.logger.Error("could not send verification token", "user_id", user.ID, "error", err)
		if clearErr := store.ClearTokenByUserID(ctx, user.ID); clearErr != nil {
			s.logger.Warn("could not clear unsent token", "user_id", user.ID, "error", clearErr)
		}
		return ErrSendEmailFailed
	}
	return nil
}

// VerifyEmail consumes an email verification token and marks the email as
// verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) (view *UserView, err error) {
	var userID string
	defer func() {
		s.events.emit(ctx, Event{Type: EventEmailVerified, UserID: userID, Err: err})
	}()

	userID, err = s.verifyTokens.GetUserIDByToken(ctx, token)
	if err != nil {
		s.logger.Warn("verify email token lookup failed", "error", err)
		return nil, ErrExpiredOrInvalidToken
	}
	if userID == "" {
		return nil, ErrExpiredOrInvalidToken
	}

	verified := true
	user, err := normalizeLookup(s.provider.UpdateUserByID(ctx, userID, UserUpdate{EmailVerified: &verified}))
	if err != nil {
		return nil, s.internal(err, "failed to mark email verified")
	}
	if user == nil {
		return nil, ErrExpiredOrInvalidToken
	}

	if err := s.verifyTokens.ClearTokenByUserID(ctx, userID); err != nil {
		s.logger.Warn("verify email could not clear token", "user_id", userID, "error", err)
	}

	if cached := s.sessions.GetUser(ctx, userID); cached != nil {
		cached.UserView = user.View()
		if err := s.sessions.SetUser(ctx, cached); err != nil {
			s.logger.Warn("verify email could not refresh cached user", "user_id", userID, "error", err)
		}
	}

	v := user.View()
	return &v, nil
}

// RequestPasswordReset sends a password reset token to email. A new request
// invalidates the previous token.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (err error) {
	var userID string
	defer func() {
		s.events.emit(ctx, Event{Type: EventPasswordResetRequest, UserID: userID, Identifier: email, Err: err})
	}()

	if s.caps.resetMail == nil {
		return ErrNotImplemented
	}

	user, err := normalizeLookup(s.caps.findByEmail(ctx, email))
	if err != nil {
		return s.internal(err, "failed to look up user by email")
	}
	if user == nil {
		return ErrEmailNotFound
	}
	userID = user.ID
	if _, ok := user.PasswordHash(); !ok {
		return ErrNotLocalAccount
	}
	return s.sendToken(ctx, user, s.resetTokens, s.cfg.PasswordResetTokenTTL, s.caps.resetMail.SendPasswordResetEmail)
}

// VerifyResetPasswordToken checks a reset token without consuming it.
func (s *Service) VerifyResetPasswordToken(ctx context.Context, token string) error {
	userID, err := s.resetTokens.GetUserIDByToken(ctx, token)
	if err != nil {
		s.logger.Warn("reset token lookup failed", "error", err)
		return ErrExpiredOrInvalidToken
	}
	if userID == "" {
		return ErrExpiredOrInvalidToken
	}
	return nil
}

// ResetPassword consumes a reset token, sets the new password and ends every
// session of the user.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	var userID string
	defer func() {
		s.events.emit(ctx, Event{Type: EventPasswordReset, UserID: userID, Err: err})
	}()

	userID, err = s.resetTokens.GetUserIDByToken(ctx, token)
	if err != nil || userID == "" {
		if err != nil {
			s.logger.Warn("reset token lookup failed", "error", err)
		}
		return ErrExpiredOrInvalidToken
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}

	user, err := normalizeLookup(s.provider.UpdateUserByID(ctx, userID, UserUpdate{PasswordHash: &hash}))
	if err != nil {
		return s.internal(err, "failed to update password")
	}
	if user == nil {
		return ErrExpiredOrInvalidToken
	}

	if err := s.resetTokens.ClearTokenByUserID(ctx, userID); err != nil {
		s.logger.Warn("reset password could not clear token", "user_id", userID, "error", err)
	}
	if err := s.sessions.ClearUser(ctx, userID); err != nil {
		s.logger.Warn("reset password could not clear sessions", "user_id", userID, "error", err)
	}
	return nil
}

// internal logs err and returns it as a typed error. Errors that already
// carry a category pass through unchanged.
func (s *Service) internal(err error, message string) error {
	rich := asRichError(err, message)
	if rich.Category == goerrors.CategoryInternal || rich.Category == goerrors.CategoryOperation {
		s.logger.Error(message, "error", err)
	}
	return rich
}

func newAuthUser(view UserView, session Session, pair *TokenPair) *AuthUser {
	return &AuthUser{
		UserView:    view,
		SessionID:   session.SessionID,
		AccessToken: session.AccessToken,
		OriginURL:   session.OriginURL,
		Tokens:      pair,
	}
}
