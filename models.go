package auth

import (
	"strings"
	"time"
)

// Sign up types recorded on UserView.SignUpType.
const (
	SignUpTypeLocal = "local"
)

// Account is either a LocalAccount or a FederatedAccount.
type Account interface {
	isAccount()
}

// LocalAccount is an account that signs in with a password.
type LocalAccount struct {
	PasswordHash string
}

func (LocalAccount) isAccount() {}

// FederatedAccount is an account created through a social provider. It has no
// password and cannot use password based flows.
type FederatedAccount struct {
	Provider string
}

func (FederatedAccount) isAccount() {}

// User is owned by the host application and supplied through UserProvider.
type User struct {
	ID            string
	Email         string
	Username      string
	FirstName     string
	LastName      string
	Role          string
	EmailVerified bool
	Account       Account
}

// PasswordHash returns the hash of a local account.
func (u *User) PasswordHash() (string, bool) {
	if u == nil {
		return "", false
	}
	switch acc := u.Account.(type) {
	case LocalAccount:
		return acc.PasswordHash, acc.PasswordHash != ""
	case *LocalAccount:
		if acc == nil {
			return "", false
		}
		return acc.PasswordHash, acc.PasswordHash != ""
	default:
		return "", false
	}
}

// SignUpType returns "local" or the federated provider name.
func (u *User) SignUpType() string {
	switch acc := u.Account.(type) {
	case FederatedAccount:
		return acc.Provider
	case *FederatedAccount:
		if acc != nil {
			return acc.Provider
		}
	}
	return SignUpTypeLocal
}

// View projects the user into the fields safe to cache and return.
func (u *User) View() UserView {
	return UserView{
		ID:            u.ID,
		Email:         u.Email,
		Username:      u.Username,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Role:          u.Role,
		EmailVerified: u.EmailVerified,
		SignUpType:    u.SignUpType(),
	}
}

// UserView is the password free projection of a User.
type UserView struct {
	ID            string `json:"id"`
	Email         string `json:"email,omitempty"`
	Username      string `json:"username,omitempty"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	Role          string `json:"role,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	SignUpType    string `json:"sign_up_type,omitempty"`
}

// FullName joins first and last name.
func (v UserView) FullName() string {
	return strings.TrimSpace(v.FirstName + " " + v.LastName)
}

// UserUpdate lists the fields the engine writes back through the provider.
// Nil fields are left untouched.
type UserUpdate struct {
	PasswordHash  *string
	EmailVerified *bool
}

// SignUpInput is passed to UserProvider.SignUpUser.
type SignUpInput struct {
	Email         string
	Username      string
	FirstName     string
	LastName      string
	EmailVerified bool
	Account       Account
}

// SocialProfile is the normalized profile handed over by a social provider.
type SocialProfile struct {
	Provider       string
	ProviderUserID string
	Email          string
	EmailVerified  bool
	FirstName      string
	LastName       string
	Name           string
	AvatarURL      string
}

// TokenPair is minted on every sign in and refresh. A pair is never mutated,
// the next one supersedes it.
type TokenPair struct {
	AccessToken           string    `json:"access_token"`
	RefreshToken          string    `json:"refresh_token"`
	AccessTokenExpiresOn  time.Time `json:"access_token_expires_on"`
	RefreshTokenExpiresOn time.Time `json:"refresh_token_expires_on"`
}

// Session is one logical login, one device or browser.
type Session struct {
	SessionID    string `json:"session_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	OriginURL    string `json:"origin_url,omitempty"`
}

// CachedUser is the cache resident projection of a user and its sessions.
// When a session secret is configured Sessions is stored empty and the
// list lives in EncryptedSessions.
type CachedUser struct {
	UserView
	Sessions          []Session `json:"sessions"`
	EncryptedSessions string    `json:"encrypted_sessions,omitempty"`
}

// SessionByAccessToken returns the session holding accessToken.
func (c *CachedUser) SessionByAccessToken(accessToken string) (Session, bool) {
	for _, s := range c.Sessions {
		if s.AccessToken == accessToken {
			return s, true
		}
	}
	return Session{}, false
}

// SessionByRefreshToken returns the session holding refreshToken.
func (c *CachedUser) SessionByRefreshToken(refreshToken string) (Session, bool) {
	for _, s := range c.Sessions {
		if s.RefreshToken == refreshToken {
			return s, true
		}
	}
	return Session{}, false
}

func withoutSession(sessions []Session, keep func(Session) bool) []Session {
	out := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

// JwtPayload is the payload embedded in access and refresh tokens.
type JwtPayload struct {
	Sub string `json:"sub"`
}

// AuthUser is an authenticated identity.
type AuthUser struct {
	UserView
	SessionID   string `json:"session_id"`
	AccessToken string `json:"access_token"`
	OriginURL   string `json:"origin_url,omitempty"`
	// Tokens is set when the call that produced the AuthUser minted a pair.
	Tokens *TokenPair `json:"-"`
}

// TokenResponse is the body returned to clients after sign in or refresh.
type TokenResponse struct {
	AccessToken           string    `json:"access_token"`
	RefreshToken          string    `json:"refresh_token"`
	AccessTokenExpiresOn  time.Time `json:"access_token_expires_on"`
	RefreshTokenExpiresOn time.Time `json:"refresh_token_expires_on"`
	SessionID             string    `json:"session_id,omitempty"`
	User                  *UserView `json:"user,omitempty"`
}
