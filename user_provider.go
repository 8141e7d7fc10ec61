package auth

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
)

// UserProvider is the host application's user data source. The engine never
// stores users itself.
type UserProvider interface {
	GetUserByID(ctx context.Context, id string) (*User, error)
	UpdateUserByID(ctx context.Context, id string, update UserUpdate) (*User, error)
	SignUpUser(ctx context.Context, input SignUpInput) (*User, error)
}

// UserByEmailFinder is required when AuthField is EMAIL, for social sign in
// and for the email driven flows.
type UserByEmailFinder interface {
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

// UserByUsernameFinder is required when AuthField is USERNAME.
type UserByUsernameFinder interface {
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// UserByUsernameOrEmailFinder is required when AuthField is BOTH.
type UserByUsernameOrEmailFinder interface {
	GetUserByUsernameOrEmail(ctx context.Context, identifier string) (*User, error)
}

// VerificationEmailSender delivers email verification tokens. Required when
// CheckEmailVerified is set.
type VerificationEmailSender interface {
	SendVerificationEmail(ctx context.Context, user *User, token string) error
}

// PasswordResetEmailSender delivers password reset tokens.
type PasswordResetEmailSender interface {
	SendPasswordResetEmail(ctx context.Context, user *User, token string) error
}

type providerCapabilities struct {
	byEmail           UserByEmailFinder
	byUsername        UserByUsernameFinder
	byUsernameOrEmail UserByUsernameOrEmailFinder
	verificationMail  VerificationEmailSender
	resetMail         PasswordResetEmailSender
}

// resolveCapabilities detects the optional interfaces of provider and fails
// when the configuration depends on one that is missing.
func resolveCapabilities(provider UserProvider, cfg Config) (providerCapabilities, error) {
	var caps providerCapabilities
	caps.byEmail, _ = provider.(UserByEmailFinder)
	caps.byUsername, _ = provider.(UserByUsernameFinder)
	caps.byUsernameOrEmail, _ = provider.(UserByUsernameOrEmailFinder)
	caps.verificationMail, _ = provider.(VerificationEmailSender)
	caps.resetMail, _ = provider.(PasswordResetEmailSender)

	switch cfg.AuthField {
	case AuthFieldUsername:
		if caps.byUsername == nil {
			return caps, configError("auth field USERNAME requires GetUserByUsername", nil)
		}
	case AuthFieldBoth:
		if caps.byUsernameOrEmail == nil {
			return caps, configError("auth field BOTH requires GetUserByUsernameOrEmail", nil)
		}
	default:
		if caps.byEmail == nil {
			return caps, configError("auth field EMAIL requires GetUserByEmail", nil)
		}
	}

	if cfg.CheckEmailVerified && caps.verificationMail == nil {
		return caps, configError("email verification requires SendVerificationEmail", nil)
	}
	if cfg.GoogleAuth.Enabled() && caps.byEmail == nil {
		return caps, configError("google sign in requires GetUserByEmail", nil)
	}
	return caps, nil
}

func (c providerCapabilities) findByIdentifier(ctx context.Context, field AuthField, identifier string) (*User, error) {
	switch field {
	case AuthFieldUsername:
		return c.byUsername.GetUserByUsername(ctx, identifier)
	case AuthFieldBoth:
		return c.byUsernameOrEmail.GetUserByUsernameOrEmail(ctx, identifier)
	default:
		return c.byEmail.GetUserByEmail(ctx, identifier)
	}
}

func (c providerCapabilities) findByEmail(ctx context.Context, email string) (*User, error) {
	if c.byEmail == nil {
		return nil, ErrNotImplemented
	}
	return c.byEmail.GetUserByEmail(ctx, email)
}

// normalizeLookup folds "not found" outcomes into a nil user.
func normalizeLookup(user *User, err error) (*User, error) {
	if err != nil {
		if goerrors.Is(err, ErrUserNotFound) || goerrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}
