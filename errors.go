package auth

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCreds          = "INVALID_CREDENTIALS"
	TextCodeNotLocalAccount       = "NOT_LOCAL_ACCOUNT"
	TextCodeEmailNotVerified      = "EMAIL_NOT_VERIFIED"
	TextCodeEmailAlreadyVerified  = "EMAIL_ALREADY_VERIFIED"
	TextCodeEmailNotFound         = "EMAIL_NOT_FOUND"
	TextCodeInvalidToken          = "INVALID_TOKEN"
	TextCodeTokenExpired          = "TOKEN_EXPIRED"
	TextCodeInvalidRefreshToken   = "INVALID_REFRESH_TOKEN"
	TextCodeRefreshTokenExpired   = "REFRESH_TOKEN_EXPIRED"
	TextCodeExpiredOrInvalidToken = "EXPIRED_OR_INVALID_TOKEN"
	TextCodeNotLoggedIn           = "NOT_LOGGED_IN"
	TextCodeNotImplemented        = "NOT_IMPLEMENTED"
	TextCodeRegistrationDisabled  = "REGISTRATION_DISABLED"
	TextCodeSocialSignUpFailed    = "SOCIAL_SIGN_UP_FAILED"
	TextCodeSendEmailFailed       = "SEND_EMAIL_FAILED"
	TextCodeUserNotFound          = "USER_NOT_FOUND"
	TextCodeEmptyPassword         = "EMPTY_PASSWORD"
	TextCodePasswordTooShort      = "PASSWORD_TOO_SHORT"
	TextCodePasswordTooLong       = "PASSWORD_TOO_LONG"
	TextCodeSessionDecryptFailed  = "SESSION_DECRYPT_FAILED"
	TextCodeInvalidConfig         = "INVALID_CONFIG"
	TextCodeUserAlreadyExists     = "USER_ALREADY_EXISTS"
)

// ErrInvalidCredentials is deliberately generic so callers cannot tell a
// missing account from a wrong password.
var ErrInvalidCredentials = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeInvalidCreds)

// ErrNotLocalAccount is returned when a federated-only account tries a
// password based operation.
var ErrNotLocalAccount = goerrors.New("account was created with a social provider", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeNotLocalAccount)

// ErrEmailNotVerified is returned when email verification is enforced.
var ErrEmailNotVerified = goerrors.New("email address is not verified", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeEmailNotVerified)

// ErrEmailAlreadyVerified is returned when asking to verify a verified email.
var ErrEmailAlreadyVerified = goerrors.New("email address is already verified", goerrors.CategoryBadInput).
	WithCode(goerrors.CodeBadRequest).
	WithTextCode(TextCodeEmailAlreadyVerified)

// ErrEmailNotFound is returned by the email driven flows.
var ErrEmailNotFound = goerrors.New("no account found for email", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound).
	WithTextCode(TextCodeEmailNotFound)

// ErrInvalidToken is returned for access tokens that fail verification or do
// not belong to an active session.
var ErrInvalidToken = goerrors.New("invalid access token", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeInvalidToken)

// ErrAccessTokenExpired is returned for correctly signed but expired access
// tokens. Only this outcome lets the guard try a silent refresh.
var ErrAccessTokenExpired = goerrors.New("access token has expired", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeTokenExpired)

// ErrInvalidRefreshToken is returned for refresh tokens that fail verification
// or belong to no active session.
var ErrInvalidRefreshToken = goerrors.New("invalid refresh token", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeInvalidRefreshToken)

// ErrRefreshTokenExpired is returned for expired refresh tokens.
var ErrRefreshTokenExpired = goerrors.New("refresh token has expired", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeRefreshTokenExpired)

// ErrExpiredOrInvalidToken covers verification token lookups with no match.
// Expired and unknown tokens are indistinguishable on purpose.
var ErrExpiredOrInvalidToken = goerrors.New("token is expired or invalid", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeExpiredOrInvalidToken)

// ErrNotLoggedIn is the guard's denial.
var ErrNotLoggedIn = goerrors.New("not logged in", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeNotLoggedIn)

// ErrNotImplemented is returned when the UserProvider lacks a capability the
// requested flow needs.
var ErrNotImplemented = goerrors.New("user provider does not implement this operation", goerrors.CategoryInternal).
	WithCode(goerrors.CodeInternal).
	WithTextCode(TextCodeNotImplemented)

// ErrRegistrationDisabled is returned by Register when sign up is turned off.
var ErrRegistrationDisabled = goerrors.New("registration is disabled", goerrors.CategoryAuthz).
	WithCode(goerrors.CodeForbidden).
	WithTextCode(TextCodeRegistrationDisabled)

// ErrSocialSignUpFailed hides provider errors raised while creating a user
// from a social profile.
var ErrSocialSignUpFailed = goerrors.New("could not sign up with social profile", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeSocialSignUpFailed)

// ErrSendEmailFailed is returned when a token could not be stored or sent.
var ErrSendEmailFailed = goerrors.New("could not send email", goerrors.CategoryOperation).
	WithCode(goerrors.CodeInternal).
	WithTextCode(TextCodeSendEmailFailed)

// ErrUserNotFound is what UserProvider implementations return for unknown
// users. Returning a nil user with a nil error is treated the same way.
var ErrUserNotFound = goerrors.New("user not found", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound).
	WithTextCode(TextCodeUserNotFound)

// ErrUserAlreadyExists is returned by Register for a taken email or username.
var ErrUserAlreadyExists = goerrors.New("user already exists", goerrors.CategoryConflict).
	WithCode(goerrors.CodeConflict).
	WithTextCode(TextCodeUserAlreadyExists)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
	WithCode(goerrors.CodeBadRequest).
	WithTextCode(TextCodeEmptyPassword)

// ErrPasswordTooShort is returned by GenerateRandomPassword for length < 4.
var ErrPasswordTooShort = goerrors.New("random password length must be at least 4", goerrors.CategoryBadInput).
	WithCode(goerrors.CodeBadRequest).
	WithTextCode(TextCodePasswordTooShort)

// ErrPasswordTooLong is returned by HashPassword when the password exceeds
// MaxPasswordBytes.
var ErrPasswordTooLong = goerrors.New("password must be at most 72 bytes", goerrors.CategoryValidation).
	WithCode(goerrors.CodeBadRequest).
	WithTextCode(TextCodePasswordTooLong)

// ErrTokenExpired is the codec level expiry error.
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeTokenExpired)

// ErrTokenInvalid is the codec level signature/format error.
var ErrTokenInvalid = goerrors.New("token is invalid", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeInvalidToken)

// ErrSessionDecryptFailed is returned for tampered blobs or wrong secrets.
var ErrSessionDecryptFailed = goerrors.New("could not decrypt sessions", goerrors.CategoryInternal).
	WithCode(goerrors.CodeInternal).
	WithTextCode(TextCodeSessionDecryptFailed)

// IsAuthError reports whether err is an authentication failure, the class
// the guard answers by clearing auth cookies.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Category == goerrors.CategoryAuth
	}
	return false
}

// asRichError keeps typed errors unchanged and wraps everything else as an
// internal error.
func asRichError(err error, message string) *goerrors.Error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithCode(goerrors.CodeInternal)
}

func configError(message string, err error) *goerrors.Error {
	if err == nil {
		return goerrors.New(message, goerrors.CategoryValidation).
			WithTextCode(TextCodeInvalidConfig)
	}
	return goerrors.Wrap(err, goerrors.CategoryValidation, message).
		WithTextCode(TextCodeInvalidConfig)
}
