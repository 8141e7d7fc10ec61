package social

import "github.com/goliatone/go-errors"

// Text codes reach the client as the ?error= parameter of the callback
// redirect, next to the engine codes.
const (
	TextCodeProviderNotFound  = "SOCIAL_PROVIDER_NOT_FOUND"
	TextCodeInvalidState      = "SOCIAL_INVALID_STATE"
	TextCodeStateExpired      = "SOCIAL_STATE_EXPIRED"
	TextCodeInvalidRedirect   = "SOCIAL_INVALID_REDIRECT"
	TextCodeTokenExchangeFail = "SOCIAL_TOKEN_EXCHANGE_FAILED"
	TextCodeUserInfoFail      = "SOCIAL_USER_INFO_FAILED"
	TextCodeSignInFailed      = "SOCIAL_SIGN_IN_FAILED"
)

var (
	ErrProviderNotFound = errors.New("no such sign in provider", errors.CategoryNotFound).
		WithCode(errors.CodeNotFound).
		WithTextCode(TextCodeProviderNotFound)

	// ErrInvalidState covers forged or foreign state values.
	ErrInvalidState = errors.New("sign in state is not valid", errors.CategoryBadInput).
		WithCode(errors.CodeBadRequest).
		WithTextCode(TextCodeInvalidState)

	ErrStateExpired = errors.New("sign in took too long, start again", errors.CategoryBadInput).
		WithCode(errors.CodeBadRequest).
		WithTextCode(TextCodeStateExpired)

	ErrInvalidRedirect = errors.New("redirect target must share the client origin", errors.CategoryBadInput).
		WithCode(errors.CodeBadRequest).
		WithTextCode(TextCodeInvalidRedirect)

	ErrTokenExchangeFailed = errors.New("provider rejected the authorization code", errors.CategoryAuth).
		WithCode(errors.CodeUnauthorized).
		WithTextCode(TextCodeTokenExchangeFail)

	ErrUserInfoFailed = errors.New("provider profile could not be loaded", errors.CategoryAuth).
		WithCode(errors.CodeUnauthorized).
		WithTextCode(TextCodeUserInfoFail)
)
