package auth

import (
	"context"
	"time"
)

const (
	emailVerificationNamespace = "verify"
	passwordResetNamespace     = "reset"
)

// VerificationTokenStore maps user ids to single use tokens and back. Each
// user has at most one live token per store.
type VerificationTokenStore struct {
	cache     Cache
	namespace string
}

// NewEmailVerificationStore returns the store used by email verification.
func NewEmailVerificationStore(cache Cache) *VerificationTokenStore {
	return newVerificationTokenStore(cache, emailVerificationNamespace)
}

// NewPasswordResetStore returns the store used by password reset.
func NewPasswordResetStore(cache Cache) *VerificationTokenStore {
	return newVerificationTokenStore(cache, passwordResetNamespace)
}

func newVerificationTokenStore(cache Cache, namespace string) *VerificationTokenStore {
	return &VerificationTokenStore{cache: cache, namespace: namespace}
}

func (s *VerificationTokenStore) userKey(userID string) string {
	return s.namespace + ":user:" + userID
}

func (s *VerificationTokenStore) tokenKey(token string) string {
	return s.namespace + ":token:" + token
}

// SaveToken replaces any live token of userID with token.
func (s *VerificationTokenStore) SaveToken(ctx context.Context, userID, token string, ttl time.Duration) error {
	if err := s.ClearTokenByUserID(ctx, userID); err != nil {
		return err
	}
	if err := s.cache.Set(ctx, s.userKey(userID), token, ttl); err != nil {
		return asRichError(err, "failed to store verification token")
	}
	if err := s.cache.Set(ctx, s.tokenKey(token), userID, ttl); err != nil {
		return asRichError(err, "failed to store verification token")
	}
	return nil
}

// GetTokenByUserID returns "" when no live token exists.
func (s *VerificationTokenStore) GetTokenByUserID(ctx context.Context, userID string) (string, error) {
	token, ok, err := s.cache.Get(ctx, s.userKey(userID))
	if err != nil {
		return "", asRichError(err, "failed to read verification token")
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// GetUserIDByToken returns "" when token is unknown or expired.
func (s *VerificationTokenStore) GetUserIDByToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", nil
	}
	userID, ok, err := s.cache.Get(ctx, s.tokenKey(token))
	if err != nil {
		return "", asRichError(err, "failed to read verification token")
	}
	if !ok {
		return "", nil
	}
	return userID, nil
}

// ClearTokenByUserID removes both directions of the mapping. It succeeds
// when nothing is stored.
func (s *VerificationTokenStore) ClearTokenByUserID(ctx context.Context, userID string) error {
	token, err := s.GetTokenByUserID(ctx, userID)
	if err != nil {
		return err
	}
	keys := []string{s.userKey(userID)}
	if token != "" {
		keys = append(keys, s.tokenKey(token))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		return asRichError(err, "failed to clear verification token")
	}
	return nil
}
