package auth

import (
	"context"
	"encoding/json"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const userKeyPrefix = "user:"

// SessionStore keeps one CachedUser per user id in the Cache. When a session
// secret is set the session list is encrypted at rest.
type SessionStore struct {
	cache         Cache
	sessionSecret string
	ttl           time.Duration
	logger        Logger
}

// NewSessionStore creates a SessionStore. ttl bounds the lifetime of an
// untouched record, normally the refresh token lifetime.
func NewSessionStore(cache Cache, sessionSecret string, ttl time.Duration, logger Logger) *SessionStore {
	return &SessionStore{
		cache:         cache,
		sessionSecret: sessionSecret,
		ttl:           ttl,
		logger:        normalizeLogger(logger),
	}
}

// SetUser persists cached. The argument is never modified.
func (s *SessionStore) SetUser(ctx context.Context, cached *CachedUser) error {
	if cached == nil || cached.ID == "" {
		return goerrors.New("cached user must have an id", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	record := *cached
	record.Sessions = append([]Session(nil), cached.Sessions...)
	record.EncryptedSessions = ""

	if s.sessionSecret != "" {
		plain, err := json.Marshal(record.Sessions)
		if err != nil {
			return asRichError(err, "failed to encode sessions")
		}
		blob, err := EncryptSessions(plain, s.sessionSecret)
		if err != nil {
			return asRichError(err, "failed to encrypt sessions")
		}
		record.Sessions = []Session{}
		record.EncryptedSessions = blob
	}

	data, err := json.Marshal(record)
	if err != nil {
		return asRichError(err, "failed to encode cached user")
	}
	if err := s.cache.Set(ctx, userKeyPrefix+cached.ID, string(data), s.ttl); err != nil {
		return asRichError(err, "failed to store cached user")
	}
	return nil
}

// GetUser returns the cached user or nil. Cache errors, corrupt records and
// records that cannot be decrypted all read as a miss.
func (s *SessionStore) GetUser(ctx context.Context, userID string) *CachedUser {
	if userID == "" {
		return nil
	}

	raw, ok, err := s.cache.Get(ctx, userKeyPrefix+userID)
	if err != nil {
		s.logger.Warn("session store get failed", "user_id", userID, "error", err)
		return nil
	}
	if !ok {
		return nil
	}

	var cached CachedUser
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		s.logger.Warn("session store decode failed", "user_id", userID, "error", err)
		return nil
	}

	if cached.EncryptedSessions != "" {
		if s.sessionSecret == "" {
			s.logger.Warn("session store found encrypted sessions without a secret", "user_id", userID)
			return nil
		}
		plain, err := DecryptSessions(cached.EncryptedSessions, s.sessionSecret)
		if err != nil {
			s.logger.Warn("session store decrypt failed", "user_id", userID, "error", err)
			return nil
		}
		var sessions []Session
		if err := json.Unmarshal(plain, &sessions); err != nil {
			s.logger.Warn("session store decode sessions failed", "user_id", userID, "error", err)
			return nil
		}
		cached.Sessions = sessions
		cached.EncryptedSessions = ""
	}

	if cached.Sessions == nil {
		cached.Sessions = []Session{}
	}
	return &cached
}

// ClearUser removes the record of userID.
func (s *SessionStore) ClearUser(ctx context.Context, userID string) error {
	if err := s.cache.Delete(ctx, userKeyPrefix+userID); err != nil {
		return asRichError(err, "failed to clear cached user")
	}
	return nil
}
