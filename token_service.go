package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	goerrors "github.com/goliatone/go-errors"
)

// Claims is the JWT claim set carried by access and refresh tokens.
type Claims struct {
	jwt.RegisteredClaims
}

// Payload returns the JwtPayload embedded in the claims.
func (c *Claims) Payload() JwtPayload {
	return JwtPayload{Sub: c.Subject}
}

// TokenService signs and verifies access and refresh tokens with HS256.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	logger        Logger
	now           func() time.Time
}

// NewTokenService creates a TokenService from the JWT settings.
func NewTokenService(cfg JWTConfig, logger Logger) *TokenService {
	return &TokenService{
		accessSecret:  []byte(cfg.Secret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.ExpiresIn,
		refreshTTL:    cfg.RefreshExpiresIn,
		issuer:        cfg.Issuer,
		logger:        normalizeLogger(logger),
		now:           time.Now,
	}
}

// WithClock replaces the time source.
func (ts *TokenService) WithClock(now func() time.Time) *TokenService {
	if now != nil {
		ts.now = now
	}
	return ts
}

// CreateAccessToken signs payload with the access secret.
func (ts *TokenService) CreateAccessToken(payload JwtPayload) (string, time.Time, error) {
	return ts.sign(payload, ts.accessSecret, ts.accessTTL)
}

// CreateRefreshToken signs payload with the refresh secret.
func (ts *TokenService) CreateRefreshToken(payload JwtPayload) (string, time.Time, error) {
	return ts.sign(payload, ts.refreshSecret, ts.refreshTTL)
}

// CreateTokenPair mints an access and a refresh token for payload.
func (ts *TokenService) CreateTokenPair(payload JwtPayload) (*TokenPair, error) {
	access, accessExp, err := ts.CreateAccessToken(payload)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := ts.CreateRefreshToken(payload)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:           access,
		RefreshToken:          refresh,
		AccessTokenExpiresOn:  accessExp,
		RefreshTokenExpiresOn: refreshExp,
	}, nil
}

// VerifyAccessToken returns ErrTokenExpired or ErrTokenInvalid on failure.
func (ts *TokenService) VerifyAccessToken(token string) (JwtPayload, error) {
	return ts.verify(token, ts.accessSecret)
}

// VerifyRefreshToken returns ErrTokenExpired or ErrTokenInvalid on failure.
func (ts *TokenService) VerifyRefreshToken(token string) (JwtPayload, error) {
	return ts.verify(token, ts.refreshSecret)
}

// GetExpiry decodes the exp claim without checking the signature. Only use
// the result for display.
func (ts *TokenService) GetExpiry(token string) (time.Time, bool) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func (ts *TokenService) sign(payload JwtPayload, secret []byte, ttl time.Duration) (string, time.Time, error) {
	if payload.Sub == "" {
		return "", time.Time{}, goerrors.New("token subject must not be empty", goerrors.CategoryInternal).
			WithCode(goerrors.CodeInternal)
	}

	now := ts.now()
	expiresAt := now.Add(ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   payload.Sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT").
			WithCode(goerrors.CodeInternal)
	}
	return signed, claims.ExpiresAt.Time, nil
}

func (ts *TokenService) verify(token string, secret []byte) (JwtPayload, error) {
	if token == "" {
		return JwtPayload{}, ErrTokenInvalid
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.now),
	}
	if ts.issuer != "" {
		opts = append(opts, jwt.WithIssuer(ts.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Warn("token service unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, opts...)
	if err != nil {
		if goerrors.Is(err, jwt.ErrTokenExpired) {
			return JwtPayload{}, ErrTokenExpired
		}
		ts.logger.Debug("token service rejected token", "error", err)
		return JwtPayload{}, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return JwtPayload{}, ErrTokenInvalid
	}
	return claims.Payload(), nil
}
