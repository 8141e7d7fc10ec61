package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"
)

// CookieManager writes and reads the signed access and refresh cookies.
type CookieManager struct {
	cfg        CookieConfig
	accessTTL  time.Duration
	refreshTTL time.Duration
	secret     []byte
	now        func() time.Time
}

// NewCookieManager creates a CookieManager. When cfg.Secret is empty the
// access token secret signs cookie values.
func NewCookieManager(cfg CookieConfig, jwt JWTConfig) *CookieManager {
	secret := cfg.Secret
	if secret == "" {
		secret = jwt.Secret
	}
	return &CookieManager{
		cfg:        cfg,
		accessTTL:  jwt.ExpiresIn,
		refreshTTL: jwt.RefreshExpiresIn,
		secret:     []byte(secret),
		now:        time.Now,
	}
}

// SetAuthCookies writes both cookies for pair.
func (m *CookieManager) SetAuthCookies(w http.ResponseWriter, pair *TokenPair) {
	if pair == nil {
		return
	}
	http.SetCookie(w, m.cookie(m.cfg.AccessName, m.sign(pair.AccessToken), m.accessTTL))
	http.SetCookie(w, m.cookie(m.cfg.RefreshName, m.sign(pair.RefreshToken), m.refreshTTL))
}

// ClearAuthCookies expires both cookies.
func (m *CookieManager) ClearAuthCookies(w http.ResponseWriter) {
	for _, name := range []string{m.cfg.AccessName, m.cfg.RefreshName} {
		c := m.cookie(name, "", 0)
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		http.SetCookie(w, c)
	}
}

// AccessToken returns the verified access token cookie value.
func (m *CookieManager) AccessToken(r *http.Request) (string, bool) {
	return m.read(r, m.cfg.AccessName)
}

// RefreshToken returns the verified refresh token cookie value.
func (m *CookieManager) RefreshToken(r *http.Request) (string, bool) {
	return m.read(r, m.cfg.RefreshName)
}

func (m *CookieManager) read(r *http.Request, name string) (string, bool) {
	c, err := r.Cookie(name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return m.unsign(c.Value)
}

// cookie builds an auth cookie. MaxAge is in seconds and matches the token
// lifetime.
func (m *CookieManager) cookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     m.cfg.Path,
		Domain:   m.cfg.Domain,
		MaxAge:   int(ttl / time.Second),
		Expires:  m.now().Add(ttl),
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: m.cfg.SameSiteMode(),
	}
}

func (m *CookieManager) sign(value string) string {
	return value + "." + m.signature(value)
}

func (m *CookieManager) unsign(signed string) (string, bool) {
	idx := strings.LastIndexByte(signed, '.')
	if idx <= 0 {
		return "", false
	}
	value, sig := signed[:idx], signed[idx+1:]
	if !hmac.Equal([]byte(sig), []byte(m.signature(value))) {
		return "", false
	}
	return value, true
}

func (m *CookieManager) signature(value string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(value))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
