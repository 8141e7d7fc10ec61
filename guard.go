package auth

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Guard authenticates HTTP requests. In COOKIE mode it refreshes an expired
// or missing access token from the refresh cookie without a round trip to the
// client.
type Guard struct {
	service *Service
	cookies *CookieManager
	method  AuthMethod
	logger  Logger

	// ErrorHandler renders denials. It always receives ErrNotLoggedIn.
	ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)
}

// NewGuard creates a Guard for service.
func NewGuard(service *Service) *Guard {
	cfg := service.Config()
	return &Guard{
		service:      service,
		cookies:      NewCookieManager(cfg.Cookies, cfg.JWT),
		method:       cfg.AuthMethod,
		logger:       service.logger,
		ErrorHandler: func(w http.ResponseWriter, _ *http.Request, err error) { WriteError(w, err) },
	}
}

// WithLogger sets the guard logger.
func (g *Guard) WithLogger(logger Logger) *Guard {
	g.logger = normalizeLogger(logger)
	return g
}

// Cookies returns the cookie manager used in COOKIE mode.
func (g *Guard) Cookies() *CookieManager {
	return g.cookies
}

// Authorize authenticates r. Every denial is ErrNotLoggedIn. Authentication
// failures also clear the auth cookies in COOKIE mode; any other failure is
// logged and denied.
func (g *Guard) Authorize(w http.ResponseWriter, r *http.Request) (*AuthUser, error) {
	user, err := g.authorize(w, r)
	if err == nil {
		return user, nil
	}

	if IsAuthError(err) {
		g.logger.Debug("guard denied request", "path", r.URL.Path, "reason", errorTextCode(err))
		if g.method == AuthMethodCookie {
			g.cookies.ClearAuthCookies(w)
		}
	} else {
		g.logger.Error("guard failed", "path", r.URL.Path, "error", err)
	}
	return nil, ErrNotLoggedIn
}

func (g *Guard) authorize(w http.ResponseWriter, r *http.Request) (*AuthUser, error) {
	ctx := r.Context()
	cookieMode := g.method == AuthMethodCookie

	var accessToken string
	if cookieMode {
		accessToken, _ = g.cookies.AccessToken(r)
	} else {
		accessToken = bearerToken(r)
	}

	if accessToken != "" {
		user, err := g.service.AuthenticateByToken(ctx, accessToken)
		if err == nil {
			return user, nil
		}
		if !cookieMode || !goerrors.Is(err, ErrAccessTokenExpired) {
			return nil, err
		}
	}

	if !cookieMode {
		return nil, ErrNotLoggedIn
	}

	refreshToken, ok := g.cookies.RefreshToken(r)
	if !ok {
		return nil, ErrNotLoggedIn
	}

	cached := g.service.GetUserByToken(ctx, refreshToken, true)
	if cached == nil {
		return nil, ErrNotLoggedIn
	}

	rotated, err := g.service.RotateSession(ctx, cached, refreshToken)
	if err != nil {
		return nil, err
	}
	g.cookies.SetAuthCookies(w, rotated.Tokens)

	user, err := g.service.AuthenticateByToken(ctx, rotated.AccessToken)
	if err != nil {
		return nil, err
	}
	user.Tokens = rotated.Tokens
	return user, nil
}

// Middleware rejects unauthenticated requests and stores the AuthUser on the
// request context.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(WithRequestMeta(r.Context(), RequestMetaFromRequest(r)))
		user, err := g.Authorize(w, r)
		if err != nil {
			g.ErrorHandler(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), user)))
	})
}

// Optional authenticates when it can and lets the request through either way.
func (g *Guard) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(WithRequestMeta(r.Context(), RequestMetaFromRequest(r)))
		if user, err := g.Authorize(w, r); err == nil {
			r = r.WithContext(WithContext(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func errorTextCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}
