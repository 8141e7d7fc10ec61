package social

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	goerrors "github.com/goliatone/go-errors"
	auth "github.com/hichchidev/hichchi-sub000"
)

// Handler runs the federated sign in round trip. Start sends the browser to
// the provider; Callback signs the user in and redirects back to the origin
// with the access token in the token query parameter.
type Handler struct {
	service   *auth.Service
	states    StateManager
	providers map[string]Provider
	accounts  SocialAccountRepository
	cookies   *auth.CookieManager
	clientURL *url.URL
	logger    auth.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithAccountRepository records provider identities after each sign in.
func WithAccountRepository(repo SocialAccountRepository) HandlerOption {
	return func(h *Handler) {
		h.accounts = repo
	}
}

// WithCookieManager also sets the auth cookies on callback.
func WithCookieManager(cookies *auth.CookieManager) HandlerOption {
	return func(h *Handler) {
		h.cookies = cookies
	}
}

// WithLogger sets the handler logger. It defaults to the service logger.
func WithLogger(logger auth.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler creates a Handler. Redirect targets must share the origin of
// the service's ClientURL; without a ClientURL only relative paths pass.
func NewHandler(service *auth.Service, states StateManager, opts ...HandlerOption) (*Handler, error) {
	h := &Handler{
		service:   service,
		states:    states,
		providers: map[string]Provider{},
		logger:    service.Logger(),
	}

	if raw := service.Config().ClientURL; raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, goerrors.New("client url must be absolute", goerrors.CategoryValidation).
				WithTextCode(auth.TextCodeInvalidConfig)
		}
		h.clientURL = u
	}

	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register adds p under p.Name().
func (h *Handler) Register(p Provider) *Handler {
	h.providers[p.Name()] = p
	return h
}

// Mount registers GET /{provider} and GET /{provider}/callback on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/{provider}", h.Start)
	r.Get("/{provider}/callback", h.Callback)
}

// Start redirects to the provider consent page. The redirect query
// parameter selects where the user lands afterwards.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	provider, err := h.provider(r)
	if err != nil {
		auth.WriteError(w, err)
		return
	}

	redirectURL, err := h.resolveRedirect(r.URL.Query().Get("redirect"))
	if err != nil {
		auth.WriteError(w, err)
		return
	}

	verifier, err := generateCodeVerifier()
	if err != nil {
		auth.WriteError(w, err)
		return
	}

	state, err := h.states.Encode(&OAuthState{
		Provider:     provider.Name(),
		CodeVerifier: verifier,
		RedirectURL:  redirectURL,
	})
	if err != nil {
		h.logger.Error("social state encode failed", "provider", provider.Name(), "error", err)
		auth.WriteError(w, err)
		return
	}

	target := provider.AuthCodeURL(state, WithPKCE(computeCodeChallenge(verifier), "S256"))
	http.Redirect(w, r, target, http.StatusFound)
}

// Callback completes the sign in. State failures are answered directly;
// every later failure redirects to the origin with an error query parameter.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	provider, err := h.provider(r)
	if err != nil {
		auth.WriteError(w, err)
		return
	}

	query := r.URL.Query()
	state, err := h.states.Decode(query.Get("state"))
	if err != nil {
		auth.WriteError(w, err)
		return
	}
	if state.Provider != provider.Name() {
		auth.WriteError(w, ErrInvalidState)
		return
	}

	if providerErr := query.Get("error"); providerErr != "" {
		h.logger.Warn("social provider denied sign in", "provider", provider.Name(), "error", providerErr)
		h.redirect(w, r, state.RedirectURL, url.Values{"error": {providerErr}})
		return
	}

	ctx := auth.WithRequestMeta(r.Context(), auth.RequestMetaFromRequest(r))
	user, err := h.signIn(ctx, provider, query.Get("code"), state)
	if err != nil {
		h.logger.Warn("social sign in failed", "provider", provider.Name(), "error", err)
		h.redirect(w, r, state.RedirectURL, url.Values{"error": {textCode(err)}})
		return
	}

	if h.cookies != nil {
		h.cookies.SetAuthCookies(w, user.Tokens)
	}
	h.redirect(w, r, state.RedirectURL, url.Values{"token": {user.AccessToken}})
}

func (h *Handler) signIn(ctx context.Context, provider Provider, code string, state *OAuthState) (*auth.AuthUser, error) {
	token, err := provider.Exchange(ctx, code, WithCodeVerifier(state.CodeVerifier))
	if err != nil {
		return nil, wrapProviderError(ErrTokenExchangeFailed, provider.Name(), "exchange", err)
	}

	profile, err := provider.UserInfo(ctx, token)
	if err != nil || profile == nil {
		return nil, wrapProviderError(ErrUserInfoFailed, provider.Name(), "user_info", err)
	}
	if profile.Provider == "" {
		profile.Provider = provider.Name()
	}

	user, err := h.service.AuthenticateBySocialProfile(ctx, *profile, state.RedirectURL)
	if err != nil {
		return nil, err
	}

	if h.accounts != nil && profile.ProviderUserID != "" {
		account := &SocialAccount{
			UserID:         user.ID,
			Provider:       profile.Provider,
			ProviderUserID: profile.ProviderUserID,
			Email:          profile.Email,
			Name:           profile.Name,
			AvatarURL:      profile.AvatarURL,
		}
		if err := h.accounts.Upsert(ctx, account); err != nil {
			h.logger.Warn("social account link failed", "provider", profile.Provider, "user_id", user.ID, "error", err)
		}
	}
	return user, nil
}

func (h *Handler) provider(r *http.Request) (Provider, error) {
	p, ok := h.providers[chi.URLParam(r, "provider")]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return p, nil
}

// resolveRedirect validates the requested landing page.
func (h *Handler) resolveRedirect(raw string) (string, error) {
	if raw == "" {
		if h.clientURL != nil {
			return h.clientURL.String(), nil
		}
		return "/", nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrInvalidRedirect
	}
	if !u.IsAbs() {
		if !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(raw, "//") {
			return "", ErrInvalidRedirect
		}
		if h.clientURL != nil {
			return h.clientURL.ResolveReference(u).String(), nil
		}
		return u.String(), nil
	}
	if h.clientURL == nil || u.Scheme != h.clientURL.Scheme || u.Host != h.clientURL.Host {
		return "", ErrInvalidRedirect
	}
	return u.String(), nil
}

func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, target string, params url.Values) {
	u, err := url.Parse(target)
	if err != nil {
		u = &url.URL{Path: "/"}
	}
	q := u.Query()
	for k, v := range params {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

func textCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.TextCode != "" {
		return richErr.TextCode
	}
	return TextCodeSignInFailed
}
