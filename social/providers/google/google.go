// Package google signs users in with Google's OAuth 2.0 / OpenID Connect
// endpoints.
package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	auth "github.com/hichchidev/hichchi-sub000"
	"github.com/hichchidev/hichchi-sub000/social"
)

// ProviderName identifies Google on social profiles and accounts.
const ProviderName = "google"

const (
	defaultAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultTokenURL    = "https://oauth2.googleapis.com/token"
	defaultUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

	opExchange = "exchange"
	opUserInfo = "user_info"
)

// Config holds Google OAuth configuration. The endpoint URLs default to
// Google's and are only overridden in tests.
type Config struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	AuthURL     string
	TokenURL    string
	UserInfoURL string

	HTTPClient *http.Client
}

// FromAuthConfig builds a Config from the engine's Google settings.
func FromAuthConfig(cfg auth.GoogleAuthConfig) Config {
	return Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		CallbackURL:  cfg.CallbackURL,
	}
}

// DefaultScopes are requested unless Config.Scopes is set.
func DefaultScopes() []string {
	return []string{"openid", "email", "profile"}
}

// Provider implements social.Provider for Google.
type Provider struct {
	cfg    Config
	client *http.Client
}

var _ social.Provider = (*Provider)(nil)

// New creates a Google provider, filling endpoint and scope defaults.
func New(cfg Config) *Provider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}
	cfg.AuthURL = orDefault(cfg.AuthURL, defaultAuthURL)
	cfg.TokenURL = orDefault(cfg.TokenURL, defaultTokenURL)
	cfg.UserInfoURL = orDefault(cfg.UserInfoURL, defaultUserInfoURL)

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Provider{cfg: cfg, client: client}
}

func (p *Provider) Name() string { return ProviderName }

// AuthCodeURL builds the consent screen URL.
func (p *Provider) AuthCodeURL(state string, opts ...social.AuthCodeOption) string {
	o := social.ApplyAuthCodeOptions(p.cfg.Scopes, opts...)

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", p.cfg.ClientID)
	q.Set("redirect_uri", p.cfg.CallbackURL)
	q.Set("scope", strings.Join(o.Scopes, " "))
	q.Set("state", state)
	if o.CodeChallenge != "" {
		q.Set("code_challenge", o.CodeChallenge)
		q.Set("code_challenge_method", orDefault(o.CodeChallengeMethod, "S256"))
	}
	if o.Prompt != "" {
		q.Set("prompt", o.Prompt)
	}
	return p.cfg.AuthURL + "?" + q.Encode()
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Exchange trades an authorization code for tokens.
func (p *Provider) Exchange(ctx context.Context, code string, opts ...social.ExchangeOption) (*social.Token, error) {
	o := social.ApplyExchangeOptions(opts...)

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", p.cfg.ClientID)
	form.Set("client_secret", p.cfg.ClientSecret)
	form.Set("redirect_uri", p.cfg.CallbackURL)
	if o.CodeVerifier != "" {
		form.Set("code_verifier", o.CodeVerifier)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, failure(opExchange, 0, "", "", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var res tokenResponse
	if err := p.call(req, opExchange, &res); err != nil {
		return nil, err
	}
	if res.AccessToken == "" {
		return nil, failure(opExchange, http.StatusOK, "missing_access_token", "token response had no access token", nil)
	}

	token := &social.Token{
		AccessToken:  res.AccessToken,
		TokenType:    res.TokenType,
		RefreshToken: res.RefreshToken,
		Scopes:       strings.Fields(res.Scope),
	}
	if res.ExpiresIn > 0 {
		token.ExpiresAt = time.Now().Add(time.Duration(res.ExpiresIn) * time.Second)
	}
	return token, nil
}

type userInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}

// UserInfo loads the OpenID profile for token.
func (p *Provider) UserInfo(ctx context.Context, token *social.Token) (*auth.SocialProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.UserInfoURL, nil)
	if err != nil {
		return nil, failure(opUserInfo, 0, "", "", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	var info userInfo
	if err := p.call(req, opUserInfo, &info); err != nil {
		return nil, err
	}
	return &auth.SocialProfile{
		Provider:       ProviderName,
		ProviderUserID: info.Sub,
		Email:          info.Email,
		EmailVerified:  info.EmailVerified,
		Name:           info.Name,
		FirstName:      info.GivenName,
		LastName:       info.FamilyName,
		AvatarURL:      info.Picture,
	}, nil
}

// call sends req and decodes a 200 body into out. Any other status becomes a
// ProviderError carrying Google's error code.
func (p *Provider) call(req *http.Request, op string, out any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return failure(op, 0, "", "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return failure(op, resp.StatusCode, "", "", err)
	}

	if resp.StatusCode != http.StatusOK {
		code, desc := errorDetails(body)
		return failure(op, resp.StatusCode, code, desc, nil)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return failure(op, resp.StatusCode, "invalid_response", "response was not valid JSON", err)
	}
	return nil
}

// errorDetails understands both the OAuth error shape
// {"error":"invalid_grant"} and the Google API shape
// {"error":{"status":"UNAUTHENTICATED","message":"..."}}.
func errorDetails(body []byte) (code, description string) {
	var envelope struct {
		Error            json.RawMessage `json:"error"`
		ErrorDescription string          `json:"error_description"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error) == 0 {
		return "", strings.TrimSpace(string(body))
	}

	if err := json.Unmarshal(envelope.Error, &code); err == nil {
		return code, envelope.ErrorDescription
	}

	var api struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(envelope.Error, &api); err != nil {
		return "", strings.TrimSpace(string(body))
	}
	code = api.Status
	if code == "" && api.Code != 0 {
		code = strconv.Itoa(api.Code)
	}
	return code, api.Message
}

func failure(op string, status int, code, description string, err error) *social.ProviderError {
	return &social.ProviderError{
		Provider:    ProviderName,
		Operation:   op,
		Status:      status,
		Code:        code,
		Description: description,
		Err:         err,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
