package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// AuthMethod selects where the guard reads the access token from.
type AuthMethod string

const (
	AuthMethodCookie AuthMethod = "COOKIE"
	AuthMethodHeader AuthMethod = "HEADER"
)

// AuthField selects which user field is accepted as sign in identifier.
type AuthField string

const (
	AuthFieldEmail    AuthField = "EMAIL"
	AuthFieldUsername AuthField = "USERNAME"
	AuthFieldBoth     AuthField = "BOTH"
)

// EnvPrefix is prepended to every variable read by LoadConfig.
const EnvPrefix = "AUTH_"

// JWTConfig holds the token codec settings. Access and refresh tokens are
// signed with different secrets.
type JWTConfig struct {
	Secret           string        `env:"SECRET"`
	ExpiresIn        time.Duration `env:"EXPIRES_IN" envDefault:"15m"`
	RefreshSecret    string        `env:"REFRESH_SECRET"`
	RefreshExpiresIn time.Duration `env:"REFRESH_EXPIRES_IN" envDefault:"168h"`
	Issuer           string        `env:"ISSUER"`
}

// Validate implements validation.Validatable.
func (c JWTConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Secret, validation.Required),
		validation.Field(&c.RefreshSecret, validation.Required, validation.By(notEqualTo(c.Secret))),
		validation.Field(&c.ExpiresIn, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.RefreshExpiresIn, validation.Required, validation.Min(c.ExpiresIn)),
	)
}

// CookieConfig controls the cookies written in COOKIE mode.
type CookieConfig struct {
	AccessName  string `env:"ACCESS_NAME" envDefault:"access_token"`
	RefreshName string `env:"REFRESH_NAME" envDefault:"refresh_token"`
	Secret      string `env:"SECRET"`
	Domain      string `env:"DOMAIN"`
	Path        string `env:"PATH" envDefault:"/"`
	SameSite    string `env:"SAME_SITE" envDefault:"lax"`
	Secure      bool   `env:"SECURE" envDefault:"true"`
}

// Validate implements validation.Validatable.
func (c CookieConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.AccessName, validation.Required),
		validation.Field(&c.RefreshName, validation.Required, validation.By(notEqualTo(c.AccessName))),
		validation.Field(&c.SameSite, validation.In("lax", "strict", "none")),
	)
}

// SameSiteMode maps the configured value onto net/http.
func (c CookieConfig) SameSiteMode() http.SameSite {
	switch strings.ToLower(c.SameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// GoogleAuthConfig enables federated sign in with Google when ClientID is set.
type GoogleAuthConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	CallbackURL  string `env:"CALLBACK_URL"`
}

// Enabled reports whether Google sign in is configured.
func (c GoogleAuthConfig) Enabled() bool {
	return c.ClientID != ""
}

// Validate implements validation.Validatable.
func (c GoogleAuthConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.ClientSecret, validation.Required),
		validation.Field(&c.CallbackURL, validation.Required, is.URL),
	)
}

// Config is the engine configuration.
type Config struct {
	JWT        JWTConfig        `envPrefix:"JWT_"`
	Cookies    CookieConfig     `envPrefix:"COOKIE_"`
	GoogleAuth GoogleAuthConfig `envPrefix:"GOOGLE_"`

	AuthMethod AuthMethod `env:"METHOD" envDefault:"COOKIE"`
	AuthField  AuthField  `env:"FIELD" envDefault:"EMAIL"`

	// SessionSecret turns on encryption of the cached session list.
	SessionSecret string `env:"SESSION_SECRET"`

	CheckEmailVerified  bool `env:"CHECK_EMAIL_VERIFIED" envDefault:"false"`
	DisableRegistration bool `env:"DISABLE_REGISTRATION" envDefault:"false"`

	EmailVerifyTokenTTL   time.Duration `env:"EMAIL_VERIFY_TOKEN_TTL" envDefault:"24h"`
	PasswordResetTokenTTL time.Duration `env:"PASSWORD_RESET_TOKEN_TTL" envDefault:"1h"`

	// ClientURL is where social sign in lands when no redirect was requested.
	ClientURL string `env:"CLIENT_URL"`
}

// LoadConfig reads the configuration from AUTH_ prefixed environment
// variables and validates it.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, configError("failed to parse environment", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfig returns a config with defaults applied and no secrets.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			ExpiresIn:        15 * time.Minute,
			RefreshExpiresIn: 7 * 24 * time.Hour,
		},
		Cookies: CookieConfig{
			AccessName:  "access_token",
			RefreshName: "refresh_token",
			Path:        "/",
			SameSite:    "lax",
			Secure:      true,
		},
		AuthMethod:            AuthMethodCookie,
		AuthField:             AuthFieldEmail,
		EmailVerifyTokenTTL:   24 * time.Hour,
		PasswordResetTokenTTL: time.Hour,
	}
}

// Validate checks the configuration. Missing JWT secrets fail here so a
// misconfigured engine never starts.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.JWT),
		validation.Field(&c.AuthMethod, validation.Required, validation.In(AuthMethodCookie, AuthMethodHeader)),
		validation.Field(&c.AuthField, validation.Required, validation.In(AuthFieldEmail, AuthFieldUsername, AuthFieldBoth)),
		validation.Field(&c.GoogleAuth),
		validation.Field(&c.EmailVerifyTokenTTL, validation.Required),
		validation.Field(&c.PasswordResetTokenTTL, validation.Required),
		validation.Field(&c.ClientURL, is.URL),
	)
	if err == nil && c.AuthMethod == AuthMethodCookie {
		err = validation.Validate(c.Cookies)
	}
	if err != nil {
		return configError("invalid auth configuration", err)
	}
	return nil
}

func notEqualTo(other string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != "" && s == other {
			return errors.New("must differ from its counterpart")
		}
		return nil
	}
}
