package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-print"
)

// ControllerRoutes holds the paths mounted by Controller.
type ControllerRoutes struct {
	Register             string
	SignIn               string
	Refresh              string
	SignOut              string
	Me                   string
	ChangePassword       string
	RequestVerification  string
	ResendVerification   string
	VerifyEmail          string
	RequestPasswordReset string
	VerifyResetToken     string
	ResetPassword        string
}

// Controller exposes Service over JSON HTTP.
type Controller struct {
	Debug   bool
	Logger  Logger
	Routes  *ControllerRoutes
	service *Service
	guard   *Guard
	limiter *RateLimiter
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller) *Controller

// WithControllerDebug dumps request payloads to the logger.
func WithControllerDebug(debug bool) ControllerOption {
	return func(c *Controller) *Controller {
		c.Debug = debug
		return c
	}
}

// WithControllerLogger sets the controller logger.
func WithControllerLogger(logger Logger) ControllerOption {
	return func(c *Controller) *Controller {
		c.Logger = normalizeLogger(logger)
		return c
	}
}

// WithRateLimiter throttles the credential endpoints.
func WithRateLimiter(limiter *RateLimiter) ControllerOption {
	return func(c *Controller) *Controller {
		c.limiter = limiter
		return c
	}
}

// NewController creates a Controller with default routes.
func NewController(service *Service, guard *Guard, opts ...ControllerOption) *Controller {
	c := &Controller{
		Logger:  service.logger,
		service: service,
		guard:   guard,
		Routes: &ControllerRoutes{
			Register:             "/register",
			SignIn:               "/sign-in",
			Refresh:              "/refresh-token",
			SignOut:              "/sign-out",
			Me:                   "/me",
			ChangePassword:       "/change-password",
			RequestVerification:  "/request-verification",
			ResendVerification:   "/resend-verification",
			VerifyEmail:          "/verify-email",
			RequestPasswordReset: "/request-password-reset",
			VerifyResetToken:     "/verify-reset-token",
			ResetPassword:        "/reset-password",
		},
	}
	for _, opt := range opts {
		c = opt(c)
	}
	return c
}

// Mount registers the auth routes on r.
func (c *Controller) Mount(r chi.Router) {
	r.Group(func(r chi.Router) {
		if c.limiter != nil {
			r.Use(c.limiter.Middleware)
		}
		r.Post(c.Routes.SignIn, c.SignIn)
		r.Post(c.Routes.Register, c.Register)
		r.Post(c.Routes.RequestPasswordReset, c.RequestPasswordReset)
		r.Post(c.Routes.RequestVerification, c.RequestVerification)
	})

	r.Post(c.Routes.Refresh, c.Refresh)
	r.Post(c.Routes.VerifyEmail, c.VerifyEmail)
	r.Post(c.Routes.VerifyResetToken, c.VerifyResetToken)
	r.Post(c.Routes.ResetPassword, c.ResetPassword)

	r.Group(func(r chi.Router) {
		r.Use(c.guard.Middleware)
		r.Get(c.Routes.Me, c.Me)
		r.Post(c.Routes.SignOut, c.SignOut)
		r.Post(c.Routes.ChangePassword, c.ChangePassword)
		r.Post(c.Routes.ResendVerification, c.ResendVerification)
	})
}

// RegisterRequest is the register payload.
type RegisterRequest struct {
	Email           string `json:"email"`
	Username        string `json:"username"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Validate will validate the payload
func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Username, validation.Length(3, 64)),
		validation.Field(&r.FirstName, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Length(1, 200)),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 100), validation.By(ValidateMaxBytes(MaxPasswordBytes))),
		validation.Field(&r.ConfirmPassword, validation.Required, validation.By(ValidateStringEquals(r.Password))),
	)
}

// SignInRequest is the sign in payload.
type SignInRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// Validate will run validation rules
func (r SignInRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Identifier, validation.Required, validation.Length(1, 254)),
		validation.Field(&r.Password, validation.Required),
	)
}

// RefreshRequest carries the refresh token in HEADER mode.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ChangePasswordRequest is the change password payload.
type ChangePasswordRequest struct {
	OldPassword     string `json:"old_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Validate will run validation rules
func (r ChangePasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OldPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(8, 100), validation.By(ValidateMaxBytes(MaxPasswordBytes))),
		validation.Field(&r.ConfirmPassword, validation.Required, validation.By(ValidateStringEquals(r.NewPassword))),
	)
}

// EmailRequest carries an email address.
type EmailRequest struct {
	Email string `json:"email"`
}

// Validate will run validation rules
func (r EmailRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

// TokenRequest carries a verification or reset token.
type TokenRequest struct {
	Token string `json:"token"`
}

// Validate will run validation rules
func (r TokenRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required, is.Hexadecimal),
	)
}

// ResetPasswordRequest is the reset password payload.
type ResetPasswordRequest struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Validate will run validation rules
func (r ResetPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required, is.Hexadecimal),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 100), validation.By(ValidateMaxBytes(MaxPasswordBytes))),
		validation.Field(&r.ConfirmPassword, validation.Required, validation.By(ValidateStringEquals(r.Password))),
	)
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

// ValidateMaxBytes caps the encoded size of a string. Length counts runes,
// bcrypt counts bytes.
func ValidateMaxBytes(limit int) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if len(s) > limit {
			return fmt.Errorf("must be at most %d bytes", limit)
		}
		return nil
	}
}

// SignIn handles POST sign-in.
func (c *Controller) SignIn(w http.ResponseWriter, r *http.Request) {
	payload := new(SignInRequest)
	if !c.bind(w, r, payload) {
		return
	}

	user, err := c.service.AuthenticateByCredentials(c.context(r), payload.Identifier, payload.Password)
	if err != nil {
		WriteError(w, err)
		return
	}
	c.writeTokens(w, http.StatusOK, user)
}

// Register handles POST register.
func (c *Controller) Register(w http.ResponseWriter, r *http.Request) {
	payload := new(RegisterRequest)
	if !c.bind(w, r, payload) {
		return
	}

	view, err := c.service.Register(c.context(r), RegisterInput{
		Email:     payload.Email,
		Username:  payload.Username,
		Password:  payload.Password,
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, Response{Data: view})
}

// Refresh handles POST refresh-token. In COOKIE mode the refresh cookie is
// used, otherwise the body.
func (c *Controller) Refresh(w http.ResponseWriter, r *http.Request) {
	var refreshToken string
	if c.service.Config().AuthMethod == AuthMethodCookie {
		refreshToken, _ = c.guard.Cookies().RefreshToken(r)
	}
	if refreshToken == "" {
		payload := new(RefreshRequest)
		if err := json.NewDecoder(r.Body).Decode(payload); err == nil {
			refreshToken = payload.RefreshToken
		}
	}
	if refreshToken == "" {
		WriteError(w, ErrInvalidRefreshToken)
		return
	}

	user, err := c.service.Refresh(c.context(r), refreshToken)
	if err != nil {
		if IsAuthError(err) && c.service.Config().AuthMethod == AuthMethodCookie {
			c.guard.Cookies().ClearAuthCookies(w)
		}
		WriteError(w, err)
		return
	}
	c.writeTokens(w, http.StatusOK, user)
}

// SignOut handles POST sign-out.
func (c *Controller) SignOut(w http.ResponseWriter, r *http.Request) {
	user, _ := FromContext(r.Context())
	if err := c.service.SignOut(r.Context(), user); err != nil {
		WriteError(w, err)
		return
	}
	if c.service.Config().AuthMethod == AuthMethodCookie {
		c.guard.Cookies().ClearAuthCookies(w)
	}
	WriteJSON(w, http.StatusOK, Response{Data: map[string]bool{"success": true}})
}

// Me handles GET me.
func (c *Controller) Me(w http.ResponseWriter, r *http.Request) {
	user, _ := FromContext(r.Context())
	view, err := c.service.GetCurrentUser(r.Context(), user)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, Response{Data: view})
}

// ChangePassword handles POST change-password.
func (c *Controller) ChangePassword(w http.ResponseWriter, r *http.Request) {
	payload := new(ChangePasswordRequest)
	if !c.bind(w, r, payload) {
		return
	}
	user, _ := FromContext(r.Context())
	if err := c.service.ChangePassword(r.Context(), user, payload.OldPassword, payload.NewPassword); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, Response{Data: map[string]bool{"success": true}})
}

// RequestVerification handles POST request-verification.
func (c *Controller) RequestVerification(w http.ResponseWriter, r *http.Request) {
	payload := new(EmailRequest)
	if !c.bind(w, r, payload) {
		return
	}
	if err := c.service.RequestEmailVerification(c.context(r), payload.Email); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, Response{Data: map[string]bool{"success": true}})
}

// ResendVerification handles POST resend-verification.
func (c *Controller) ResendVerification(w http.ResponseWriter, r *http.Request) {
	user, _ := FromContext(r.Context())
	if err := c.service.ResendEmailVerification(r.Context(), user); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, Response{Data: map[string]bool{"success": true}})
}

// VerifyEmail handles POST verify-email.
func (c *Controller) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	payload := new(TokenRequest)
	if !c.bind(w, r, payload) {
		return
	}
	view, err := c.service.VerifyEmail(c.context(r), payload.Token)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, Response{Data: view})
}

// RequestPasswordReset handles POST request-password-reset.
func (c *Controller) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	payload := new(EmailRequest)
	if !c.bind(w, r, payload) {
		return
	}
	if err := c.service.RequestPasswordReset(c.context(r), payload.Email); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, Response{Data: map[string]bool{"success": true}})
}

// VerifyResetToken handles POST verify-reset-token.
func (c *Controller) VerifyResetToken(w http.ResponseWriter, r *http.Request) {
	payload := new(TokenRequest)
	if !c.bind(w, r, payload) {
		return
	}
	if err := c.service.VerifyResetPasswordToken(c.context(r), payload.Token); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, Response{Data: map[string]bool{"valid": true}})
}

// ResetPassword handles POST reset-password.
func (c *Controller) ResetPassword(w http.ResponseWriter, r *http.Request) {
	payload := new(ResetPasswordRequest)
	if !c.bind(w, r, payload) {
		return
	}
	if err := c.service.ResetPassword(c.context(r), payload.Token, payload.Password); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, Response{Data: map[string]bool{"success": true}})
}

type validatable interface {
	Validate() error
}

func (c *Controller) bind(w http.ResponseWriter, r *http.Request, payload validatable) bool {
	if err := json.NewDecoder(r.Body).Decode(payload); err != nil {
		c.Logger.Debug("controller could not decode payload", "path", r.URL.Path, "error", err)
		WriteJSON(w, http.StatusBadRequest, Response{
			Error: &ErrorResponse{Code: "INVALID_INPUT", Message: "request body must be valid JSON"},
		})
		return false
	}

	if c.Debug {
		c.Logger.Debug("controller payload", "path", r.URL.Path, "payload", print.MaybePrettyJSON(redact(payload)))
	}

	if err := payload.Validate(); err != nil {
		WriteValidationError(w, err)
		return false
	}
	return true
}

func (c *Controller) context(r *http.Request) context.Context {
	return WithRequestMeta(r.Context(), RequestMetaFromRequest(r))
}

func (c *Controller) writeTokens(w http.ResponseWriter, status int, user *AuthUser) {
	if user.Tokens == nil {
		WriteError(w, ErrInvalidToken)
		return
	}
	if c.service.Config().AuthMethod == AuthMethodCookie {
		c.guard.Cookies().SetAuthCookies(w, user.Tokens)
	}
	view := user.UserView
	WriteJSON(w, status, Response{Data: TokenResponse{
		AccessToken:           user.Tokens.AccessToken,
		RefreshToken:          user.Tokens.RefreshToken,
		AccessTokenExpiresOn:  user.Tokens.AccessTokenExpiresOn,
		RefreshTokenExpiresOn: user.Tokens.RefreshTokenExpiresOn,
		SessionID:             user.SessionID,
		User:                  &view,
	}})
}

// redact hides secrets in debug dumps.
func redact(payload any) any {
	raw, err := json.Marshal(payload)
	if err != nil {
		return payload
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return payload
	}
	for _, key := range []string{"password", "confirm_password", "old_password", "new_password", "token", "refresh_token"} {
		if _, ok := fields[key]; ok {
			fields[key] = "***"
		}
	}
	return fields
}
