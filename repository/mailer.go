package repository

import (
	"context"
	"net"
	"net/smtp"
	"net/url"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/hichchidev/hichchi-sub000"
)

// Message is an outgoing email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers messages. Hosts plug their SMTP or API client in here.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the logger instead of sending them. Bodies
// carry single use tokens, so they only go out at debug level.
type LogMailer struct {
	Logger auth.Logger
}

func (m LogMailer) Send(_ context.Context, msg Message) error {
	logger := m.Logger
	if logger == nil {
		logger = auth.NewSlogLogger(nil)
	}
	logger.Info("outgoing email", "to", msg.To, "subject", msg.Subject)
	logger.Debug("outgoing email body", "to", msg.To, "body", msg.Body)
	return nil
}

// SMTPMailer delivers messages through an SMTP relay. Username enables PLAIN
// auth against the host part of Addr.
type SMTPMailer struct {
	Addr     string
	From     string
	Username string
	Password string
}

// NewSMTPMailer validates the relay settings.
func NewSMTPMailer(addr, from, username, password string) (*SMTPMailer, error) {
	if addr == "" || from == "" {
		return nil, goerrors.New("smtp mailer needs an address and a sender", goerrors.CategoryValidation).
			WithTextCode(auth.TextCodeInvalidConfig)
	}
	return &SMTPMailer{Addr: addr, From: from, Username: username, Password: password}, nil
}

func (m *SMTPMailer) Send(_ context.Context, msg Message) error {
	if strings.ContainsAny(msg.To+msg.Subject, "\r\n") {
		return goerrors.New("email headers must be single line", goerrors.CategoryBadInput)
	}

	var a smtp.Auth
	if m.Username != "" {
		host, _, err := net.SplitHostPort(m.Addr)
		if err != nil {
			host = m.Addr
		}
		a = smtp.PlainAuth("", m.Username, m.Password, host)
	}

	var b strings.Builder
	b.WriteString("From: " + m.From + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(msg.Body)

	if err := smtp.SendMail(m.Addr, a, m.From, []string{msg.To}, []byte(b.String())); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "smtp delivery failed").
			WithMetadata(map[string]any{"to": msg.To})
	}
	return nil
}

// UserProvider is a complete auth.UserProvider: Bun backed lookups plus the
// verification and reset mail senders. Links point at ClientURL.
type UserProvider struct {
	*Users
	mailer    Mailer
	clientURL string
}

var (
	_ auth.VerificationEmailSender  = (*UserProvider)(nil)
	_ auth.PasswordResetEmailSender = (*UserProvider)(nil)
)

// NewUserProvider composes users with mailer.
func NewUserProvider(users *Users, mailer Mailer, clientURL string) *UserProvider {
	return &UserProvider{
		Users:     users,
		mailer:    mailer,
		clientURL: strings.TrimRight(clientURL, "/"),
	}
}

func (p *UserProvider) SendVerificationEmail(ctx context.Context, user *auth.User, token string) error {
	return p.mailer.Send(ctx, Message{
		To:      user.Email,
		Subject: "Verify your email address",
		Body:    greeting(user) + "Confirm your email address: " + p.link("/verify-email", token),
	})
}

func (p *UserProvider) SendPasswordResetEmail(ctx context.Context, user *auth.User, token string) error {
	return p.mailer.Send(ctx, Message{
		To:      user.Email,
		Subject: "Reset your password",
		Body:    greeting(user) + "Choose a new password: " + p.link("/reset-password", token),
	})
}

func (p *UserProvider) link(path, token string) string {
	return p.clientURL + path + "?token=" + url.QueryEscape(token)
}

func greeting(user *auth.User) string {
	if name := user.View().FullName(); name != "" {
		return "Hi " + name + ",\n\n"
	}
	return "Hi,\n\n"
}
