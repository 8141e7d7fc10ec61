package auth

import (
	"context"
	"fmt"
	"time"
)

// EventType enumerates the lifecycle events emitted by Service.
type EventType string

const (
	EventRegister                 EventType = "auth.register"
	EventSignIn                   EventType = "auth.sign_in"
	EventSocialSignIn             EventType = "auth.social.sign_in"
	EventRefresh                  EventType = "auth.refresh"
	EventSignOut                  EventType = "auth.sign_out"
	EventChangePassword           EventType = "auth.password.change"
	EventEmailVerificationRequest EventType = "auth.email.verification_request"
	EventEmailVerified            EventType = "auth.email.verified"
	EventPasswordResetRequest     EventType = "auth.password.reset_request"
	EventPasswordReset            EventType = "auth.password.reset"
)

// EventResult is the outcome of the operation that produced an event.
type EventResult string

const (
	EventResultSuccess EventResult = "success"
	EventResultFailure EventResult = "failure"
)

// RequestMeta describes the request that triggered an operation.
type RequestMeta struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Origin    string `json:"origin,omitempty"`
}

// Event is emitted after an operation completes, successfully or not.
type Event struct {
	Type       EventType      `json:"type"`
	Result     EventResult    `json:"result"`
	UserID     string         `json:"user_id,omitempty"`
	Identifier string         `json:"identifier,omitempty"`
	Err        error          `json:"-"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Request    RequestMeta    `json:"request"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// ErrorCode returns the text code of a failed event, or "".
func (e Event) ErrorCode() string {
	if e.Err == nil {
		return ""
	}
	return asRichError(e.Err, "").TextCode
}

// EventListener receives lifecycle events. Errors are logged and dropped.
type EventListener interface {
	OnAuthEvent(ctx context.Context, event Event) error
}

// EventListenerFunc adapts a function to EventListener.
type EventListenerFunc func(ctx context.Context, event Event) error

// OnAuthEvent implements EventListener.
func (f EventListenerFunc) OnAuthEvent(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type eventDispatcher struct {
	listeners []EventListener
	logger    Logger
	now       func() time.Time
}

func (d *eventDispatcher) add(l EventListener) {
	if l != nil {
		d.listeners = append(d.listeners, l)
	}
}

func (d *eventDispatcher) emit(ctx context.Context, event Event) {
	if len(d.listeners) == 0 {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = d.now()
	}
	if event.Result == "" {
		event.Result = EventResultSuccess
		if event.Err != nil {
			event.Result = EventResultFailure
		}
	}
	if event.Request == (RequestMeta{}) {
		if meta, ok := RequestMetaFromContext(ctx); ok {
			event.Request = meta
		}
	}
	for _, l := range d.listeners {
		d.deliver(ctx, l, event)
	}
}

func (d *eventDispatcher) deliver(ctx context.Context, l EventListener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("auth event listener panicked", "event", event.Type, "panic", fmt.Sprint(r))
		}
	}()
	if err := l.OnAuthEvent(ctx, event); err != nil {
		d.logger.Warn("auth event listener failed", "event", event.Type, "error", err)
	}
}
