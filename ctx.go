package auth

import (
	"context"
	"net"
	"net/http"
	"strings"
)

var userCtxKey = &contextKey{"auth_user"}
var requestMetaCtxKey = &contextKey{"request_meta"}

type contextKey struct {
	name string
}

// WithContext stores the authenticated user in ctx.
func WithContext(ctx context.Context, user *AuthUser) context.Context {
	return context.WithValue(ctx, userCtxKey, user)
}

// FromContext returns the authenticated user stored by the guard.
func FromContext(ctx context.Context) (*AuthUser, bool) {
	raw, ok := ctx.Value(userCtxKey).(*AuthUser)
	return raw, ok && raw != nil
}

// WithRequestMeta stores request metadata used by lifecycle events.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaCtxKey, meta)
}

// RequestMetaFromContext returns the metadata stored by WithRequestMeta.
func RequestMetaFromContext(ctx context.Context) (RequestMeta, bool) {
	raw, ok := ctx.Value(requestMetaCtxKey).(RequestMeta)
	return raw, ok
}

// RequestMetaFromRequest extracts client ip, user agent and origin.
func RequestMetaFromRequest(r *http.Request) RequestMeta {
	ip := r.RemoteAddr
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip = strings.TrimSpace(strings.Split(fwd, ",")[0])
	} else if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.Header.Get("Referer")
	}
	return RequestMeta{
		IP:        ip,
		UserAgent: r.UserAgent(),
		Origin:    origin,
	}
}
