// Package metrics exposes auth lifecycle events as Prometheus metrics.
package metrics

import (
	"context"

	auth "github.com/hichchidev/hichchi-sub000"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector is an auth.EventListener that counts events by type, result and
// error code.
type Collector struct {
	events   *prometheus.CounterVec
	sessions *prometheus.CounterVec
}

var _ auth.EventListener = (*Collector)(nil)

// NewCollector creates the collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "events_total",
			Help:      "Auth lifecycle events by type, result and error code.",
		}, []string{"type", "result", "code"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "sessions_total",
			Help:      "Sessions opened and closed.",
		}, []string{"action"}),
	}

	reg.MustRegister(c.events, c.sessions)
	return c
}

// OnAuthEvent implements auth.EventListener.
func (c *Collector) OnAuthEvent(_ context.Context, event auth.Event) error {
	c.events.WithLabelValues(string(event.Type), string(event.Result), event.ErrorCode()).Inc()

	if event.Result != auth.EventResultSuccess {
		return nil
	}
	switch event.Type {
	case auth.EventSignIn, auth.EventSocialSignIn:
		c.sessions.WithLabelValues("opened").Inc()
	case auth.EventSignOut:
		c.sessions.WithLabelValues("closed").Inc()
	}
	return nil
}
