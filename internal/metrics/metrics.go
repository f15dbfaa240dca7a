// Package metrics wires abbmon's Prometheus registry: counters and
// gauges for the EGM endpoint, the RWS client, the RMMP keeper, and
// subscription delivery, plus an HTTP handler to expose them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the named collectors abbmon reports under /metrics.
type Registry struct {
	reg *prometheus.Registry

	EGMPacketsReceived prometheus.Counter
	EGMPacketsSent     prometheus.Counter
	EGMDecodeErrors    prometheus.Counter

	RMMPState              *prometheus.GaugeVec
	RMMPRolloversTotal     prometheus.Counter
	RMMPRolloverFailures   prometheus.Counter

	SubscriptionEventsTotal  *prometheus.CounterVec
	SubscriptionDroppedTotal *prometheus.CounterVec
}

// NewRegistry builds a fresh registry with all of abbmon's collectors
// registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		EGMPacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "abbmon", Subsystem: "egm", Name: "packets_received_total",
			Help: "Feedback datagrams received from the controller.",
		}),
		EGMPacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "abbmon", Subsystem: "egm", Name: "packets_sent_total",
			Help: "Correction datagrams sent to the controller.",
		}),
		EGMDecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "abbmon", Subsystem: "egm", Name: "decode_errors_total",
			Help: "Feedback datagrams that failed to decode.",
		}),
		RMMPState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "abbmon", Subsystem: "rmmp", Name: "state",
			Help: "1 for the RMMP keeper's current state, 0 for all others.",
		}, []string{"state"}),
		RMMPRolloversTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "abbmon", Subsystem: "rmmp", Name: "rollovers_total",
			Help: "Successful RMMP session rollovers.",
		}),
		RMMPRolloverFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "abbmon", Subsystem: "rmmp", Name: "rollover_failures_total",
			Help: "RMMP session rollovers that failed to confirm a grant.",
		}),
		SubscriptionEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "abbmon", Subsystem: "subscribe", Name: "events_total",
			Help: "Subscription events delivered, by resource kind.",
		}, []string{"resource"}),
		SubscriptionDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "abbmon", Subsystem: "subscribe", Name: "dropped_total",
			Help: "Subscription frames dropped (decode failure or full queue), by resource kind.",
		}, []string{"resource"}),
	}

	reg.MustRegister(
		r.EGMPacketsReceived, r.EGMPacketsSent, r.EGMDecodeErrors,
		r.RMMPState, r.RMMPRolloversTotal, r.RMMPRolloverFailures,
		r.SubscriptionEventsTotal, r.SubscriptionDroppedTotal,
	)
	return r
}

// Registerer exposes the underlying prometheus.Registry so other
// packages (e.g. rws.Client) can register their own collectors into
// the same registry rather than the global default one.
func (r *Registry) Registerer() prometheus.Registerer { return r.reg }

// SetRMMPState zeroes every known state gauge and sets only the active
// one to 1, so a dashboard can treat this as a single-valued enum.
func (r *Registry) SetRMMPState(states []string, active string) {
	for _, s := range states {
		v := 0.0
		if s == active {
			v = 1.0
		}
		r.RMMPState.WithLabelValues(s).Set(v)
	}
}

// Handler returns the HTTP handler exposing this registry in the
// Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
