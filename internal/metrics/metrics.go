// Package metrics holds the Prometheus collectors for session and refresh
// activity. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "authsession"

// Refresh outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeStale   = "stale"
)

type Metrics struct {
	refreshStarted prometheus.Counter
	refreshJoined  prometheus.Counter
	refreshResult  *prometheus.CounterVec
	forcedLogouts  prometheus.Counter
	transitions    *prometheus.CounterVec
	retries        prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration, which keeps tests free of global state.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		refreshStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_started_total",
			Help:      "Refresh network calls issued.",
		}),
		refreshJoined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_joined_total",
			Help:      "Refresh requests that attached to an in-flight refresh.",
		}),
		refreshResult: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_completed_total",
			Help:      "Completed refresh calls by outcome.",
		}, []string{"outcome"}),
		forcedLogouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forced_logout_total",
			Help:      "Sessions cleared because a 401 could not be resolved by refresh.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session status transitions by target status.",
		}, []string{"status"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_retries_total",
			Help:      "Protected requests retried after a successful refresh.",
		}),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.refreshStarted, m.refreshJoined, m.refreshResult,
		m.forcedLogouts, m.transitions, m.retries,
	}
}

func (m *Metrics) RefreshStarted() {
	if m != nil {
		m.refreshStarted.Inc()
	}
}

func (m *Metrics) RefreshJoined() {
	if m != nil {
		m.refreshJoined.Inc()
	}
}

func (m *Metrics) RefreshCompleted(outcome string) {
	if m != nil {
		m.refreshResult.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ForcedLogout() {
	if m != nil {
		m.forcedLogouts.Inc()
	}
}

func (m *Metrics) Transition(status string) {
	if m != nil {
		m.transitions.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) RequestRetried() {
	if m != nil {
		m.retries.Inc()
	}
}
