package chzzk

import "github.com/prometheus/client_golang/prometheus"

// sessionMetricsState tracks ingest counters across all sessions.
type sessionMetricsState struct {
	pings            prometheus.Counter
	reconnects       prometheus.Counter
	events           prometheus.Counter
	skippedSubEvents prometheus.Counter
}

var sessionMetrics = newSessionMetrics()

func newSessionMetrics() *sessionMetricsState {
	m := &sessionMetricsState{
		pings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatzzk",
			Name:      "session_pings_total",
			Help:      "Keepalive pings answered with a pong",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatzzk",
			Name:      "session_reconnects_total",
			Help:      "Reconnect attempts across all sessions",
		}),
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatzzk",
			Name:      "session_events_total",
			Help:      "Chat/donation events extracted from frames",
		}),
		skippedSubEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatzzk",
			Name:      "session_subevents_skipped_total",
			Help:      "Malformed sub-events dropped during classification",
		}),
	}
	prometheus.MustRegister(m.pings, m.reconnects, m.events, m.skippedSubEvents)
	return m
}
