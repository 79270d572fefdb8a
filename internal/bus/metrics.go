package bus

import "github.com/prometheus/client_golang/prometheus"

type busMetricsState struct {
	published     prometheus.Counter
	publishErrors prometheus.Counter
}

var busMetrics = newBusMetrics()

func newBusMetrics() *busMetricsState {
	m := &busMetricsState{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatzzk",
			Name:      "bus_published_total",
			Help:      "Messages acknowledged by the bus",
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatzzk",
			Name:      "bus_publish_errors_total",
			Help:      "Publish attempts that failed (log-only; not retried here)",
		}),
	}
	prometheus.MustRegister(m.published, m.publishErrors)
	return m
}
