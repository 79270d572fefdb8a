package sink

import "github.com/prometheus/client_golang/prometheus"

type consumerMetricsState struct {
	persisted   prometheus.Counter
	duplicates  prometheus.Counter
	redelivered prometheus.Counter
}

var consumerMetrics = newConsumerMetrics()

func newConsumerMetrics() *consumerMetricsState {
	m := &consumerMetricsState{
		persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatzzk",
			Name:      "sink_persisted_total",
			Help:      "Rows written on first delivery",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatzzk",
			Name:      "sink_duplicates_total",
			Help:      "Redeliveries skipped by the conflict policy",
		}),
		redelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatzzk",
			Name:      "sink_nacks_total",
			Help:      "Messages negative-acknowledged for redelivery",
		}),
	}
	prometheus.MustRegister(m.persisted, m.duplicates, m.redelivered)
	return m
}
