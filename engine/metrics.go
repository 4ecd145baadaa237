package engine

import "github.com/prometheus/client_golang/prometheus"

type engineMetrics struct {
	eventsWritten prometheus.Counter
	queries       prometheus.Counter
	queryDuration prometheus.Histogram
}

func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	m := &engineMetrics{
		eventsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "logsift",
			Subsystem: "engine",
			Name:      "events_written_total",
			Help:      "Number of events committed across all indexes.",
		}),
		queries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "logsift",
			Subsystem: "engine",
			Name:      "queries_total",
			Help:      "Number of iter and tail executions.",
		}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "logsift",
			Subsystem: "engine",
			Name:      "query_duration_seconds",
			Help:      "Wall-clock duration of query execution.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.eventsWritten, m.queries, m.queryDuration)
	}
	return m
}
