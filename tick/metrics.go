package tick

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kdbtick",
			Subsystem: "forwarder",
			Name:      "sends_total",
			Help:      "Events sent to the tickerplant.",
		},
		[]string{"result"},
	)
	reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kdbtick",
			Subsystem: "forwarder",
			Name:      "reconnects_total",
			Help:      "Connection attempts to the tickerplant.",
		},
	)
	filtered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kdbtick",
			Subsystem: "forwarder",
			Name:      "events_filtered_total",
			Help:      "Events dropped by the entity filter.",
		},
	)
)

// RegisterMetrics registers the forwarder collectors once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(sends, reconnects, filtered)
	})
}

func recordSend(ok bool) {
	if ok {
		sends.WithLabelValues("ok").Inc()
	} else {
		sends.WithLabelValues("error").Inc()
	}
}

// RecordFiltered counts an event dropped by the entity filter.
func RecordFiltered() {
	filtered.Inc()
}
