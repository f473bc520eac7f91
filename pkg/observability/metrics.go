package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	sessionsLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fileshare",
			Subsystem: "sessions",
			Name:      "live",
			Help:      "Sessions currently registered.",
		},
	)
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fileshare",
			Subsystem: "sessions",
			Name:      "total",
			Help:      "Session lifecycle events.",
		},
		[]string{"event"}, // created, replaced, expired, torn_down
	)
	relayedChunks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fileshare",
			Subsystem: "relay",
			Name:      "chunks_total",
			Help:      "File chunks relayed between room members.",
		},
	)
	relayedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fileshare",
			Subsystem: "relay",
			Name:      "bytes_total",
			Help:      "Chunk payload bytes relayed between room members.",
		},
	)
	protocolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fileshare",
			Subsystem: "relay",
			Name:      "errors_total",
			Help:      "Protocol-level errors returned to callers.",
		},
		[]string{"kind"}, // validation, session, transport, generic
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(sessionsLive, sessionsTotal, relayedChunks, relayedBytes, protocolErrors)
	})
}

func SessionGauge(delta float64) {
	RegisterMetrics()
	sessionsLive.Add(delta)
}

func RecordSessionEvent(event string) {
	RegisterMetrics()
	sessionsTotal.WithLabelValues(event).Inc()
}

func RecordRelayedChunk(payloadBytes int) {
	RegisterMetrics()
	relayedChunks.Inc()
	relayedBytes.Add(float64(payloadBytes))
}

func RecordProtocolError(kind string) {
	RegisterMetrics()
	protocolErrors.WithLabelValues(kind).Inc()
}
