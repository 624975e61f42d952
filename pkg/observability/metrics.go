package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Wire metrics
	EventsDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "strand",
			Subsystem: "wire",
			Name:      "events_decoded_total",
			Help:      "Total number of wire events decoded",
		},
		[]string{"event_type"},
	)

	DecodeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "strand",
			Subsystem: "wire",
			Name:      "decode_failures_total",
			Help:      "Total number of wire events dropped as undecodable",
		},
		[]string{"event_type"},
	)

	// Connection metrics
	ReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "strand",
			Subsystem: "conn",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of websocket reconnect attempts",
		},
	)

	OutgoingDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "strand",
			Subsystem: "conn",
			Name:      "outgoing_dropped_total",
			Help:      "Total number of outgoing messages rejected for backpressure",
		},
	)

	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "strand",
			Subsystem: "conn",
			Name:      "state",
			Help:      "Current connection state (0 disconnected, 1 connected, 2 reconnecting)",
		},
	)

	// Render cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "strand",
			Subsystem: "render",
			Name:      "cache_hits_total",
			Help:      "Total number of render cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "strand",
			Subsystem: "render",
			Name:      "cache_misses_total",
			Help:      "Total number of render cache misses",
		},
		[]string{"cache"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "strand",
			Subsystem: "render",
			Name:      "cache_evictions_total",
			Help:      "Total number of render cache entries evicted",
		},
		[]string{"cache"},
	)

	// Store metrics
	ThreadsReconciled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "strand",
			Subsystem: "store",
			Name:      "threads_reconciled_total",
			Help:      "Total number of pending threads reconciled to backend ids",
		},
	)

	TokensAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "strand",
			Subsystem: "store",
			Name:      "tokens_appended_total",
			Help:      "Total number of content delta tokens applied to the store",
		},
	)
)
