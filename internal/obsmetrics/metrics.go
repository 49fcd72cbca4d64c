// Package obsmetrics exposes the Prometheus counters and gauges that make
// the error-handling policy in spec.md §7 observable: parse errors, version
// gaps, and detector overflow are all advisory or diagnostic by policy, so
// they show up here as well as in logs. SinkBackpressure is registered, but
// nothing increments it: a full sink channel blocks the book uncounted.
package obsmetrics

import "github.com/prometheus/client_golang/prometheus"

// Registry groups every counter/gauge the core emits. A single instance is
// constructed per process and threaded into feed/book/detector/sink.
type Registry struct {
	VersionGaps        *prometheus.CounterVec
	ParseErrors        *prometheus.CounterVec
	ReconnectAttempts  *prometheus.CounterVec
	SinkBackpressure   *prometheus.CounterVec
	DetectorDropped    *prometheus.CounterVec
	EventsEmitted      *prometheus.CounterVec
	BookUpdateLatency  *prometheus.HistogramVec
	ManipulationScore  *prometheus.GaugeVec
}

// NewRegistry constructs and registers all metrics against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		VersionGaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whalewatch",
			Subsystem: "feed",
			Name:      "version_gaps_total",
			Help:      "Count of depth message version discontinuities per symbol.",
		}, []string{"symbol"}),
		ParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whalewatch",
			Subsystem: "feed",
			Name:      "parse_errors_total",
			Help:      "Count of malformed wire payloads dropped per symbol.",
		}, []string{"symbol"}),
		ReconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whalewatch",
			Subsystem: "feed",
			Name:      "reconnect_attempts_total",
			Help:      "Count of transport reconnect attempts.",
		}, []string{"reason"}),
		SinkBackpressure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whalewatch",
			Subsystem: "sink",
			Name:      "backpressure_total",
			Help:      "Count of times the feed had to slow for a full sink channel.",
		}, []string{"symbol"}),
		DetectorDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whalewatch",
			Subsystem: "detector",
			Name:      "events_dropped_total",
			Help:      "Count of advisory detector-channel events dropped oldest-first.",
		}, []string{"symbol"}),
		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whalewatch",
			Subsystem: "book",
			Name:      "events_emitted_total",
			Help:      "Count of whale events emitted by the book diff engine, by type.",
		}, []string{"symbol", "event_type"}),
		BookUpdateLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "whalewatch",
			Subsystem: "book",
			Name:      "update_seconds",
			Help:      "Time to process a single depth message end to end.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"symbol"}),
		ManipulationScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "whalewatch",
			Subsystem: "detector",
			Name:      "manipulation_score",
			Help:      "Latest overall manipulation score per symbol, in [0, 100].",
		}, []string{"symbol"}),
	}

	reg.MustRegister(
		r.VersionGaps, r.ParseErrors, r.ReconnectAttempts, r.SinkBackpressure,
		r.DetectorDropped, r.EventsEmitted, r.BookUpdateLatency, r.ManipulationScore,
	)
	return r
}

// NewNoop returns a Registry backed by a private registry, suitable for
// tests that don't want to pollute the default Prometheus registry.
func NewNoop() *Registry {
	return NewRegistry(prometheus.NewRegistry())
}
