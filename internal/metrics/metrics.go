// Package metrics exposes the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ladderfeed_sessions_active",
		Help: "Currently streaming subscriber sessions.",
	})

	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ladderfeed_sessions_total",
		Help: "Subscriber sessions started since boot.",
	})

	FramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ladderfeed_feed_frames_total",
		Help: "Upstream frames received across all sessions.",
	})

	MalformedFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ladderfeed_feed_frames_malformed_total",
		Help: "Upstream frames dropped as malformed.",
	})

	RecordsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ladderfeed_records_emitted_total",
		Help: "Subscriber records emitted, by record type.",
	}, []string{"type"})

	SignalsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ladderfeed_signals_emitted_total",
		Help: "Signals emitted past persistence and cooldown, by type.",
	}, []string{"type"})

	ResolveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ladderfeed_resolve_failures_total",
		Help: "Event resolutions that failed.",
	})
)
