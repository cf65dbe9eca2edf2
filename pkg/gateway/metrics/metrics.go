// Package metrics holds the relay's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Audio directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Metrics holds all Prometheus metrics for the relay.
type Metrics struct {
	registry *prometheus.Registry

	// Live session metrics
	LiveSessionsActive  prometheus.Gauge
	LiveSessionsTotal   *prometheus.CounterVec
	LiveSessionDuration prometheus.Histogram
	LiveAudioBytesTotal *prometheus.CounterVec

	// Turn metrics
	TurnsTotal          *prometheus.CounterVec
	TurnEncodeDuration  prometheus.Histogram
	SilentTurnsTotal    prometheus.Counter
	UpstreamEventsTotal *prometheus.CounterVec

	// Inbound frame metrics
	InboundChunksTotal  *prometheus.CounterVec
	InboundSkippedTotal *prometheus.CounterVec

	// Admission metrics
	RejectedSessionsTotal *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "nativeflow"
	}

	registry := prometheus.NewRegistry()

	liveSessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions_active",
			Help:      "Number of active live sessions",
		},
	)

	liveSessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_sessions_total",
			Help:      "Total number of live sessions by outcome",
		},
		[]string{"status"},
	)

	liveSessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "live_session_duration_seconds",
			Help:      "Live session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	liveAudioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_audio_bytes_total",
			Help:      "Total audio bytes relayed in live sessions",
		},
		[]string{"direction"},
	)

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed model turns by audio outcome",
		},
		[]string{"outcome"},
	)

	turnEncodeDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_encode_duration_seconds",
			Help:      "Time spent converting a turn's audio into a playable container",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	silentTurnsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "silent_turns_total",
			Help:      "Turns whose relayed audio never rose above the silence floor",
		},
	)

	upstreamEventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_events_total",
			Help:      "Upstream events received by type",
		},
		[]string{"type"},
	)

	inboundChunksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_chunks_total",
			Help:      "Client media chunks by kind",
		},
		[]string{"kind"},
	)

	inboundSkippedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_skipped_frames_total",
			Help:      "Client frames skipped without forwarding",
		},
		[]string{"reason"},
	)

	rejectedSessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_sessions_total",
			Help:      "Live sessions refused before upgrade",
		},
		[]string{"reason"},
	)

	registry.MustRegister(
		liveSessionsActive,
		liveSessionsTotal,
		liveSessionDuration,
		liveAudioBytesTotal,
		turnsTotal,
		turnEncodeDuration,
		silentTurnsTotal,
		upstreamEventsTotal,
		inboundChunksTotal,
		inboundSkippedTotal,
		rejectedSessionsTotal,
	)

	return &Metrics{
		registry:              registry,
		LiveSessionsActive:    liveSessionsActive,
		LiveSessionsTotal:     liveSessionsTotal,
		LiveSessionDuration:   liveSessionDuration,
		LiveAudioBytesTotal:   liveAudioBytesTotal,
		TurnsTotal:            turnsTotal,
		TurnEncodeDuration:    turnEncodeDuration,
		SilentTurnsTotal:      silentTurnsTotal,
		UpstreamEventsTotal:   upstreamEventsTotal,
		InboundChunksTotal:    inboundChunksTotal,
		InboundSkippedTotal:   inboundSkippedTotal,
		RejectedSessionsTotal: rejectedSessionsTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordLiveSessionStart records a new live session starting.
func (m *Metrics) RecordLiveSessionStart() {
	if m == nil {
		return
	}
	m.LiveSessionsActive.Inc()
}

// RecordLiveSessionEnd records a live session ending.
func (m *Metrics) RecordLiveSessionEnd(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.LiveSessionsActive.Dec()
	m.LiveSessionsTotal.WithLabelValues(status).Inc()
	m.LiveSessionDuration.Observe(duration.Seconds())
}

// RecordLiveAudio records audio bytes in a live session.
func (m *Metrics) RecordLiveAudio(direction string, bytes int) {
	if m == nil || bytes <= 0 {
		return
	}
	m.LiveAudioBytesTotal.WithLabelValues(direction).Add(float64(bytes))
}

// RecordTurn records a completed turn and the time spent encoding it.
func (m *Metrics) RecordTurn(outcome string, encode time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	if encode > 0 {
		m.TurnEncodeDuration.Observe(encode.Seconds())
	}
}

// RecordSilentTurn counts one relayed turn whose audio was silent.
func (m *Metrics) RecordSilentTurn() {
	if m == nil {
		return
	}
	m.SilentTurnsTotal.Inc()
}

// RecordUpstreamEvent counts one upstream event.
func (m *Metrics) RecordUpstreamEvent(eventType string) {
	if m == nil {
		return
	}
	m.UpstreamEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordInboundChunk counts one client media chunk.
func (m *Metrics) RecordInboundChunk(kind string) {
	if m == nil {
		return
	}
	m.InboundChunksTotal.WithLabelValues(kind).Inc()
}

// RecordInboundSkipped counts one client frame or media chunk that was not
// forwarded.
func (m *Metrics) RecordInboundSkipped(reason string) {
	if m == nil {
		return
	}
	m.InboundSkippedTotal.WithLabelValues(reason).Inc()
}

// RecordRejectedSession counts one session refused before upgrade.
func (m *Metrics) RecordRejectedSession(reason string) {
	if m == nil {
		return
	}
	m.RejectedSessionsTotal.WithLabelValues(reason).Inc()
}
