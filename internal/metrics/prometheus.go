// Package metrics records Prometheus metrics for one bridge run and exports them
// in the node-exporter textfile format.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session outcome labels
const (
	OutcomeTranscript   = "transcript"
	OutcomeNoTranscript = "no_transcript"
	OutcomeConnection   = "connection_error"
	OutcomeProtocol     = "protocol_error"
	OutcomeAudio        = "audio_error"
)

// Metrics contains all Prometheus metrics for the bridge.
// All Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Transcription session metrics
	SessionsStarted prometheus.Counter
	SessionOutcomes *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	EventsSent      *prometheus.CounterVec
	EventsReceived  *prometheus.CounterVec
	AudioBytesSent  prometheus.Counter

	// Conversion metrics
	ConversionDuration prometheus.Histogram
	ConversionFailures prometheus.Counter

	// Run metrics
	Runs           *prometheus.CounterVec
	LastRunSuccess prometheus.Gauge
}

// New creates all metrics and registers them with reg
func New(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_sessions_total",
			Help:      "Total number of transcription sessions started",
		}),
		SessionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_session_outcomes_total",
			Help:      "Transcription sessions by outcome",
		}, []string{"outcome"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_session_duration_seconds",
			Help:      "Duration of transcription sessions from dial to close",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		}),
		EventsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_events_sent_total",
			Help:      "Protocol events written to the transcription server",
		}, []string{"type"}),
		EventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_events_received_total",
			Help:      "Protocol events read from the transcription server",
		}, []string{"type"}),
		AudioBytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Audio payload bytes streamed to the transcription server",
		}),

		ConversionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_duration_seconds",
			Help:      "Duration of audio normalization",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		ConversionFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversion_failures_total",
			Help:      "Total number of failed audio normalizations",
		}),

		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "CLI runs by exit code",
		}, []string{"exit_code"}),
		LastRunSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "1 if the last run produced a transcript, 0 otherwise",
		}),
	}
}

// NewRegistry creates a fresh registry with all metrics registered on it
func NewRegistry(namespace string) (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	return reg, New(reg, namespace)
}

// RecordSessionStarted increments the sessions counter
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

// RecordSessionOutcome records how a session ended and how long it took
func (m *Metrics) RecordSessionOutcome(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionOutcomes.WithLabelValues(outcome).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordEventSent increments the sent counter for an event type
func (m *Metrics) RecordEventSent(eventType string) {
	if m == nil {
		return
	}
	m.EventsSent.WithLabelValues(eventType).Inc()
}

// RecordEventReceived increments the received counter for an event type
func (m *Metrics) RecordEventReceived(eventType string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(eventType).Inc()
}

// RecordAudioBytes adds streamed audio payload bytes
func (m *Metrics) RecordAudioBytes(n int) {
	if m == nil {
		return
	}
	m.AudioBytesSent.Add(float64(n))
}

// RecordConversion records a normalization attempt
func (m *Metrics) RecordConversion(durationSeconds float64, failed bool) {
	if m == nil {
		return
	}
	m.ConversionDuration.Observe(durationSeconds)
	if failed {
		m.ConversionFailures.Inc()
	}
}

// RecordRun records the exit code of a CLI run
func (m *Metrics) RecordRun(exitCode int) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(fmt.Sprintf("%d", exitCode)).Inc()
	if exitCode == 0 {
		m.LastRunSuccess.Set(1)
	} else {
		m.LastRunSuccess.Set(0)
	}
}

// WriteTextfile writes everything gathered from g to path in the Prometheus text
// format. The file is replaced atomically so a collector never reads a partial file.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("failed to write metrics textfile %s: %w", path, err)
	}
	return nil
}
