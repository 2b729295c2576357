package stubserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts the traffic seen by a stub server. A nil *Metrics records nothing.
type Metrics struct {
	Connections prometheus.Counter
	Streams     prometheus.Counter
	AudioBytes  prometheus.Counter
	Replies     *prometheus.CounterVec
}

// NewMetrics creates the stub server metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Connections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stub",
			Name:      "connections_total",
			Help:      "Client connections accepted",
		}),
		Streams: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stub",
			Name:      "streams_total",
			Help:      "Audio streams received up to audio-stop",
		}),
		AudioBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stub",
			Name:      "audio_bytes_received_total",
			Help:      "Audio payload bytes received",
		}),
		Replies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stub",
			Name:      "reply_events_total",
			Help:      "Events written back to clients",
		}, []string{"type"}),
	}
}

func (m *Metrics) connection() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

func (m *Metrics) stream(audioBytes int) {
	if m == nil {
		return
	}
	m.Streams.Inc()
	m.AudioBytes.Add(float64(audioBytes))
}

func (m *Metrics) reply(eventType string) {
	if m == nil {
		return
	}
	m.Replies.WithLabelValues(eventType).Inc()
}
