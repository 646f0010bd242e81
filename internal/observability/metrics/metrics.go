// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vision_caption"

// Capture attempt results.
const (
	CaptureSent    = "sent"
	CaptureNotSent = "not_sent"
	CaptureFailed  = "failed"
	CaptureSkipped = "skipped"
)

// Metrics holds all Prometheus metrics for the client.
type Metrics struct {
	// Capture metrics
	CapturesTotal    *prometheus.CounterVec
	CapturesInFlight prometheus.Gauge
	CaptureLatency   prometheus.Histogram
	FrameBytesSent   prometheus.Counter

	// Connection metrics
	ConnectionState   *prometheus.GaugeVec
	ReconnectAttempts prometheus.Counter

	// Inbound metrics
	TokensReceived    prometheus.Counter
	MessagesMalformed prometheus.Counter

	// Caption metrics
	CaptionsCompleted prometheus.Counter
	CaptionsEvicted   prometheus.Counter
	CaptionsActive    prometheus.Gauge
	CaptionLatency    prometheus.Histogram

	// Output metrics
	HapticPulses     prometheus.Counter
	SpeechDispatched prometheus.Counter
	SpeechDropped    *prometheus.CounterVec
	SpeechErrors     prometheus.Counter
	SpeechDuration   prometheus.Histogram

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// gRPC metrics
	RPCTotal *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance, registered with the default registry.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CapturesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_total",
			Help:      "Total number of capture attempts by result",
		}, []string{"result"}),
		CapturesInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "captures_in_flight",
			Help:      "Number of captures currently acquiring or sending",
		}),
		CaptureLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_latency_seconds",
			Help:      "Time from tick to frame handed to the transport",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		FrameBytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_bytes_sent_total",
			Help:      "Total encoded frame bytes handed to the transport",
		}),

		ConnectionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise",
		}, []string{"state"}),
		ReconnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Total number of reconnection attempts",
		}),

		TokensReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_received_total",
			Help:      "Total number of well-formed inbound token messages",
		}),
		MessagesMalformed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_malformed_total",
			Help:      "Total number of inbound messages discarded as malformed",
		}),

		CaptionsCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captions_completed_total",
			Help:      "Total number of captions completed by the sentinel",
		}),
		CaptionsEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captions_evicted_total",
			Help:      "Total number of incomplete captions evicted",
		}),
		CaptionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "captions_active",
			Help:      "Number of captions still assembling",
		}),
		CaptionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "caption_latency_seconds",
			Help:      "Time from first token to sentinel",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		HapticPulses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "haptic_pulses_total",
			Help:      "Total number of haptic pulses fired",
		}),
		SpeechDispatched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_dispatched_total",
			Help:      "Total number of captions handed to the speech sink",
		}),
		SpeechDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_dropped_total",
			Help:      "Total number of completed captions not spoken",
		}, []string{"reason"}),
		SpeechErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_errors_total",
			Help:      "Total number of utterances that ended in error",
		}),
		SpeechDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "speech_duration_seconds",
			Help:      "Duration of speech utterances",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		RPCTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "Total number of gRPC calls served",
		}, []string{"method", "code"}),
	}
}

// RecordCapture records the result of one capture attempt.
func (m *Metrics) RecordCapture(result string) {
	m.CapturesTotal.WithLabelValues(result).Inc()
}

// RecordCaptureStart records a capture entering flight.
func (m *Metrics) RecordCaptureStart() {
	m.CapturesInFlight.Inc()
}

// RecordCaptureEnd records a capture leaving flight.
func (m *Metrics) RecordCaptureEnd(latencySeconds float64) {
	m.CapturesInFlight.Dec()
	m.CaptureLatency.Observe(latencySeconds)
}

// RecordFrameSent records encoded frame bytes handed to the transport.
func (m *Metrics) RecordFrameSent(bytes int) {
	m.FrameBytesSent.Add(float64(bytes))
}

// SetConnectionState marks state as the current connection state.
func (m *Metrics) SetConnectionState(state string, all []string) {
	for _, s := range all {
		if s == state {
			m.ConnectionState.WithLabelValues(s).Set(1)
		} else {
			m.ConnectionState.WithLabelValues(s).Set(0)
		}
	}
}

// RecordReconnect records a reconnection attempt.
func (m *Metrics) RecordReconnect() {
	m.ReconnectAttempts.Inc()
}

// RecordToken records a well-formed inbound token message.
func (m *Metrics) RecordToken() {
	m.TokensReceived.Inc()
}

// RecordMalformed records a discarded inbound message.
func (m *Metrics) RecordMalformed() {
	m.MessagesMalformed.Inc()
}

// RecordCaptionCompleted records a caption completed by the sentinel.
func (m *Metrics) RecordCaptionCompleted(latencySeconds float64) {
	m.CaptionsCompleted.Inc()
	m.CaptionLatency.Observe(latencySeconds)
}

// RecordCaptionEvicted records an incomplete caption being evicted.
func (m *Metrics) RecordCaptionEvicted() {
	m.CaptionsEvicted.Inc()
}

// SetCaptionsActive sets the number of assembling captions.
func (m *Metrics) SetCaptionsActive(n int) {
	m.CaptionsActive.Set(float64(n))
}

// RecordHaptic records a haptic pulse.
func (m *Metrics) RecordHaptic() {
	m.HapticPulses.Inc()
}

// RecordSpeechDispatched records a caption handed to the speech sink.
func (m *Metrics) RecordSpeechDispatched() {
	m.SpeechDispatched.Inc()
}

// RecordSpeechDropped records a completed caption that was not spoken.
func (m *Metrics) RecordSpeechDropped(reason string) {
	m.SpeechDropped.WithLabelValues(reason).Inc()
}

// RecordSpeechEnd records an utterance finishing.
func (m *Metrics) RecordSpeechEnd(err error, durationSeconds float64) {
	m.SpeechDuration.Observe(durationSeconds)
	if err != nil {
		m.SpeechErrors.Inc()
	}
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordRPC records a served gRPC call.
func (m *Metrics) RecordRPC(method, code string) {
	m.RPCTotal.WithLabelValues(method, code).Inc()
}
