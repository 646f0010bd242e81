package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordCapture(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordCapture(CaptureSent)
	m.RecordCapture(CaptureSent)
	m.RecordCapture(CaptureFailed)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CapturesTotal.WithLabelValues(CaptureSent)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CapturesTotal.WithLabelValues(CaptureFailed)))
}

func TestCaptureInFlightGauge(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordCaptureStart()
	m.RecordCaptureStart()
	m.RecordCaptureEnd(0.1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CapturesInFlight))
}

func TestSetConnectionState(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	all := []string{"DISCONNECTED", "CONNECTING", "OPEN", "CLOSED"}

	m.SetConnectionState("OPEN", all)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionState.WithLabelValues("OPEN")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConnectionState.WithLabelValues("CONNECTING")))

	m.SetConnectionState("CLOSED", all)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConnectionState.WithLabelValues("OPEN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionState.WithLabelValues("CLOSED")))
}

func TestRecordSpeechEnd(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordSpeechEnd(nil, 1.2)
	m.RecordSpeechEnd(errors.New("synth failed"), 0.1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SpeechErrors))
}

func TestRecordKafkaPublish(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordKafkaPublish("captions", "completed", nil, 0.01)
	m.RecordKafkaPublish("captions", "completed", errors.New("broker down"), 0.5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("captions", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("captions", "completed")))
}
