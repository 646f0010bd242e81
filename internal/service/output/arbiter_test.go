package output_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision-caption-client/internal/observability/metrics"
	"vision-caption-client/internal/service/output"
	"vision-caption-client/internal/service/output/mock"
)

type dropRecorder struct {
	mu      sync.Mutex
	reasons []string
	texts   []string
}

func (d *dropRecorder) record(_, text, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reasons = append(d.reasons, reason)
	d.texts = append(d.texts, text)
}

func waitStarted(t *testing.T, s *mock.Speech, want string) {
	t.Helper()
	select {
	case got := <-s.Started():
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("speech %q never started", want)
	}
}

func waitIdle(t *testing.T, a *output.Arbiter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Wait(ctx))
}

func TestArbiter_HapticFiresOncePerID(t *testing.T) {
	h := &mock.Haptic{}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	a := output.New(h, mock.NewSpeech(), output.DefaultConfig(), output.WithMetrics(m))

	assert.True(t, a.Observe("abc"))
	assert.False(t, a.Observe("abc"))
	assert.False(t, a.Observe("abc"))
	assert.True(t, a.Observe("xyz"))

	assert.Equal(t, 2, h.Pulses())
	assert.True(t, a.Visited("abc"))
	assert.False(t, a.Visited("nope"))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HapticPulses))
}

func TestArbiter_SpeakDispatchesOnce(t *testing.T) {
	s := mock.NewSpeech()
	a := output.New(&mock.Haptic{}, s, output.DefaultConfig(),
		output.WithMetrics(metrics.NewMetrics(prometheus.NewRegistry())))

	assert.True(t, a.Speak("abc", "hello"))
	waitIdle(t, a)

	assert.Equal(t, []string{"hello"}, s.Calls())
	assert.False(t, a.Busy())
}

func TestArbiter_EmptyTextNeverSpoken(t *testing.T) {
	s := mock.NewSpeech()
	d := &dropRecorder{}
	a := output.New(&mock.Haptic{}, s, output.DefaultConfig(),
		output.WithMetrics(metrics.NewMetrics(prometheus.NewRegistry())),
		output.WithDropHandler(d.record))

	assert.False(t, a.Speak("xyz", ""))
	waitIdle(t, a)

	assert.Empty(t, s.Calls())
	assert.Empty(t, d.reasons, "empty captions are not reported as drops")
}

func TestArbiter_DropsWhileBusy(t *testing.T) {
	s := mock.NewBlockingSpeech()
	d := &dropRecorder{}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	a := output.New(&mock.Haptic{}, s, output.DefaultConfig(),
		output.WithMetrics(m), output.WithDropHandler(d.record))

	require.True(t, a.Speak("one", "first caption"))
	waitStarted(t, s, "first caption")
	assert.True(t, a.Busy())

	assert.False(t, a.Speak("two", "second caption"))
	assert.Equal(t, []string{"first caption"}, s.Calls(), "no second speak while busy")

	s.Finish(nil)
	waitIdle(t, a)
	assert.False(t, a.Busy())

	// The dropped caption is not retried.
	assert.Equal(t, []string{"first caption"}, s.Calls())
	assert.Equal(t, []string{output.DropBusy}, d.reasons)
	assert.Equal(t, []string{"second caption"}, d.texts)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SpeechDropped.WithLabelValues(output.DropBusy)))

	// Idle again: the next caption is spoken.
	require.True(t, a.Speak("three", "third caption"))
	waitStarted(t, s, "third caption")
	s.Finish(nil)
	waitIdle(t, a)
}

func TestArbiter_ErrorClearsBusy(t *testing.T) {
	s := mock.NewBlockingSpeech()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	a := output.New(&mock.Haptic{}, s, output.DefaultConfig(), output.WithMetrics(m))

	require.True(t, a.Speak("one", "hello"))
	waitStarted(t, s, "hello")

	s.Finish(errors.New("audio device unavailable"))
	waitIdle(t, a)

	assert.False(t, a.Busy())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SpeechErrors))

	require.True(t, a.Speak("two", "again"))
	waitStarted(t, s, "again")
	s.Finish(nil)
	waitIdle(t, a)
}

func TestArbiter_QueuePolicySpeaksInOrder(t *testing.T) {
	s := mock.NewBlockingSpeech()
	d := &dropRecorder{}
	cfg := output.Config{Policy: output.PolicyQueue, QueueDepth: 2}
	a := output.New(&mock.Haptic{}, s, cfg,
		output.WithMetrics(metrics.NewMetrics(prometheus.NewRegistry())),
		output.WithDropHandler(d.record))

	require.True(t, a.Speak("1", "one"))
	waitStarted(t, s, "one")
	assert.True(t, a.Speak("2", "two"))
	assert.True(t, a.Speak("3", "three"))
	assert.False(t, a.Speak("4", "four"), "queue is full")

	s.Finish(nil)
	waitStarted(t, s, "two")
	s.Finish(nil)
	waitStarted(t, s, "three")
	s.Finish(nil)
	waitIdle(t, a)

	assert.Equal(t, []string{"one", "two", "three"}, s.Calls())
	assert.Equal(t, []string{output.DropQueue}, d.reasons)
}

func TestArbiter_CloseCancelsAndRejects(t *testing.T) {
	s := mock.NewBlockingSpeech()
	d := &dropRecorder{}
	cfg := output.Config{Policy: output.PolicyQueue, QueueDepth: 4}
	a := output.New(&mock.Haptic{}, s, cfg,
		output.WithMetrics(metrics.NewMetrics(prometheus.NewRegistry())),
		output.WithDropHandler(d.record))

	require.True(t, a.Speak("1", "one"))
	waitStarted(t, s, "one")
	require.True(t, a.Speak("2", "two"))

	a.Close()
	waitIdle(t, a)

	assert.False(t, a.Speak("3", "three"))
	assert.Equal(t, []string{"one"}, s.Calls())
	assert.Equal(t, []string{output.DropClosed, output.DropClosed}, d.reasons)

	a.Close()
}
