package output

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vision-caption-client/internal/observability/logging"
	"vision-caption-client/internal/observability/metrics"
)

// Policy decides what happens to a completed caption while speech is busy.
type Policy string

const (
	// PolicyDrop discards captions that complete while speaking.
	PolicyDrop Policy = "drop"
	// PolicyQueue holds up to QueueDepth captions and speaks them in order.
	PolicyQueue Policy = "queue"
)

// Drop reasons.
const (
	DropBusy   = "busy"
	DropEmpty  = "empty"
	DropClosed = "closed"
	DropQueue  = "queue_full"
)

// Config holds arbiter configuration.
type Config struct {
	Policy     Policy
	QueueDepth int
	Voice      Voice
}

// DefaultConfig returns the drop-if-busy configuration.
func DefaultConfig() Config {
	return Config{
		Policy:     PolicyDrop,
		QueueDepth: 4,
		Voice:      DefaultVoice(),
	}
}

// DropFunc is notified when a completed caption is not spoken.
type DropFunc func(id, text, reason string)

type utterance struct {
	id   string
	text string
}

// Arbiter gates the two output channels.
//
// Haptic: one pulse per capture id, on the first message seen for it.
// Speech: single-flight. At most one utterance is outstanding; the busy flag
// is cleared when the sink returns, whether it succeeded or failed.
type Arbiter struct {
	haptic HapticSink
	speech SpeechSink
	cfg    Config

	visitedMu sync.Mutex
	visited   map[string]struct{}

	mu     sync.Mutex
	busy   bool
	closed bool
	queue  []utterance

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	onDrop  DropFunc
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithMetrics overrides metrics.DefaultMetrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Arbiter) { a.metrics = m }
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Arbiter) { a.log = l }
}

// WithDropHandler registers fn for captions that are not spoken.
func WithDropHandler(fn DropFunc) Option {
	return func(a *Arbiter) { a.onDrop = fn }
}

// New creates an Arbiter over the given sinks.
func New(haptic HapticSink, speech SpeechSink, cfg Config, opts ...Option) *Arbiter {
	if cfg.Policy == "" {
		cfg.Policy = PolicyDrop
	}
	if cfg.Voice == (Voice{}) {
		cfg.Voice = DefaultVoice()
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Arbiter{
		haptic:  haptic,
		speech:  speech,
		cfg:     cfg,
		visited: make(map[string]struct{}),
		ctx:     ctx,
		cancel:  cancel,
		metrics: metrics.DefaultMetrics,
		log:     logging.WithComponent("output"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Observe records that a message arrived for id and fires the haptic pulse
// the first time id is seen. Returns true if it fired.
func (a *Arbiter) Observe(id string) bool {
	a.visitedMu.Lock()
	if _, seen := a.visited[id]; seen {
		a.visitedMu.Unlock()
		return false
	}
	a.visited[id] = struct{}{}
	a.visitedMu.Unlock()

	if a.haptic != nil {
		a.haptic.Pulse()
	}
	a.metrics.RecordHaptic()
	a.log.Debug().Str("captureId", id).Msg("Haptic pulse")
	return true
}

// Visited reports whether any message has been observed for id.
func (a *Arbiter) Visited(id string) bool {
	a.visitedMu.Lock()
	defer a.visitedMu.Unlock()
	_, ok := a.visited[id]
	return ok
}

// Speak dispatches a completed caption to the speech sink. Returns true if it
// was dispatched or queued, false if it was dropped.
func (a *Arbiter) Speak(id, text string) bool {
	if text == "" {
		a.metrics.RecordSpeechDropped(DropEmpty)
		a.log.Debug().Str("captureId", id).Msg("Empty caption, nothing to speak")
		return false
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		a.drop(id, text, DropClosed)
		return false
	}
	if a.busy {
		if a.cfg.Policy == PolicyQueue {
			if len(a.queue) < a.cfg.QueueDepth {
				a.queue = append(a.queue, utterance{id: id, text: text})
				depth := len(a.queue)
				a.mu.Unlock()
				a.log.Debug().Str("captureId", id).Int("depth", depth).Msg("Caption queued for speech")
				return true
			}
			a.mu.Unlock()
			a.drop(id, text, DropQueue)
			return false
		}
		a.mu.Unlock()
		a.drop(id, text, DropBusy)
		return false
	}
	a.busy = true
	a.wg.Add(1)
	a.mu.Unlock()

	go a.run(utterance{id: id, text: text})
	return true
}

// run speaks u, then anything queued behind it, and clears the busy flag.
func (a *Arbiter) run(u utterance) {
	defer a.wg.Done()

	for {
		a.metrics.RecordSpeechDispatched()
		a.log.Info().Str("captureId", u.id).Str("text", u.text).Msg("Speaking caption")

		start := time.Now()
		err := a.speech.Speak(a.ctx, u.text, a.cfg.Voice)
		a.metrics.RecordSpeechEnd(err, time.Since(start).Seconds())
		if err != nil {
			a.log.Warn().Err(err).Str("captureId", u.id).Msg("Speech failed, caption lost")
		}

		a.mu.Lock()
		if len(a.queue) > 0 && !a.closed {
			u = a.queue[0]
			a.queue = a.queue[1:]
			a.mu.Unlock()
			continue
		}
		a.busy = false
		a.mu.Unlock()
		return
	}
}

func (a *Arbiter) drop(id, text, reason string) {
	a.metrics.RecordSpeechDropped(reason)
	a.log.Info().
		Str("captureId", id).
		Str("reason", reason).
		Msg("Caption not spoken")
	if a.onDrop != nil {
		a.onDrop(id, text, reason)
	}
}

// Busy reports whether an utterance is outstanding.
func (a *Arbiter) Busy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.busy
}

// Wait blocks until no utterance is outstanding or ctx is done.
func (a *Arbiter) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects further speech, discards the queue and cancels the
// outstanding utterance. Idempotent.
func (a *Arbiter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	pending := a.queue
	a.queue = nil
	a.mu.Unlock()

	for _, u := range pending {
		a.drop(u.id, u.text, DropClosed)
	}
	a.cancel()
}
