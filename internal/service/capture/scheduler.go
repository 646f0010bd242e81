// Package capture drives periodic frame acquisition and hands each frame to
// the transport as a CaptureRequest.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"vision-caption-client/internal/models"
	"vision-caption-client/internal/observability/logging"
	"vision-caption-client/internal/observability/metrics"
	"vision-caption-client/internal/service/camera"
)

var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrStopped        = errors.New("scheduler stopped")
)

// Policy decides what a tick does while earlier captures are still running.
type Policy string

const (
	PolicyOverlap Policy = "overlap" // every tick captures
	PolicySkip    Policy = "skip"    // skip ticks while any capture is in flight
	PolicyCap     Policy = "cap"     // at most MaxInFlight concurrent captures
)

// ParsePolicy maps a configuration value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyOverlap, PolicySkip, PolicyCap:
		return p, nil
	case "":
		return PolicyOverlap, nil
	default:
		return "", fmt.Errorf("unknown capture policy %q", s)
	}
}

// Sender accepts a capture for transmission. It must not block; false means
// the capture was dropped.
type Sender interface {
	Send(req models.CaptureRequest) bool
}

// Ticker abstracts time.Ticker so tests can drive ticks by hand.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.Ticker.C }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{time.NewTicker(d)}
}

// Config holds scheduler configuration.
type Config struct {
	Interval    time.Duration
	Params      camera.Params
	Policy      Policy
	MaxInFlight int64 // used by PolicyCap
}

// DefaultConfig returns a 2s cadence with overlapping captures allowed.
func DefaultConfig() Config {
	return Config{
		Interval:    2 * time.Second,
		Params:      camera.DefaultParams(),
		Policy:      PolicyOverlap,
		MaxInFlight: 2,
	}
}

// Scheduler fires a capture on every tick of a fixed-cadence ticker. The
// first capture happens one interval after Start.
type Scheduler struct {
	cfg       Config
	source    camera.Source
	sender    Sender
	ids       *Generator
	newTicker func(time.Duration) Ticker
	sem       *semaphore.Weighted

	mu       sync.Mutex
	started  bool
	stopped  bool
	ticker   Ticker
	stop     chan struct{}
	loopDone chan struct{}
	inflight sync.WaitGroup

	metrics *metrics.Metrics
	log     zerolog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithTicker replaces the time.Ticker factory.
func WithTicker(fn func(time.Duration) Ticker) Option {
	return func(s *Scheduler) { s.newTicker = fn }
}

func WithGenerator(g *Generator) Option {
	return func(s *Scheduler) { s.ids = g }
}

// New validates cfg and creates an idle Scheduler.
func New(cfg Config, source camera.Source, sender Sender, opts ...Option) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("capture interval must be positive, got %s", cfg.Interval)
	}
	if source == nil || sender == nil {
		return nil, errors.New("capture source and sender are required")
	}
	policy, err := ParsePolicy(string(cfg.Policy))
	if err != nil {
		return nil, err
	}
	cfg.Policy = policy

	s := &Scheduler{
		cfg:       cfg,
		source:    source,
		sender:    sender,
		ids:       NewGenerator(),
		newTicker: newTimeTicker,
		stop:      make(chan struct{}),
		loopDone:  make(chan struct{}),
		metrics:   metrics.DefaultMetrics,
		log:       logging.WithComponent("capture"),
	}

	switch cfg.Policy {
	case PolicySkip:
		s.sem = semaphore.NewWeighted(1)
	case PolicyCap:
		if cfg.MaxInFlight <= 0 {
			return nil, fmt.Errorf("max in-flight captures must be positive, got %d", cfg.MaxInFlight)
		}
		s.sem = semaphore.NewWeighted(cfg.MaxInFlight)
	}

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start begins ticking. Cancelling ctx stops the loop; captures already
// started keep ctx's values but not its cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.ticker = s.newTicker(s.cfg.Interval)

	s.log.Info().
		Dur("interval", s.cfg.Interval).
		Str("policy", string(s.cfg.Policy)).
		Int("quality", s.cfg.Params.Quality).
		Msg("Capture scheduler started")

	go s.loop(ctx, s.ticker)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, ticker Ticker) {
	defer close(s.loopDone)
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.tick(ctx)
		}
	}
}

// tick starts one capture unless stopped or the policy says skip.
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if s.sem != nil && !s.sem.TryAcquire(1) {
		s.mu.Unlock()
		s.metrics.RecordCapture(metrics.CaptureSkipped)
		s.log.Debug().Str("policy", string(s.cfg.Policy)).Msg("Tick skipped, capture in flight")
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	// A started capture runs to completion even if ctx is cancelled.
	go s.capture(context.WithoutCancel(ctx))
}

func (s *Scheduler) capture(ctx context.Context) {
	defer s.inflight.Done()
	if s.sem != nil {
		defer s.sem.Release(1)
	}

	start := time.Now()
	s.metrics.RecordCaptureStart()
	defer func() {
		s.metrics.RecordCaptureEnd(time.Since(start).Seconds())
	}()

	id := s.ids.Next()
	log := s.log.With().Str("captureId", id).Logger()

	frame, err := s.source.Capture(ctx, s.cfg.Params)
	if err != nil {
		s.metrics.RecordCapture(metrics.CaptureFailed)
		log.Warn().Err(err).Msg("Frame acquisition failed")
		return
	}

	req := models.CaptureRequest{ID: id, Payload: frame, CreatedAt: time.Now()}
	if !s.sender.Send(req) {
		s.metrics.RecordCapture(metrics.CaptureNotSent)
		return
	}

	s.metrics.RecordCapture(metrics.CaptureSent)
	s.metrics.RecordFrameSent(len(frame))
	log.Debug().Int("bytes", len(frame)).Msg("Capture sent")
}

// Stop halts ticking. Once it returns no new capture starts; captures already
// running are left to finish. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stop)
	s.mu.Unlock()

	if started {
		<-s.loopDone
	}
	s.log.Info().Msg("Capture scheduler stopped")
}

// Drain waits for in-flight captures, or until ctx is done. Call after Stop.
func (s *Scheduler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining captures: %w", ctx.Err())
	}
}
