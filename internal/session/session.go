// Package session wires the capture, transport, caption and output
// components into one capture session.
//
// A Session owns the connection, the visited set, the speech busy flag and
// the caption buffers for one run. It is built by New and torn down by Close.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vision-caption-client/internal/events"
	"vision-caption-client/internal/models"
	"vision-caption-client/internal/observability/logging"
	"vision-caption-client/internal/observability/metrics"
	"vision-caption-client/internal/protocol"
	"vision-caption-client/internal/service/camera"
	"vision-caption-client/internal/service/capture"
	"vision-caption-client/internal/service/caption"
	"vision-caption-client/internal/service/output"
	"vision-caption-client/internal/service/transport"
)

const maxLoggedMessage = 128

// Config groups the per-component configuration of a session.
type Config struct {
	Transport transport.Config
	Capture   capture.Config
	Captions  caption.Limits
	Output    output.Config

	// PublishTimeout bounds each event publication.
	PublishTimeout time.Duration
}

// DefaultConfig returns the baseline session configuration.
func DefaultConfig() Config {
	return Config{
		Transport:      transport.DefaultConfig(),
		Capture:        capture.DefaultConfig(),
		Captions:       caption.DefaultLimits(),
		Output:         output.DefaultConfig(),
		PublishTimeout: 5 * time.Second,
	}
}

// Deps are the collaborators a session drives.
type Deps struct {
	Source camera.Source
	Haptic output.HapticSink
	Speech output.SpeechSink

	// Publisher is optional; without it no events are emitted.
	Publisher *events.Publisher
	// Metrics defaults to metrics.DefaultMetrics.
	Metrics *metrics.Metrics
	// OnStateChange is optional and observes connection state transitions.
	OnStateChange transport.StateFunc
}

// Session is one capture session against one inference endpoint.
type Session struct {
	id  string
	cfg Config

	transport *transport.Client
	assembler *caption.Assembler
	arbiter   *output.Arbiter
	scheduler *capture.Scheduler
	publisher *events.Publisher

	publishing sync.WaitGroup
	closeOnce  sync.Once
	closeErr   error

	metrics *metrics.Metrics
	log     zerolog.Logger
}

// New builds a session. Nothing touches the network until Start.
func New(cfg Config, deps Deps) (*Session, error) {
	if deps.Source == nil || deps.Haptic == nil || deps.Speech == nil {
		return nil, errors.New("session requires a frame source, a haptic sink and a speech sink")
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultConfig().PublishTimeout
	}

	m := deps.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}

	s := &Session{
		id:        uuid.NewString(),
		cfg:       cfg,
		publisher: deps.Publisher,
		metrics:   m,
	}
	s.log = logging.WithSession(s.id, "session")

	s.arbiter = output.New(deps.Haptic, deps.Speech, cfg.Output,
		output.WithMetrics(m),
		output.WithLogger(logging.WithSession(s.id, "output")),
		output.WithDropHandler(s.onSpeechDropped),
	)

	s.assembler = caption.New(cfg.Captions, s.onCaptionComplete,
		caption.WithMetrics(m),
		caption.WithLogger(logging.WithSession(s.id, "caption")),
	)

	topts := []transport.Option{
		transport.WithMetrics(m),
		transport.WithLogger(logging.WithSession(s.id, "transport")),
	}
	if deps.OnStateChange != nil {
		topts = append(topts, transport.WithStateFunc(deps.OnStateChange))
	}
	s.transport = transport.New(cfg.Transport, s.HandleMessage, topts...)

	sched, err := capture.New(cfg.Capture, deps.Source, s.transport,
		capture.WithMetrics(m),
		capture.WithLogger(logging.WithSession(s.id, "capture")),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid capture configuration: %w", err)
	}
	s.scheduler = sched

	return s, nil
}

// ID returns the session identifier used in logs and events.
func (s *Session) ID() string {
	return s.id
}

// State returns the connection state.
func (s *Session) State() transport.State {
	return s.transport.State()
}

// Ready reports whether the connection is open.
func (s *Session) Ready() bool {
	return s.transport.State() == transport.StateOpen
}

// Start connects and then begins capturing. Without reconnection a failed
// connection is returned; the session is still closed with Close.
func (s *Session) Start(ctx context.Context) error {
	s.log.Info().Str("url", s.cfg.Transport.URL).Msg("Starting session")

	if err := s.transport.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to inference service: %w", err)
	}
	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting capture scheduler: %w", err)
	}
	return nil
}

// HandleMessage processes one inbound frame. Malformed frames are counted
// and discarded. The haptic fires before the token is applied.
func (s *Session) HandleMessage(raw string) {
	id, token, err := protocol.ParseToken(raw)
	if err != nil {
		s.metrics.RecordMalformed()
		s.log.Warn().Err(err).Str("raw", truncate(raw)).Msg("Discarding malformed message")
		return
	}

	s.metrics.RecordToken()
	s.arbiter.Observe(id)
	s.assembler.OnToken(id, token)
}

func (s *Session) onCaptionComplete(entry models.CaptionEntry) {
	clog := logging.WithCapture(s.id, entry.ID)
	clog.Info().
		Str("text", entry.Text).
		Int("tokens", entry.Tokens).
		Msg("Caption complete")

	s.arbiter.Speak(entry.ID, entry.Text)

	if s.publisher == nil {
		return
	}
	ev := models.CaptionCompleted{
		EventType:  models.EventCaptionCompleted,
		SessionID:  s.id,
		CaptureID:  entry.ID,
		Text:       entry.Text,
		TokenCount: entry.Tokens,
		LatencyMs:  entry.CompletedAt.Sub(entry.FirstTokenAt).Milliseconds(),
		Timestamp:  entry.CompletedAt.UnixMilli(),
	}
	s.publish(func(ctx context.Context) error {
		return s.publisher.PublishCaption(ctx, ev)
	})
}

func (s *Session) onSpeechDropped(id, text, reason string) {
	if s.publisher == nil {
		return
	}
	ev := models.SpeechDropped{
		EventType: models.EventSpeechDropped,
		SessionID: s.id,
		CaptureID: id,
		Text:      text,
		Reason:    reason,
		Timestamp: time.Now().UnixMilli(),
	}
	s.publish(func(ctx context.Context) error {
		return s.publisher.PublishSpeechDropped(ctx, ev)
	})
}

// publish runs fn off the read-pump goroutine so a slow broker never delays
// inbound messages.
func (s *Session) publish(fn func(ctx context.Context) error) {
	s.publishing.Add(1)
	go func() {
		defer s.publishing.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PublishTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.log.Warn().Err(err).Msg("Event not published")
		}
	}()
}

// Close stops capturing, waits for in-flight captures, closes the connection,
// lets the current utterance finish and flushes pending events. Every wait is
// bounded by ctx. Idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.log.Info().Msg("Closing session")
		var errs []error

		s.scheduler.Stop()
		if err := s.scheduler.Drain(ctx); err != nil {
			errs = append(errs, err)
		}

		if err := s.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing transport: %w", err))
		}

		if err := s.arbiter.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("waiting for speech: %w", err))
		}
		s.arbiter.Close()

		if err := waitGroup(ctx, &s.publishing); err != nil {
			errs = append(errs, fmt.Errorf("flushing events: %w", err))
		}
		if s.publisher != nil {
			if err := s.publisher.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing publisher: %w", err))
			}
		}

		s.closeErr = errors.Join(errs...)
		s.log.Info().Int("activeCaptions", s.assembler.Active()).Msg("Session closed")
	})
	return s.closeErr
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(s string) string {
	if len(s) <= maxLoggedMessage {
		return s
	}
	return s[:maxLoggedMessage] + "..."
}
