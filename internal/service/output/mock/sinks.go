// Package mock provides recording haptic and speech sinks for tests.
package mock

import (
	"context"
	"sync"

	"vision-caption-client/internal/service/output"
)

// Haptic counts pulses.
type Haptic struct {
	mu     sync.Mutex
	pulses int
}

// Pulse records a pulse.
func (h *Haptic) Pulse() {
	h.mu.Lock()
	h.pulses++
	h.mu.Unlock()
}

// Pulses returns the number of pulses fired.
func (h *Haptic) Pulses() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pulses
}

// Speech records calls and holds each one open until released.
type Speech struct {
	mu      sync.Mutex
	calls   []string
	started chan string
	release chan error
	manual  bool
}

// NewSpeech returns a Speech that finishes every utterance immediately.
func NewSpeech() *Speech {
	return &Speech{started: make(chan string, 64)}
}

// NewBlockingSpeech returns a Speech whose utterances finish only when
// Finish is called.
func NewBlockingSpeech() *Speech {
	return &Speech{
		started: make(chan string, 64),
		release: make(chan error),
		manual:  true,
	}
}

// Speak records text and, for a blocking Speech, waits for Finish.
func (s *Speech) Speak(ctx context.Context, text string, _ output.Voice) error {
	s.mu.Lock()
	s.calls = append(s.calls, text)
	s.mu.Unlock()

	select {
	case s.started <- text:
	default:
	}

	if !s.manual {
		return nil
	}
	select {
	case err := <-s.release:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish completes the outstanding utterance with err.
func (s *Speech) Finish(err error) {
	s.release <- err
}

// Started delivers the text of each utterance as it begins.
func (s *Speech) Started() <-chan string {
	return s.started
}

// Calls returns the texts spoken so far.
func (s *Speech) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}
