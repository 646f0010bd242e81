// Package caption assembles streamed tokens into per-capture captions.
package caption

import (
	"errors"
	"fmt"
	"time"

	"vision-caption-client/internal/models"
)

// State represents the lifecycle state of a caption entry.
type State int

const (
	// StateAssembling - tokens are still arriving.
	StateAssembling State = iota
	// StateComplete - the sentinel arrived. Terminal.
	StateComplete
	// StateEvicted - dropped before its sentinel arrived. Terminal.
	StateEvicted
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateAssembling:
		return "ASSEMBLING"
	case StateComplete:
		return "COMPLETE"
	case StateEvicted:
		return "EVICTED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if no further tokens are accepted in this state.
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateEvicted
}

// Errors for invalid state transitions.
var (
	ErrCaptionComplete = errors.New("caption already complete")
	ErrCaptionEvicted  = errors.New("caption was evicted")
)

// entry is the mutable accumulation buffer for one capture id.
// Not safe for concurrent use; the Assembler serializes access.
//
// State transitions:
//
//	ASSEMBLING ──complete()──→ COMPLETE
//	     │
//	     └──────evict()──────→ EVICTED
type entry struct {
	id           string
	text         string
	tokens       int
	state        State
	firstTokenAt time.Time
	completedAt  time.Time
}

func newEntry(id string, now time.Time) *entry {
	return &entry{
		id:           id,
		state:        StateAssembling,
		firstTokenAt: now,
	}
}

// append adds a token, space-joined after any earlier ones.
func (e *entry) append(token string) error {
	switch e.state {
	case StateAssembling:
	case StateComplete:
		return ErrCaptionComplete
	case StateEvicted:
		return ErrCaptionEvicted
	default:
		return fmt.Errorf("unexpected state: %v", e.state)
	}

	if e.tokens == 0 {
		e.text = token
	} else {
		e.text += " " + token
	}
	e.tokens++
	return nil
}

// complete transitions to COMPLETE. Allowed exactly once.
func (e *entry) complete(now time.Time) error {
	switch e.state {
	case StateAssembling:
		e.state = StateComplete
		e.completedAt = now
		return nil
	case StateComplete:
		return ErrCaptionComplete
	case StateEvicted:
		return ErrCaptionEvicted
	default:
		return fmt.Errorf("unexpected state: %v", e.state)
	}
}

// evict transitions to EVICTED. Returns false if already terminal.
func (e *entry) evict() bool {
	if e.state.IsTerminal() {
		return false
	}
	e.state = StateEvicted
	return true
}

func (e *entry) snapshot() models.CaptionEntry {
	return models.CaptionEntry{
		ID:           e.id,
		Text:         e.text,
		Complete:     e.state == StateComplete,
		Tokens:       e.tokens,
		FirstTokenAt: e.firstTokenAt,
		CompletedAt:  e.completedAt,
	}
}
