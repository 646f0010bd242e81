package caption

import (
	"testing"
	"time"
)

func TestEntry_InitialState(t *testing.T) {
	e := newEntry("cap-1", time.Now())

	if e.state != StateAssembling {
		t.Errorf("expected StateAssembling, got %v", e.state)
	}
	if e.text != "" || e.tokens != 0 {
		t.Errorf("expected empty entry, got text=%q tokens=%d", e.text, e.tokens)
	}
}

func TestEntry_AppendJoinsWithSingleSpace(t *testing.T) {
	e := newEntry("cap-1", time.Now())

	for _, tok := range []string{"a", "car,", "on", "the", "left."} {
		if err := e.append(tok); err != nil {
			t.Fatalf("append %q: unexpected error: %v", tok, err)
		}
	}

	if e.text != "a car, on the left." {
		t.Errorf("unexpected text %q", e.text)
	}
	if e.tokens != 5 {
		t.Errorf("expected 5 tokens, got %d", e.tokens)
	}
}

func TestEntry_FirstTokenVerbatim(t *testing.T) {
	e := newEntry("cap-1", time.Now())
	_ = e.append(" leading")

	if e.text != " leading" {
		t.Errorf("first token should be kept verbatim, got %q", e.text)
	}
}

func TestEntry_CompleteOnlyOnce(t *testing.T) {
	e := newEntry("cap-1", time.Now())

	if err := e.complete(time.Now()); err != nil {
		t.Fatalf("first complete: unexpected error: %v", err)
	}
	if err := e.complete(time.Now()); err != ErrCaptionComplete {
		t.Errorf("expected ErrCaptionComplete, got %v", err)
	}
	if err := e.append("late"); err != ErrCaptionComplete {
		t.Errorf("expected ErrCaptionComplete on append, got %v", err)
	}
}

func TestEntry_Evict(t *testing.T) {
	e := newEntry("cap-1", time.Now())
	_ = e.append("partial")

	if !e.evict() {
		t.Fatal("expected evict() to succeed while assembling")
	}
	if e.evict() {
		t.Error("expected second evict() to return false")
	}
	if err := e.complete(time.Now()); err != ErrCaptionEvicted {
		t.Errorf("expected ErrCaptionEvicted, got %v", err)
	}
}

func TestEntry_EvictAfterCompleteFails(t *testing.T) {
	e := newEntry("cap-1", time.Now())
	_ = e.complete(time.Now())

	if e.evict() {
		t.Error("expected evict() to return false from COMPLETE")
	}
	if e.state != StateComplete {
		t.Errorf("expected StateComplete, got %v", e.state)
	}
}

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state      State
		isTerminal bool
	}{
		{StateAssembling, false},
		{StateComplete, true},
		{StateEvicted, true},
	}

	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.isTerminal {
			t.Errorf("State(%s).IsTerminal() = %v, want %v", tt.state, got, tt.isTerminal)
		}
	}
}

func TestState_String(t *testing.T) {
	if StateComplete.String() != "COMPLETE" {
		t.Errorf("unexpected %s", StateComplete)
	}
	if State(42).String() != "UNKNOWN(42)" {
		t.Errorf("unexpected %s", State(42))
	}
}
