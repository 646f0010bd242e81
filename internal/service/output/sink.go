// Package output routes inbound caption traffic to haptic and speech feedback.
package output

import "context"

// HapticSink fires a short vibration. Pulse must not block.
type HapticSink interface {
	Pulse()
}

// SpeechSink speaks text aloud. Speak blocks until the utterance finishes
// (nil) or fails (non-nil).
type SpeechSink interface {
	Speak(ctx context.Context, text string, voice Voice) error
}

// Voice is the fixed rate/locale configuration passed to the speech sink.
type Voice struct {
	Rate     float64 // 1.0 is the engine's normal speed
	Language string  // BCP 47 tag, e.g. "en"
}

// DefaultVoice returns the voice used by the mobile client.
func DefaultVoice() Voice {
	return Voice{
		Rate:     1.0,
		Language: "en",
	}
}

// HapticFunc adapts a function to HapticSink.
type HapticFunc func()

// Pulse calls f.
func (f HapticFunc) Pulse() { f() }
