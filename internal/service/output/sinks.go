package output

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"vision-caption-client/internal/observability/logging"
)

// baseWordsPerMinute is the engine speed for Voice.Rate 1.0.
const baseWordsPerMinute = 175

// LogHaptic logs each pulse. Stand-in for a device vibration motor.
type LogHaptic struct {
	log zerolog.Logger
}

// NewLogHaptic creates a LogHaptic.
func NewLogHaptic() *LogHaptic {
	return &LogHaptic{log: logging.WithComponent("haptic")}
}

// Pulse logs a pulse.
func (h *LogHaptic) Pulse() {
	h.log.Info().Msg("bzz")
}

// CommandSpeech speaks through an external text-to-speech executable such as
// espeak, espeak-ng or macOS say.
type CommandSpeech struct {
	path string
}

// NewCommandSpeech creates a CommandSpeech that runs path.
func NewCommandSpeech(path string) *CommandSpeech {
	return &CommandSpeech{path: path}
}

// Speak runs the command and waits for it to exit. Cancelling ctx kills it.
func (c *CommandSpeech) Speak(ctx context.Context, text string, voice Voice) error {
	cmd := exec.CommandContext(ctx, c.path, c.args(text, voice)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("speech command %s: %w (output: %q)", filepath.Base(c.path), err, out)
	}
	return nil
}

func (c *CommandSpeech) args(text string, voice Voice) []string {
	rate := voice.Rate
	if rate <= 0 {
		rate = 1.0
	}
	wpm := strconv.Itoa(int(rate * baseWordsPerMinute))

	switch filepath.Base(c.path) {
	case "say":
		return []string{"-r", wpm, "--", text}
	default:
		args := []string{"-s", wpm}
		if voice.Language != "" {
			args = append(args, "-v", voice.Language)
		}
		return append(args, "--", text)
	}
}

// LogSpeech logs captions instead of speaking them.
type LogSpeech struct {
	log zerolog.Logger
}

// NewLogSpeech creates a LogSpeech.
func NewLogSpeech() *LogSpeech {
	return &LogSpeech{log: logging.WithComponent("speech")}
}

// Speak logs text and returns immediately.
func (s *LogSpeech) Speak(_ context.Context, text string, voice Voice) error {
	s.log.Info().
		Str("text", text).
		Str("language", voice.Language).
		Float64("rate", voice.Rate).
		Msg("say")
	return nil
}
