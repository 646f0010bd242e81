package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWriter_LevelAndFields(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	InitWriter(Config{Level: "warn", Format: "json"}, &buf)

	log.Info().Msg("hidden")
	assert.Zero(t, buf.Len(), "info should be filtered at warn level")

	l := WithCapture("sess-1", "cap-1")
	l.Warn().Msg("visible")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "sess-1", entry["sessionId"])
	assert.Equal(t, "cap-1", entry["captureId"])
	assert.Equal(t, "visible", entry["message"])
}

func TestInitWriter_InvalidLevelFallsBackToInfo(t *testing.T) {
	InitWriter(Config{Level: "chatty"}, &bytes.Buffer{})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
