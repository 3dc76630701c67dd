package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{" warn ", WarnLevel},
		{"Warning", WarnLevel},
		{"error", ErrorLevel},
		{"fatal", FatalLevel},
		{"bogus", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), "input %q", tt.in)
	}
}

func TestInit_WritesStructuredOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, Output: &buf})
	defer Init(Config{Level: InfoLevel})

	Info().Str("taskID", "t1").Msg("session started")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "session started", entry["message"])
	assert.Equal(t, "t1", entry["taskID"])
	assert.Equal(t, "info", entry["level"])
}

func TestInit_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: ErrorLevel, Output: &buf})
	defer Init(Config{Level: InfoLevel})

	Debug().Msg("hidden")
	Info().Msg("hidden too")
	assert.Zero(t, buf.Len())

	Error().Msg("visible")
	assert.NotZero(t, buf.Len())
}
