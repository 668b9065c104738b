package logger

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"Error", slog.LevelError},
		{"nonsense", slog.LevelWarn},
		{"", slog.LevelWarn},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "input %q", tt.input)
	}
}

func TestTextHandlerOutput(t *testing.T) {
	var buf strings.Builder
	h := &textHandler{level: slog.LevelInfo, writer: &buf}
	logger := slog.New(h)

	logger.Info("session started", "session_id", "sess-1")
	logger.Debug("hidden")

	out := buf.String()
	require.Equal(t, 1, strings.Count(out, "\n"))
	assert.Equal(t, "INFO session started session_id=sess-1\n", out)
}

func TestTextHandlerWithAttrs(t *testing.T) {
	var buf strings.Builder
	h := &textHandler{level: slog.LevelInfo, writer: &buf}
	logger := slog.New(h).With("component", "gateway")

	logger.Warn("retrying")
	assert.Equal(t, "WARN retrying component=gateway\n", buf.String())
}

func TestEnabledRespectsLevel(t *testing.T) {
	h := &textHandler{level: slog.LevelWarn, writer: &strings.Builder{}}
	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}
