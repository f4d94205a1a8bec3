package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"unknown": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewRespectsFormatAndLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(&buf, "warn", true)
	log.Info("hidden")
	log.Warn("shown", "bot_id", "a1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"bot_id":"a1"`)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcdefg...", Truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "...", Truncate("abcdef", 2))
	assert.Equal(t, "ab...", Truncate("abéééé", 6), "multi-byte rune is not split")
}

func TestCutKeepsRunes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ab", Cut("ab", 5))
	assert.Equal(t, "a", Cut("aé", 2))
	assert.Equal(t, "aé", Cut("aéb", 3))
	assert.Equal(t, "", Cut("é", 1))
}
