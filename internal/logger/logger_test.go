package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestSetOutputFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, slog.LevelWarn)
	t.Cleanup(func() { SetOutput(&bytes.Buffer{}, slog.LevelInfo) })

	Info("store: saved", "participant_id", "p1")
	assert.Empty(t, buf.String())

	Warn("remote: push failed", "participant_id", "p1")
	assert.Contains(t, buf.String(), "remote: push failed")
	assert.Contains(t, buf.String(), "participant_id=p1")
}
