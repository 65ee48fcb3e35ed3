package logging

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestNewWithWriterFormats(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, Options{Level: "info", Format: "json"})
	l.WithVolume("head").WithComponent("scheduler").Info("selected", "bricks", 3)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "{"), "expected JSON output, got %q", out)
	assert.Contains(t, out, `"volume":"head"`)
	assert.Contains(t, out, `"component":"scheduler"`)
	assert.Contains(t, out, `"bricks":3`)

	buf.Reset()
	l = NewWithWriter(&buf, Options{Level: "warn"})
	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volbrick.log")
	l := New(Options{File: path, MaxSizeMB: 1})
	l.Info("hello")
	require.NoError(t, l.Close())
}

func TestNopAndBytes(t *testing.T) {
	OrNop(nil).Error("discarded")
	assert.Equal(t, "1.0 KiB", Bytes(1024))
	assert.Equal(t, "0 B", Bytes(-5))
}
