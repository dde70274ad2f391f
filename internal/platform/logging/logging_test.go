package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T, level string) (*Logger, *bytes.Buffer, string) {
	t.Helper()
	dir := t.TempDir()
	console := &bytes.Buffer{}
	l, err := New(Config{Level: level, Dir: dir, Filename: "test.log", Console: console})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, console, filepath.Join(dir, "test.log")
}

func TestFormatLog(t *testing.T) {
	assert.Equal(t, "[HTTP] started", FormatLog("HTTP", "started"))
	assert.Equal(t, "[Already] tagged", FormatLog("HTTP", "[Already] tagged"))
	assert.Equal(t, "plain", FormatLog("", " plain "))
}

func TestLogger_WritesFileAndConsole(t *testing.T) {
	l, console, path := newTestLogger(t, "info")

	l.InfoTag("Listener", "bound %s on %d", "tls", 8443)
	l.Debug("hidden at info level")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"[Listener] bound tls on 8443"`)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, console.String(), "[Listener] bound tls on 8443")
}

func TestLogger_StructuredFields(t *testing.T) {
	l, _, path := newTestLogger(t, "debug")

	l.Warn("refresh skipped", map[string]interface{}{"subject": "u1", "reason": "fresh"})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	assert.Contains(t, line, `"reason":"fresh"`)
	assert.Contains(t, line, `"subject":"u1"`)
	assert.Contains(t, line, `"level":"WARN"`)
}

func TestLogger_TaggedView(t *testing.T) {
	l, console, _ := newTestLogger(t, "debug")

	l.Tagged("Session").Error("login failed: %v", "boom")

	assert.Contains(t, console.String(), "[Session] login failed: boom")
	assert.Contains(t, console.String(), "ERROR")
}

func TestNop_DiscardsAndCloses(t *testing.T) {
	l := Nop()
	l.Error("nothing happens")
	l.Tagged("X").Info("still nothing")
	assert.NoError(t, l.Close())
	assert.NoError(t, l.Close())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", ParseLevel("DEBUG").String())
	assert.Equal(t, "WARN", ParseLevel("warning").String())
	assert.Equal(t, "INFO", ParseLevel("bogus").String())
}
