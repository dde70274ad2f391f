package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

const (
	colorReset = "\x1b[0m"
	colorTime  = "\x1b[90m"
	colorDebug = "\x1b[36m"
	colorInfo  = "\x1b[32m"
	colorWarn  = "\x1b[33m"
	colorError = "\x1b[31m"
)

var tagColors = map[string]string{
	"[Bootstrap]":       "\x1b[96m",
	"[Listener]":        "\x1b[94m",
	"[HTTP]":            "\x1b[95m",
	"[AuthGate]":        "\x1b[91m",
	"[Token]":           "\x1b[93m",
	"[Session]":         "\x1b[92m",
	"[CredentialStore]": "\x1b[35m",
	"[Storage]":         "\x1b[97m",
	"[OBSERVABILITY]":   "\x1b[90m",
}

// consoleHandler renders "[time] [LEVEL] message { k=v }", or
// "[time] [Tag] message" when the message carries a known tag.
type consoleHandler struct {
	writer io.Writer
	level  slog.Level
	mu     sync.Mutex
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	timeStr := r.Time.Format("2006-01-02 15:04:05.000")

	var levelColor string
	switch {
	case r.Level >= slog.LevelError:
		levelColor = colorError
	case r.Level >= slog.LevelWarn:
		levelColor = colorWarn
	case r.Level >= slog.LevelInfo:
		levelColor = colorInfo
	default:
		levelColor = colorDebug
	}

	var b strings.Builder
	moduleColor := ""
	for tag, color := range tagColors {
		if strings.HasPrefix(r.Message, tag) {
			moduleColor = color
			break
		}
	}
	if moduleColor != "" && r.Level < slog.LevelWarn {
		fmt.Fprintf(&b, "%s[%s]%s %s%s%s", colorTime, timeStr, colorReset, moduleColor, r.Message, colorReset)
	} else {
		fmt.Fprintf(&b, "%s[%s]%s %s[%s]%s %s", colorTime, timeStr, colorReset, levelColor, r.Level.String(), colorReset, r.Message)
	}

	if r.NumAttrs() > 0 {
		b.WriteString(" {")
		r.Attrs(func(a slog.Attr) bool {
			fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
			return true
		})
		b.WriteString(" }")
	}
	b.WriteByte('\n')

	_, err := io.WriteString(h.writer, b.String())
	return err
}

func (h *consoleHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *consoleHandler) WithGroup(string) slog.Handler { return h }
