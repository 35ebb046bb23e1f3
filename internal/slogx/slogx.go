package slogx

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ChanWriter buffers writes and sends complete lines to channel.
// Batch workers log through it so one writer goroutine owns stderr.
type ChanWriter struct {
	Ch  chan<- string
	Buf []byte
}

func (w *ChanWriter) Write(p []byte) (n int, err error) {
	w.Buf = append(w.Buf, p...)
	for {
		i := bytes.IndexByte(w.Buf, '\n')
		if i < 0 {
			break
		}
		line := string(w.Buf[:i])
		w.Buf = w.Buf[i+1:]
		select {
		case w.Ch <- line:
		default:
			// channel full, drop
		}
	}
	return len(p), nil
}

// NewChanLogger creates a slog.Logger that writes to the channel in the given format.
func NewChanLogger(ch chan<- string, level, format string) *slog.Logger {
	return slog.New(NewHandler(&ChanWriter{Ch: ch}, level, format))
}

// ParseLevel converts string (debug|info|warn|error) to slog.Level. Unknown → info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewHandler returns a JSON handler for format "json", text otherwise.
func NewHandler(w io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// NewDefault creates a text logger writing to stderr with the given level string.
func NewDefault(level string) *slog.Logger {
	return New(level, "text")
}

// New creates a logger writing to stderr.
func New(level, format string) *slog.Logger {
	return slog.New(NewHandler(os.Stderr, level, format))
}
