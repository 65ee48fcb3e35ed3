// Package logging provides the structured logger shared by the engine
// packages. Output goes to stderr or to a size-rotated log file.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/natefinch/lumberjack"
)

// Options selects the handler and sink for a Logger.
type Options struct {
	// Level is one of debug, info, warn, error
	Level string

	// Format is "text" or "json"
	Format string

	// File, when set, receives the logs through a rotating writer
	File string

	// MaxSizeMB is the size at which the log file is rotated
	MaxSizeMB int

	// MaxAgeDays is how long rotated files are kept
	MaxAgeDays int
}

// Logger wraps slog.Logger with engine-specific helpers.
type Logger struct {
	*slog.Logger
	closer io.Closer
}

// New builds a Logger from opts.
func New(opts Options) *Logger {
	var w io.Writer = os.Stderr
	var closer io.Closer
	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename: opts.File,
			MaxSize:  opts.MaxSizeMB,
			MaxAge:   opts.MaxAgeDays,
		}
		w = lj
		closer = lj
	}
	return &Logger{Logger: slog.New(newHandler(w, opts)), closer: closer}
}

// NewWithWriter builds a Logger writing to w, mostly for tests.
func NewWithWriter(w io.Writer, opts Options) *Logger {
	return &Logger{Logger: slog.New(newHandler(w, opts))}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000),
	}))}
}

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// With returns a Logger carrying the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), closer: l.closer}
}

// WithVolume tags log lines with a volume name.
func (l *Logger) WithVolume(name string) *Logger {
	return l.With("volume", name)
}

// WithComponent tags log lines with the emitting component.
func (l *Logger) WithComponent(name string) *Logger {
	return l.With("component", name)
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Bytes renders a byte count for log attributes.
func Bytes(n int) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func newHandler(w io.Writer, opts Options) slog.Handler {
	ho := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	if strings.EqualFold(opts.Format, "json") {
		return slog.NewJSONHandler(w, ho)
	}
	return slog.NewTextHandler(w, ho)
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
