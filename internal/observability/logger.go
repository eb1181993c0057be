package observability

import (
	"io"
	"log/slog"
	"os"
)

// NewConsoleLogger writes text logs to stderr, keeping stdout free for
// command output. The service itself logs through the shared NewLogger,
// which always writes to stdout.
func NewConsoleLogger(level string) *slog.Logger {
	return newConsoleLogger(os.Stderr, level)
}

func newConsoleLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
