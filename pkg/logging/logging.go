// Package logging builds the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"

	charmlog "github.com/charmbracelet/log"
)

// New returns a slog logger writing leveled, timestamped lines to w.
// Timestamps are formatted as "HH:MM:SS.ms". An unknown level falls back to info.
func New(w io.Writer, level string) *slog.Logger {
	lvl, err := charmlog.ParseLevel(level)
	if err != nil {
		lvl = charmlog.InfoLevel
	}
	handler := charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           lvl,
	})
	return slog.New(handler)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(charmlog.NewWithOptions(io.Discard, charmlog.Options{Level: charmlog.FatalLevel}))
}
