// Package logging installs the process-wide slog handler.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Init configures the slog default with the given level and format. The
// writer defaults to os.Stderr, since stdout carries the MCP stream in
// serve mode. Format is "text" or "json".
func Init(level slog.Level, format string, w ...io.Writer) {
	var writer io.Writer = os.Stderr
	if len(w) > 0 && w[0] != nil {
		writer = w[0]
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(writer, opts)
	} else {
		h = slog.NewTextHandler(writer, opts)
	}
	slog.SetDefault(slog.New(h))
}

// New returns a logger tagged with a component attribute.
func New(component string) *slog.Logger {
	return slog.Default().With(slog.String("component", component))
}
