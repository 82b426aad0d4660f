// Package logging wires the service's operational logger: structured
// output via log/slog, rotated through gopkg.in/natefinch/lumberjack.v2.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the rotating log sink. A zero value logs to stderr
// without rotation, which is what tests and short-lived CLI commands use.
type Options struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds a slog.Logger. When opts.Path is empty it writes to stderr.
func New(opts Options) *slog.Logger {
	var w io.Writer = os.Stderr
	if opts.Path != "" {
		maxSize := opts.MaxSizeMB
		if maxSize == 0 {
			maxSize = 10
		}
		maxBackups := opts.MaxBackups
		if maxBackups == 0 {
			maxBackups = 5
		}
		w = &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// WithRequest returns a logger annotated with the request-scoped fields
// every handler call carries: tenant id and request id.
func WithRequest(base *slog.Logger, tenantID, requestID string) *slog.Logger {
	return base.With(slog.Group("request",
		slog.String("tenant_id", tenantID),
		slog.String("request_id", requestID),
	))
}
