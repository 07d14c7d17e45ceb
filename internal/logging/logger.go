// Package logging builds the zerolog loggers used across predictapi: one base
// logger per process, child loggers per component and one per request.
package logging

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"predictapi/internal/config"

	"github.com/rs/zerolog"
)

// New builds the base logger from cfg.Logging and tags every entry with the
// service identity from cfg.App. The returned closer is non-nil only for file
// output.
func New(cfg *config.Config) (*zerolog.Logger, io.Closer, error) {
	output, closer, err := openOutput(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	base := zerolog.New(output).
		Level(ParseLevel(cfg.Logging.Level)).
		With().
		Timestamp().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Environment).
		Str("version", cfg.App.Version).
		Logger()

	return &base, closer, nil
}

// ParseLevel maps a config level name to a zerolog level. Unknown or empty
// names fall back to info.
func ParseLevel(name string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func openOutput(cfg config.LoggingConfig) (io.Writer, io.Closer, error) {
	var (
		out    io.Writer = os.Stdout
		closer io.Closer
	)

	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "stdout":
	case "stderr":
		out = os.Stderr
	case "file":
		if cfg.FilePath == "" {
			return nil, nil, config.ErrMissingLogFilePath
		}
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out, closer = file, file
	default:
		return nil, nil, fmt.Errorf("unknown logging.output %q", cfg.Output)
	}

	if strings.EqualFold(strings.TrimSpace(cfg.Format), "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return out, closer, nil
}

// Component returns a child of base tagged with the component name.
func Component(base *zerolog.Logger, name string) *zerolog.Logger {
	l := base.With().Str("component", name).Logger()
	return &l
}

// WithRequest attaches a request-scoped logger carrying requestID and the
// client address to r's context. Handlers retrieve it with zerolog.Ctx.
func WithRequest(base *zerolog.Logger, r *http.Request, requestID string) context.Context {
	l := base.With().
		Str("request_id", requestID).
		Str("remote_addr", r.RemoteAddr).
		Logger()
	return l.WithContext(r.Context())
}
