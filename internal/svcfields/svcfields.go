package svcfields

import (
	"context"
	"strings"

	"pkt.systems/pslog"
)

// SubsystemKey is the canonical key for subsystem tags.
const SubsystemKey = pslog.TrustedString("sys")

// Subsystem names used across booksden log output.
const (
	CLI       = "cli"
	Server    = "server.lifecycle"
	HTTP      = "api.http"
	Auth      = "api.http.auth"
	Storage   = "storage"
	Token     = "auth.token"
	Telemetry = "telemetry"
)

// WithSubsystem attaches a subsystem tag to every log entry. Empty fragments
// are skipped so callers can pass optional suffixes.
func WithSubsystem(logger pslog.Logger, parts ...string) pslog.Logger {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	filtered := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Trim(part, ". ")
		if part != "" {
			filtered = append(filtered, part)
		}
	}
	if len(filtered) == 0 {
		return logger
	}
	return logger.With(SubsystemKey, strings.Join(filtered, "."))
}

// FromContext returns the request-scoped logger stored in ctx, or fallback
// (or a no-op logger) when none is present.
func FromContext(ctx context.Context, fallback pslog.Logger) pslog.Logger {
	if ctx != nil {
		if logger := pslog.LoggerFromContext(ctx); logger != nil {
			return logger
		}
	}
	if fallback != nil {
		return fallback
	}
	return pslog.NoopLogger()
}
