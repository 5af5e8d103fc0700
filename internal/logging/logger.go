package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	slog.SetDefault(slog.New(newHandler(os.Getenv("ENVIRONMENT"))))
}

func newHandler(environment string) slog.Handler {
	if strings.EqualFold(environment, "production") {
		return slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
}

// WithRecord returns a logger scoped to one lead, opportunity or visit
func WithRecord(kind, recordID string) *slog.Logger {
	return slog.With(
		"kind", kind,
		"record_id", recordID,
	)
}

// WithRequest returns a logger carrying the request and caller identity.
// Use this for logging inside HTTP handlers.
func WithRequest(requestID, userID string) *slog.Logger {
	return slog.With(
		"request_id", requestID,
		"user_id", userID,
	)
}
