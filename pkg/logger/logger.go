// Package logger builds the JSON slog logger shared by rollout binaries.
package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON slog.Logger stamping every record with the service
// name, so rolloutd's components share one distinguishable sink.
func New(service string, level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", service)
}
