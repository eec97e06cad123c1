package observability

import (
	"log/slog"

	"github.com/tphakala/camhal/internal/logging"
)

func serviceLogger() *slog.Logger {
	logger := logging.ForService("telemetry")
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", "endpoint")
}
