package logging

import (
	"log/slog"
	"os"
)

// Init installs the process-wide slog logger. The level argument wins;
// when it is empty the LOG_LEVEL environment variable is consulted.
func Init(level string) {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}

	lvl := slog.LevelInfo
	switch level {
	case "dev", "development", "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error", "production", "prod":
		lvl = slog.LevelError
	}

	logger := slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: lvl,
		}),
	)
	slog.SetDefault(logger)
}
