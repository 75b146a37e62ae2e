package logging

import (
	"io"
	"log/slog"
	"os"
)

// Init installs the default logger. Output goes to stderr so it never mixes
// with the interactive terminal UI on stdout; LOG_FILE redirects it entirely.
func Init() {
	var out io.Writer = os.Stderr
	if path := os.Getenv("LOG_FILE"); path != "" {
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			out = f
		}
	}

	logger := slog.New(
		slog.NewTextHandler(out, &slog.HandlerOptions{
			Level: levelFromEnv(),
		}),
	)
	slog.SetDefault(logger)
}

func levelFromEnv() slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	default:
		// production only shows errors
		return slog.LevelError
	}
}
