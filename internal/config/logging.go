package config

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger builds the process logger from LogConfig. Console output goes
// to stdout in the configured format; when File is set, records also fan out
// as JSON to that file. The returned cleanup closes the file.
func SetupLogger(cfg LogConfig) (*slog.Logger, func() error) {
	level := ParseLogLevel(cfg.Level)
	console := newHandler(os.Stdout, cfg.Format, level)

	if cfg.File == "" {
		return slog.New(console), func() error { return nil }
	}

	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		// Fall back to console-only if the file cannot be opened
		slog.Error("failed to open log file, using stdout only", "error", err, "file", cfg.File)
		return slog.New(console), func() error { return nil }
	}

	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	logger := slog.New(slogmulti.Fanout(console, fileHandler))

	return logger, file.Close
}

// SetupLoggerWithWriters creates a fanout logger with custom writers (for testing).
func SetupLoggerWithWriters(console, file io.Writer, format string, level slog.Level) *slog.Logger {
	return slog.New(slogmulti.Fanout(
		newHandler(console, format, level),
		slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}),
	))
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// ParseLogLevel maps a level name to slog.Level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
