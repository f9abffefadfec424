package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// parseLevel maps a configured level string to a slog.Level, defaulting to
// info for anything unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger installs the process-wide slog logger from the logging config.
// format "json" selects the JSON handler for production scraping; anything
// else falls back to the text handler for local work. Debug level also turns
// on source locations, which is too noisy for normal operation.
//
// Call this once at startup before anything logs: request logging, the audit
// recorder's failure paths, and the shippers all write through slog.Default,
// so the logger installed here is the one every log line goes through.
func SetupLogger(format, level string) {
	lvl := parseLevel(level)

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialised", "format", format, "level", lvl.String())
}
