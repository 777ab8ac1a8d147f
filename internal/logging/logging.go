// Package logging installs the process-wide structured logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// EnvLevel names the environment variable that overrides the configured
// level, useful when the CLI flags are out of reach (scripts, CI).
const EnvLevel = "VMFLEET_LOG"

// Configure installs a slog default logger writing to w at the given level.
// An empty level means info; VMFLEET_LOG wins over the argument.
//
// Supported levels: debug, info, warn, error.
func Configure(w io.Writer, level string) error {
	if env := os.Getenv(EnvLevel); env != "" {
		level = env
	}
	parsed, err := ParseLevel(level)
	if err != nil {
		return err
	}

	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: parsed})
	slog.SetDefault(slog.New(h))
	return nil
}

// ParseLevel maps a level name to its slog value.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", level)
	}
}
