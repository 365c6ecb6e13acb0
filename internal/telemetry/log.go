// Package telemetry sets up the process-wide structured logger.
package telemetry

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
)

// Setup configures slog's default logger to write to both stdout and the
// file monitordb.log under logDir (opened for append, never rotated), at the
// given level. It returns the opened log file so callers can close it on
// shutdown.
//
// One handler serves both outputs: a text handler when stdout is a
// terminal, and a JSON handler otherwise (piped to a file, a supervisor, or
// a container log collector), so redirected output is machine-parseable.
func Setup(logDir string, level slog.Level) (*os.File, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	logFile, err := os.OpenFile(filepath.Join(logDir, "monitordb.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	var out io.Writer = io.MultiWriter(os.Stdout, logFile)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if isatty.IsTerminal(os.Stdout.Fd()) {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	slog.SetDefault(slog.New(handler))
	return logFile, nil
}

// ParseLevel accepts the level names "DEBUG", "INFO", "WARN"/"WARNING" and
// "ERROR" in any letter case, defaulting to Info on any unrecognised value
// rather than failing startup over a logging cfg typo.
func ParseLevel(name string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
