// Package logger provides the small leveled-logging surface the rest of
// dedupfs calls into, mirroring the Info/Infof/Warnf/Errorf call shape the
// teacher codebase uses throughout cmd/legacy_main.go. Routine errors
// (no-such-entry) are never logged by callers; integrity failures use
// Criticalf exactly once, immediately before the process aborts.
package logger

import (
	"fmt"
	"log/slog"
	"os"
)

var base = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// SetVerbose raises the logger to debug level, driven by -v/--verbose.
func SetVerbose(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	base = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func Debugf(format string, args ...any) { base.Debug(sprintf(format, args...)) }
func Info(msg string)                   { base.Info(msg) }
func Infof(format string, args ...any)  { base.Info(sprintf(format, args...)) }
func Warnf(format string, args ...any)  { base.Warn(sprintf(format, args...)) }
func Errorf(format string, args ...any) { base.Error(sprintf(format, args...)) }

// Criticalf logs an unrecoverable integrity failure. Callers abort the
// process immediately afterward.
func Criticalf(format string, args ...any) { base.Error("CRITICAL: " + sprintf(format, args...)) }

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
