// Package build assembles the logging backend shared by every package in
// this module: a default stdout/rotating-file backend (this file) and a
// build-tag selected file-only backend (log_filelog.go).
package build

import (
	"sort"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// LogType is the type of logging backend a program is using.
type LogType uint8

const (
	// LogTypeNone indicates no logging is active.
	LogTypeNone LogType = iota

	// LogTypeStdOut indicates logging to stdout is active.
	LogTypeStdOut

	// LogTypeDefault is the default logging type.
	LogTypeDefault = LogTypeStdOut
)

// LogWriter is the default io.Writer used when no sub-logger backend has
// been set up yet. The filelog build tag swaps its Write method out for one
// that writes to a file instead of stdout.
type LogWriter struct{}

// RotatingLogWriter is an io.Writer that backs the subsystem loggers and
// holds the loggers generated for each subsystem. It also
// owns the rotating log file that all subsystem loggers write through.
type RotatingLogWriter struct {
	// GenSubLogger generates a new sublogger with the given subsystem tag,
	// backed by the rotating file.
	GenSubLogger func(tag string) slog.Logger

	backend      *slog.Backend
	rotator      *rotator.Rotator
	loggers      map[string]slog.Logger
	subsystemIds []string
}

// NewRotatingLogWriter creates a new file rotator, writing to logFile once
// it grows past maxLogFileSize megabytes, keeping maxLogFiles old copies.
func NewRotatingLogWriter(logFile string, maxLogFileSize, maxLogFiles int) (*RotatingLogWriter, error) {
	r, err := rotator.New(logFile, int64(maxLogFileSize*1024), false, maxLogFiles)
	if err != nil {
		return nil, err
	}

	root := &RotatingLogWriter{
		rotator: r,
		loggers: make(map[string]slog.Logger),
	}
	root.backend = slog.NewBackend(root)
	root.GenSubLogger = root.genSubLogger

	return root, nil
}

// Write writes the byte slice to both stdout and the rotator.
func (r *RotatingLogWriter) Write(b []byte) (int, error) {
	_, _ = (&LogWriter{}).Write(b)
	if r.rotator != nil {
		return r.rotator.Write(b)
	}
	return len(b), nil
}

// genSubLogger creates a new slog.Logger for a named subsystem, all sharing
// the rotating backend.
func (r *RotatingLogWriter) genSubLogger(tag string) slog.Logger {
	return r.backend.Logger(tag)
}

// RegisterSubLogger records a named subsystem logger so SupportedSubsystems
// and SetLogLevels can find it later.
func (r *RotatingLogWriter) RegisterSubLogger(subsystem string, logger slog.Logger) {
	r.loggers[subsystem] = logger
	r.subsystemIds = append(r.subsystemIds, subsystem)
}

// SupportedSubsystems returns a sorted slice of the logging subsystems that
// have been registered so far.
func (r *RotatingLogWriter) SupportedSubsystems() []string {
	out := make([]string, len(r.subsystemIds))
	copy(out, r.subsystemIds)
	sort.Strings(out)
	return out
}

// SetLogLevel sets the log level for the provided subsystem, no-op if the
// subsystem isn't registered.
func (r *RotatingLogWriter) SetLogLevel(subsystem, level string) {
	logger, ok := r.loggers[subsystem]
	if !ok {
		return
	}
	lvl, ok := slog.LevelFromString(level)
	if !ok {
		return
	}
	logger.SetLevel(lvl)
}

// SetLogLevels sets every registered subsystem's log level.
func (r *RotatingLogWriter) SetLogLevels(level string) {
	for subsystem := range r.loggers {
		r.SetLogLevel(subsystem, level)
	}
}

// Close flushes and closes the underlying rotator.
func (r *RotatingLogWriter) Close() error {
	if r.rotator == nil {
		return nil
	}
	return r.rotator.Close()
}

// NewSubLogger returns a new logger for a given subsystem. If genLogger is
// nil, a disabled placeholder is returned; this matches the pre-startup
// "declare the global, wire it up later" pattern used across this module's
// packages.
func NewSubLogger(subsystem string, genLogger func(string) slog.Logger) slog.Logger {
	if genLogger == nil {
		return slog.Disabled
	}
	return genLogger(subsystem)
}
