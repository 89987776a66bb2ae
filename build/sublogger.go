package build

import "github.com/decred/slog"

// AddSubLogger is a helper method to conveniently create and register the
// logger of one or more subsystems.
func AddSubLogger(root *RotatingLogWriter, subsystem string, useLoggers ...func(slog.Logger)) {
	logger := NewSubLogger(subsystem, root.GenSubLogger)
	SetSubLogger(root, subsystem, logger, useLoggers...)
}

// SetSubLogger is a helper method to conveniently register the logger of a
// subsystem.
func SetSubLogger(root *RotatingLogWriter, subsystem string, logger slog.Logger, useLoggers ...func(slog.Logger)) {
	root.RegisterSubLogger(subsystem, logger)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}

// LogClosure is used to provide a closure over expensive logging operations
// so they don't run when the logging level doesn't warrant it.
type LogClosure func() string

// String invokes the underlying function and returns the result.
func (c LogClosure) String() string {
	return c()
}

// NewLogClosure returns a new closure over a function that returns a string,
// satisfying fmt.Stringer so it can be passed directly to a slog.Logger call.
func NewLogClosure(c func() string) LogClosure {
	return LogClosure(c)
}
