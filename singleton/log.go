package singleton

import (
	"github.com/decred/projwallet/build"
	"github.com/decred/slog"
)

var log = build.NewSubLogger("SNGL", nil)

// UseLogger sets the package-wide logger used by this package. It should
// be called before any calls into this package, typically from the
// application's main entrypoint.
func UseLogger(logger slog.Logger) {
	log = logger
}
