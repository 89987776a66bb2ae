package eventbus

import (
	"github.com/decred/projwallet/build"
	"github.com/decred/slog"
)

var log = build.NewSubLogger("EVTB", nil)

// UseLogger sets the package-wide logger used by this package.
func UseLogger(logger slog.Logger) {
	log = logger
}
