package wallet

import (
	"github.com/decred/projwallet/build"
	"github.com/decred/slog"
)

// log is the package-level logger used throughout the wallet package. It
// starts out disabled and is wired up by UseLogger once the daemon has a
// root logger available.
var log = build.NewSubLogger("WALT", nil)

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger slog.Logger) {
	log = logger
}
