// +build filelog

package build

import "os"

var logf *os.File

// LoggingType is LogTypeStdOut here as well; there is no separate file log
// type, and under this build tag LogWriter writes to projwallet.log.
const LoggingType = LogTypeStdOut

// Write writes the given bytes to projwallet.log.
func (w *LogWriter) Write(b []byte) (int, error) {
	return logf.Write(b)
}

func init() {
	var err error
	logf, err = os.Create("projwallet.log")
	if err != nil {
		panic(err)
	}
}
