// +build !filelog

package build

import "os"

// LoggingType is a log type that writes to stdout.
const LoggingType = LogTypeStdOut

// Write writes the given bytes to stdout.
func (w *LogWriter) Write(b []byte) (int, error) {
	return os.Stdout.Write(b)
}
