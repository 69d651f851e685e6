// Package monitoring holds the diagnostic logger shared by the control loop
// and the command line tool.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Quiet is set while SetVerbose(false) has the logger muted.
var Quiet bool

// SetVerbose installs log.Printf when on and a no-op logger otherwise.
func SetVerbose(on bool) {
	Quiet = !on
	if on {
		SetLogger(log.Printf)
		return
	}
	SetLogger(nil)
}
