// Package monitoring holds the diagnostic logger shared by the shoepad
// libraries. Servers log through the standard logger directly; library code
// (dataset loading, training, classification) logs through Logf so callers
// and tests can redirect or mute it.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Subsystem returns a logger that prefixes every line with "[name] ", the
// convention used by the ingest, discovery and classification subsystems.
// The returned func resolves Logf at call time so SetLogger still applies.
func Subsystem(name string) func(format string, v ...interface{}) {
	prefix := "[" + name + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
