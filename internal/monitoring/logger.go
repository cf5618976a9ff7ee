// Package monitoring holds the diagnostic logging hooks shared by the
// acquisition pipeline.
package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

var verbose atomic.Bool

// SetVerbose enables Debugf output.
func SetVerbose(on bool) { verbose.Store(on) }

// Warnf reports a recoverable condition such as a configuration value that
// was replaced by its safe default.
func Warnf(format string, v ...interface{}) {
	Logf("[warn] "+format, v...)
}

// Debugf logs per-frame detail (dropped packets, pacing) only when verbose
// output is enabled.
func Debugf(format string, v ...interface{}) {
	if verbose.Load() {
		Logf("[debug] "+format, v...)
	}
}
