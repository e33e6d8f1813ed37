// Package acqlog provides the package-level diagnostic logger shared by the
// acquisition core. It defaults to log.Printf but may be replaced so tests
// can capture or silence output.
package acqlog

import "log"

// Logf is the package-level diagnostic logger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
