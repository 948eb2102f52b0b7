// Package assertx provides a single assert helper for conditions that
// indicate a programmer error (ref-count never negative, no double-set of
// present bits, copy size never exceeds block size). These abort the
// process rather than attempt to continue from a state that should be
// impossible.
package assertx

import "fmt"

// True panics with msg if cond is false.
func True(cond bool, msg string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("assertion failed: "+msg, args...))
	}
}
