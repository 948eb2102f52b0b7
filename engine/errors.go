package engine

import "errors"

// Sentinel errors surfaced to File callers.
var (
	// ErrOpenFailed is returned by Open when the data or info file could
	// not be created/opened, or a pre-existing info file disagrees with
	// the caller about file size (or records a zero file size).
	ErrOpenFailed = errors.New("engine: open failed")

	// ErrReadFailed is returned by Read on a short disk read or an
	// origin-delivered error. The wrapped error, if any, carries the
	// underlying cause.
	ErrReadFailed = errors.New("engine: read failed")
)
