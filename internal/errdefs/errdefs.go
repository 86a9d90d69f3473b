// Package errdefs defines the error classes reported by memhog. Errors
// returned by the other packages wrap exactly one of these sentinels, so
// callers can classify them with errors.Is.
package errdefs

import "errors"

var (
	// ErrConfiguration marks invalid user input: no active mode, a file
	// size without a path (or vice versa), a malformed core list.
	ErrConfiguration = errors.New("configuration error")

	// ErrResource marks a failure to obtain an OS resource: memory,
	// a file mapping, the OOM-adjust interface, a worker process.
	ErrResource = errors.New("resource error")

	// ErrInvariant marks a condition upstream validation should have
	// made impossible.
	ErrInvariant = errors.New("invariant violation")
)
