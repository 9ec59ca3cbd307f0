package core

import "errors"

// Failure causes surfaced by the runner. Callers test with errors.Is; causes
// are wrapped with context at the point of failure.
var (
	// ErrCommandFailed marks a subprocess that exited non-zero.
	ErrCommandFailed = errors.New("command failed")

	// ErrTimeout marks a step that exceeded its own timeout and was killed.
	ErrTimeout = errors.New("timed out")

	// ErrAborted marks work cancelled from outside: the global timeout, an
	// external cancellation, or a fail-fast sibling.
	ErrAborted = errors.New("aborted")
)
