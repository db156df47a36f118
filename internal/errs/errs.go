// Package errs defines the error taxonomy shared by the storage client
// and the exploration session machinery. Callers classify failures with
// errors.Is against the sentinels; the constructors attach path/ref
// context via wrapping.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the path does not resolve at the requested revision.
	ErrNotFound = errors.New("not found")

	// ErrNotAFile means a directory was found where a file was required.
	ErrNotAFile = errors.New("not a file")

	// ErrUnsupportedEncoding means the provider returned file content in an
	// encoding other than base64.
	ErrUnsupportedEncoding = errors.New("unsupported encoding")

	// ErrInvalidOptions means a search configuration failed validation.
	ErrInvalidOptions = errors.New("invalid options")

	// ErrProviderUnavailable means the remote API could not be reached or
	// answered with a transient failure (timeout, 5xx, rate limit). Distinct
	// from ErrNotFound: absence and unreachability must never be conflated.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrSessionClosed means a mutation was attempted after Finish.
	ErrSessionClosed = errors.New("session closed")

	// ErrInvalidTransition means an operation was invoked in a session state
	// that does not permit it.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrLockContention means another mutation holds the session's heartbeat
	// lock and it is not yet stale.
	ErrLockContention = errors.New("lock contention")
)

// NotFound reports an absent path at a revision.
func NotFound(path, ref string) error {
	if ref == "" {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return fmt.Errorf("%w: %s (ref %s)", ErrNotFound, path, ref)
}

// NotAFile reports a path that resolved to something other than a file.
func NotAFile(path, gotType string) error {
	return fmt.Errorf("%w: %s resolved to %s", ErrNotAFile, path, gotType)
}

// UnsupportedEncoding reports content the client refuses to decode.
func UnsupportedEncoding(path, encoding string) error {
	return fmt.Errorf("%w: %s returned with encoding %q, only base64 is supported", ErrUnsupportedEncoding, path, encoding)
}

// InvalidOptions reports a malformed search configuration.
func InvalidOptions(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidOptions, reason)
}

// ProviderUnavailable reports an unreachable or transiently failing provider.
func ProviderUnavailable(op string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, op, cause)
}

// InvalidTransition reports an operation called in the wrong session state.
func InvalidTransition(op, state string) error {
	return fmt.Errorf("%w: %s not permitted in state %s", ErrInvalidTransition, op, state)
}

// LockContention reports an actively held, non-stale session lock.
func LockContention(sessionID string) error {
	return fmt.Errorf("%w: session %s is locked by an active run", ErrLockContention, sessionID)
}
