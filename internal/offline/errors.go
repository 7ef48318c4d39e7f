package offline

import "errors"

var (
	// ErrInstallFailed means a generation could not be fully populated; the
	// previously active generation stays authoritative.
	ErrInstallFailed = errors.New("offline: install failed")

	// ErrUnavailable means the key is not cached and the network fetch failed.
	ErrUnavailable = errors.New("offline: resource unavailable")

	// ErrNoGeneration means no generation has been installed or activated.
	ErrNoGeneration = errors.New("offline: no generation")

	// ErrInvalidTransition is returned for an event the current state does not accept.
	ErrInvalidTransition = errors.New("offline: invalid transition")

	errMiss = errors.New("offline: cache miss")
)
