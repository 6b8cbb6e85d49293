package core

import (
	"errors"
	"fmt"
)

// Error kinds. Every error leaving the core wraps exactly one of these.
var (
	// ErrValidation indicates a missing or empty required field. Never retried.
	ErrValidation = errors.New("validation failed")
	// ErrAuth indicates a missing, invalid or expired credential.
	ErrAuth = errors.New("authentication failed")
	// ErrNoSession indicates no credential is cached or stored yet.
	ErrNoSession = fmt.Errorf("%w: no session, authenticate first", ErrAuth)
	// ErrNotFound indicates an unknown job or model token.
	ErrNotFound = errors.New("not found")
	// ErrSubmission indicates the provider rejected a request at the application level.
	ErrSubmission = errors.New("provider rejected request")
	// ErrTransient indicates a network failure or a 5xx/429 from the provider.
	ErrTransient = errors.New("transient provider error")
	// ErrTimeout indicates polling ran out of attempts before a terminal status.
	ErrTimeout = errors.New("timed out waiting for terminal status")
	// ErrProviderUnavailable indicates transient failures persisted past the retry budget.
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// Kind returns the error kind err wraps, or nil if it wraps none.
// ErrNoSession is reported as ErrAuth. ErrTimeout and ErrProviderUnavailable
// wrap the last underlying error and take precedence over its kind.
func Kind(err error) error {
	kinds := []error{
		ErrTimeout,
		ErrProviderUnavailable,
		ErrValidation,
		ErrAuth,
		ErrNotFound,
		ErrSubmission,
		ErrTransient,
	}

	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}

	return nil
}
