package workflow

import "errors"

// Sentinel kinds for run failures. None of them ever reaches a client; every
// failure is reported as the generic Error event.
var (
	// ErrStageParse is a capability reply that does not have the stage's shape.
	ErrStageParse = errors.New("stage reply could not be parsed")
	// ErrCapability is a failed call into the text-generation backend.
	ErrCapability = errors.New("capability call failed")
	// ErrTimeout is the cancellation cause when a run exceeds its deadline.
	ErrTimeout = errors.New("run deadline exceeded")
	// ErrCancelled is a run stopped by its context before finishing.
	ErrCancelled = errors.New("run cancelled")
	// ErrPanic is a run that panicked.
	ErrPanic = errors.New("run panicked")
	// ErrAbandoned is a run whose assessment became terminal underneath it.
	ErrAbandoned = errors.New("assessment already terminal")
)
