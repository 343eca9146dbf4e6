package model

import "errors"

// Sentinel kinds for model errors.
var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnknownStatus     = errors.New("unknown status")
	ErrUnknownEventKind  = errors.New("unknown event kind")

	// ErrNotFound reports an unknown assessment, or one owned by someone else.
	ErrNotFound = errors.New("assessment not found")
	// ErrTerminal reports a write to an assessment that already reached a terminal status.
	ErrTerminal = errors.New("assessment is terminal")
	// ErrStatusConflict reports a conditional status change that found an unexpected current status.
	ErrStatusConflict = errors.New("assessment status conflict")
	// ErrInsufficientCredits reports a non-positive balance at check or spend time.
	ErrInsufficientCredits = errors.New("insufficient credits")
)
