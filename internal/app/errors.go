package service

import (
	"errors"

	"github.com/okian/fluentops/internal/domain/model"
)

// Sentinel kinds for service errors.
var (
	// ErrValidation is a malformed submission; nothing was created.
	ErrValidation = errors.New("invalid submission")
	// ErrInsufficientCredits rejects a submission before any assessment exists.
	ErrInsufficientCredits = model.ErrInsufficientCredits
	// ErrNotFound is an unknown assessment or one owned by someone else.
	ErrNotFound = model.ErrNotFound
	// ErrBackpressure is a submission the job queue could not take. The created
	// assessment has already been failed.
	ErrBackpressure = errors.New("too many assessments in flight")
	// ErrNotStarted is returned by operations called before Start or after Stop.
	ErrNotStarted = errors.New("service not started")
)
