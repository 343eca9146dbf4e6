package repository

import (
	"errors"

	"github.com/okian/fluentops/internal/domain/model"
)

// Sentinel kinds for store errors.
var (
	// ErrNotFound is returned for unknown assessments and for assessments owned by someone else.
	ErrNotFound = model.ErrNotFound
	// ErrTerminal is returned when a write targets an assessment that already reached a terminal status.
	ErrTerminal = model.ErrTerminal
	// ErrStatusConflict is returned when a conditional status change finds an unexpected current status.
	ErrStatusConflict = model.ErrStatusConflict
	// ErrTerminalKind is returned when AppendEvent is asked to write a Final or Error event.
	ErrTerminalKind = errors.New("terminal events are written by Complete or Fail")
	// ErrDuplicate is returned when creating an assessment whose id already exists.
	ErrDuplicate = errors.New("assessment already exists")
	// ErrInsufficientCredits is returned by Debit when the balance is not positive.
	ErrInsufficientCredits = model.ErrInsufficientCredits
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("store closed")
)
