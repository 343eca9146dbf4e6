package capability

import "errors"

// Sentinel kinds for capability errors.
var (
	// ErrUnknownStage is returned by Mock for a stage it has no reply for.
	ErrUnknownStage = errors.New("no canned reply for stage")
	// ErrEmptyReply is returned by live backends that answer without content.
	ErrEmptyReply = errors.New("backend returned an empty reply")
)
