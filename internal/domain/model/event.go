package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventKind classifies an entry in an assessment's event log.
type EventKind string

// Event kinds. Final and Error are terminal.
const (
	EventProgress EventKind = "PROGRESS"
	EventToken    EventKind = "TOKEN"
	EventFinal    EventKind = "FINAL"
	EventError    EventKind = "ERROR"
)

// IsTerminal reports whether no event may follow one of this kind.
func (k EventKind) IsTerminal() bool {
	return k == EventFinal || k == EventError
}

// Valid reports whether k is a known kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventProgress, EventToken, EventFinal, EventError:
		return true
	}
	return false
}

// ParseEventKind parses an event kind case-insensitively.
func ParseEventKind(v string) (EventKind, error) {
	k := EventKind(strings.ToUpper(strings.TrimSpace(v)))
	if !k.Valid() {
		return "", fmt.Errorf("%q: %w", v, ErrUnknownEventKind)
	}
	return k, nil
}

// NoSeq is the cursor value that precedes the first event of any assessment.
const NoSeq int64 = -1

// Event is one immutable, ordered entry of an assessment's event log.
type Event struct {
	AssessmentID string
	Seq          int64
	Kind         EventKind
	Payload      json.RawMessage
	CreatedAt    time.Time
}

// ProgressPayload is carried by Progress events.
type ProgressPayload struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
}

// FinalPayload is carried by the Final event.
type FinalPayload struct {
	Rubric       Rubric   `json:"rubric"`
	Issues       []string `json:"issues"`
	Rewrites     []string `json:"rewrites"`
	Drills       []string `json:"drills"`
	FeedbackText string   `json:"feedbackText"`
}

// ErrorPayload is carried by the Error event. Message is always generic.
type ErrorPayload struct {
	Message string `json:"message"`
}

// GenericFailureMessage is the only text ever exposed for a failed run.
const GenericFailureMessage = "assessment could not be completed"

// MustPayload marshals v, panicking on failure. Only used with the payload types above.
func MustPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal event payload: %v", err))
	}
	return b
}
