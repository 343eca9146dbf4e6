// Package model contains domain models passed between layers.
package model

import "time"

// InputKind identifies what a submission carries.
type InputKind string

// Submission input kinds.
const (
	InputText      InputKind = "TEXT"
	InputRecording InputKind = "RECORDING"
)

// Rubric maps a scoring dimension to its 0-100 score.
type Rubric map[string]float64

// RubricDimensions are the keys every score stage must return.
var RubricDimensions = []string{"grammar", "vocab", "fluency", "clarity", "naturalness"} //nolint:gochecknoglobals // fixed rubric contract

// Assessment is one submitted-text analysis request and its lifecycle record.
// Rubric and FeedbackText are set if and only if Status is Succeeded.
type Assessment struct {
	ID           string
	OwnerID      string
	InputKind    InputKind
	InputText    string
	RecordingRef string
	Goals        []string
	Status       Status
	Rubric       Rubric
	FeedbackText string
	TraceID      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Input is the material a workflow run analyses.
type Input struct {
	Kind         InputKind
	Text         string
	RecordingRef string
	Goals        []string
}

// Input returns the submission payload of the assessment.
func (a *Assessment) Input() Input {
	return Input{
		Kind:         a.InputKind,
		Text:         a.InputText,
		RecordingRef: a.RecordingRef,
		Goals:        append([]string(nil), a.Goals...),
	}
}

// Page selects a window of a recency-ordered listing. Number is 1-based.
type Page struct {
	Number int
	Size   int
}

// Offset returns the number of rows to skip for the page.
func (p Page) Offset() int {
	if p.Number < 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// Job is the unit handed to the background worker pool.
type Job struct {
	AssessmentID string
	OwnerID      string
	TraceID      string
	Input        Input
	EnqueuedAt   time.Time
}
