// Package repository holds the persistence layer: assessments, their append-only
// event logs, and the credit ledger.
package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/okian/fluentops/internal/domain/model"
	"github.com/okian/fluentops/pkg/metrics"
)

// DefaultQueryLimit caps QueryEventsAfter when callers pass a non-positive limit.
const DefaultQueryLimit = 50

// AssessmentStore persists assessments and guards their status transitions.
type AssessmentStore interface {
	// CreateAssessment stores a new Queued assessment.
	CreateAssessment(ctx context.Context, a *model.Assessment) error

	// FindAssessment returns the assessment when it exists and belongs to ownerID.
	FindAssessment(ctx context.Context, ownerID, id string) (*model.Assessment, error)

	// ListAssessments returns ownerID's assessments newest first.
	ListAssessments(ctx context.Context, ownerID string, page model.Page) ([]model.Assessment, error)

	// UnfinishedAssessments returns the ids of Queued and Running assessments, oldest first.
	UnfinishedAssessments(ctx context.Context) ([]string, error)

	// Transition moves id from one status to another if and only if its current status is from.
	Transition(ctx context.Context, id string, from, to model.Status) error

	// Complete atomically appends the Final event and marks the assessment Succeeded with
	// its rubric and feedback. Returns ErrTerminal when the assessment already finished.
	Complete(ctx context.Context, id string, result model.FinalPayload) (model.Event, error)

	// Fail atomically appends an Error event and marks a Running assessment Failed.
	// applied is false, with a nil error, when the assessment was already terminal.
	Fail(ctx context.Context, id string, payload model.ErrorPayload) (ev model.Event, applied bool, err error)
}

// EventLog is the append-only, per-assessment ordered event record.
type EventLog interface {
	// AppendEvent appends a non-terminal event and returns it with its assigned seq.
	// Seqs start at 0 and increase by one per append under the store's own counter.
	AppendEvent(ctx context.Context, id string, kind model.EventKind, payload json.RawMessage) (model.Event, error)

	// QueryEventsAfter returns at most limit events with seq > cursor, ascending.
	QueryEventsAfter(ctx context.Context, id string, cursor int64, limit int) ([]model.Event, error)
}

// Ledger is the credit balance and its idempotent entry log.
type Ledger interface {
	// Balance returns the user's credits; unknown users have zero.
	Balance(ctx context.Context, userID string) (int64, error)

	// Debit spends one credit once per (userID, reason, refID). applied is false when
	// the entry already existed. Returns ErrInsufficientCredits when the balance is not positive.
	Debit(ctx context.Context, userID, reason, refID string) (applied bool, err error)

	// Grant adds amount credits once per (userID, reason, refID).
	Grant(ctx context.Context, userID string, amount int64, reason, refID string) (applied bool, err error)
}

// Notifier signals that an assessment's event log changed.
type Notifier interface {
	// Subscribe returns a channel that receives a value after each committed append for id.
	// The returned func releases the subscription.
	Subscribe(id string) (<-chan struct{}, func())
}

// Store is everything the service needs from persistence.
type Store interface {
	AssessmentStore
	EventLog
	Ledger
	Notifier

	Close() error
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > DefaultQueryLimit {
		return DefaultQueryLimit
	}
	return limit
}

// observe starts timing op; the returned func records latency and failure.
func observe(op string) func(*error) {
	start := time.Now()
	return func(errp *error) {
		metrics.RecordStoreLatency(op, float64(time.Since(start).Milliseconds()))
		if errp != nil && *errp != nil {
			metrics.RecordStoreError(op)
		}
	}
}

func recordAppend(kind model.EventKind) {
	metrics.RecordEventAppended(string(kind))
}
