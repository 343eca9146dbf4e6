package workflow

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/okian/fluentops/internal/domain/model"
)

// Store is the persistence the executor and guard write through.
type Store interface {
	Transition(ctx context.Context, id string, from, to model.Status) error
	AppendEvent(ctx context.Context, id string, kind model.EventKind, payload json.RawMessage) (model.Event, error)
	Complete(ctx context.Context, id string, result model.FinalPayload) (model.Event, error)
	Fail(ctx context.Context, id string, payload model.ErrorPayload) (ev model.Event, applied bool, err error)
}

// CreditSpender deducts the credit for a successful run.
type CreditSpender interface {
	DeductCredit(ctx context.Context, userID, reason, refID string) error
}

// MarkFailed writes the generic Error event and the Failed status for id in one
// atomic store step. A Queued assessment is first moved to Running so the state
// machine is never skipped. applied is false when the assessment was already
// terminal, which is not an error.
func MarkFailed(ctx context.Context, store Store, id string) (applied bool, err error) {
	payload := model.ErrorPayload{Message: model.GenericFailureMessage}
	for range 2 {
		_, applied, err = store.Fail(ctx, id, payload)
		if !errors.Is(err, model.ErrStatusConflict) {
			return applied, err
		}
		// Still Queued. Losing this transition to the run itself is fine.
		err = store.Transition(ctx, id, model.StatusQueued, model.StatusRunning)
		switch {
		case errors.Is(err, model.ErrTerminal):
			return false, nil
		case err != nil && !errors.Is(err, model.ErrStatusConflict):
			return false, err
		}
	}
	return applied, err
}
