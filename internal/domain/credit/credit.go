// Package credit guards paid work: an advisory balance check before a run is
// accepted and an at-most-once spend after it succeeds.
package credit

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/fluentops/internal/domain/dedupe"
	"github.com/okian/fluentops/pkg/logger"
	"github.com/okian/fluentops/pkg/metrics"
)

// ReasonAssessment is the ledger reason for a completed assessment.
const ReasonAssessment = "ai_assess"

// Deduction outcomes reported to metrics.
const (
	resultApplied      = "applied"
	resultDuplicate    = "duplicate"
	resultInsufficient = "insufficient"
	resultError        = "error"
)

// Ledger is the external credit bookkeeping the gate spends against.
type Ledger interface {
	Balance(ctx context.Context, userID string) (int64, error)
	// Debit spends one credit once per (userID, reason, refID) and only while the
	// balance is positive.
	Debit(ctx context.Context, userID, reason, refID string) (applied bool, err error)
}

// Gate checks and spends credits.
type Gate struct {
	ledger Ledger
	seen   dedupe.Deduper
	log    logger.Logger
}

// NewGate creates a gate over ledger.
func NewGate(ledger Ledger, opts ...Option) *Gate {
	g := &Gate{
		ledger: ledger,
		seen:   dedupe.NewInMemoryDeduper(),
		log:    logger.Named("credit"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// HasCredits reports whether userID currently has a positive balance. The
// answer is advisory; DeductCredit makes the binding decision.
func (g *Gate) HasCredits(ctx context.Context, userID string) (bool, error) {
	bal, err := g.ledger.Balance(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("credit balance for %s: %w", userID, err)
	}
	return bal > 0, nil
}

// DeductCredit spends one credit for (userID, reason, refID). Repeated calls
// with the same triple are no-ops.
func (g *Gate) DeductCredit(ctx context.Context, userID, reason, refID string) error {
	key := userID + "\x00" + reason + "\x00" + refID
	if g.seen.SeenAndRecord(ctx, key) {
		metrics.RecordCreditDeduction(resultDuplicate)
		return nil
	}

	applied, err := g.ledger.Debit(ctx, userID, reason, refID)
	if err != nil {
		g.seen.Unrecord(ctx, key)
		if errors.Is(err, ErrInsufficientCredits) {
			metrics.RecordCreditDeduction(resultInsufficient)
			return fmt.Errorf("deduct credit for %s: %w", refID, ErrInsufficientCredits)
		}
		metrics.RecordCreditDeduction(resultError)
		return fmt.Errorf("deduct credit for %s: %w", refID, err)
	}

	if !applied {
		metrics.RecordCreditDeduction(resultDuplicate)
		g.log.Debug(ctx, "credit already deducted",
			logger.String("user_id", userID), logger.String("ref_id", refID))
		return nil
	}
	metrics.RecordCreditDeduction(resultApplied)
	return nil
}
