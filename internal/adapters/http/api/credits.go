package api

import (
	"context"
	"net/http"

	"github.com/okian/fluentops/pkg/logger"
)

// CreditsDependencies defines the interface for credit lookups.
type CreditsDependencies interface {
	Balance(ctx context.Context, userID string) (int64, error)
}

// CreditsHandler handles credit balance requests.
type CreditsHandler struct {
	deps   CreditsDependencies
	logger logger.Logger
}

// NewCreditsHandler creates a new credits handler.
func NewCreditsHandler(deps CreditsDependencies, log logger.Logger) *CreditsHandler {
	return &CreditsHandler{deps: deps, logger: log}
}

type balanceResponse struct {
	UserID  string `json:"userId"`
	Credits int64  `json:"credits"`
}

// HandleBalance handles GET /v1/credits requests.
func (h *CreditsHandler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	const op = "api.credits"
	user, err := userID(r)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, op, err)
		return
	}
	credits, err := h.deps.Balance(r.Context(), user)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{UserID: user, Credits: credits})
}
