package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	service "github.com/okian/fluentops/internal/app"
	"github.com/okian/fluentops/internal/domain/model"
	"github.com/okian/fluentops/pkg/logger"
)

// maxSubmitBody bounds a submission body.
const maxSubmitBody = 1 << 20

// AssessmentDependencies defines the interface for assessment operations.
type AssessmentDependencies interface {
	CreateAssessment(ctx context.Context, ownerID string, req service.SubmitRequest) (service.Submission, error)
	GetAssessment(ctx context.Context, ownerID, id string) (*model.Assessment, error)
	ListAssessments(ctx context.Context, ownerID string, page, limit int) ([]model.Assessment, error)
}

// AssessmentsHandler handles submission and lookup requests.
type AssessmentsHandler struct {
	deps   AssessmentDependencies
	logger logger.Logger
}

// NewAssessmentsHandler creates a new assessments handler.
func NewAssessmentsHandler(deps AssessmentDependencies, log logger.Logger) *AssessmentsHandler {
	return &AssessmentsHandler{deps: deps, logger: log}
}

// HandleCreate handles POST /v1/assessments requests.
func (h *AssessmentsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_assessment"
	user, err := userID(r)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, op, err)
		return
	}
	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody))
	if err := dec.Decode(&req); err != nil {
		writeServiceError(r.Context(), w, h.logger, op, wrapKind(op, ErrBadRequest, err))
		return
	}
	sub, err := h.deps.CreateAssessment(r.Context(), user, service.SubmitRequest{
		InputKind:    req.InputKind,
		Text:         req.Text,
		RecordingRef: req.RecordingRef,
		Goals:        req.Goals,
	})
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, op, err)
		return
	}
	w.Header().Set("Location", "/v1/assessments/"+sub.AssessmentID)
	writeJSON(w, http.StatusAccepted, sub)
}

// HandleGet handles GET /v1/assessments/{id} requests.
func (h *AssessmentsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_assessment"
	user, err := userID(r)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, op, err)
		return
	}
	a, err := h.deps.GetAssessment(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, newAssessmentView(a))
}

// HandleList handles GET /v1/assessments?page=P&limit=N requests.
func (h *AssessmentsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_assessments"
	user, err := userID(r)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, op, err)
		return
	}
	page, err := intParam(r, "page")
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, op, wrapKind(op, ErrBadRequest, err))
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, op, wrapKind(op, ErrBadRequest, err))
		return
	}
	list, err := h.deps.ListAssessments(r.Context(), user, page, limit)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, op, err)
		return
	}
	views := make([]AssessmentView, 0, len(list))
	for i := range list {
		views = append(views, newAssessmentView(&list[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// intParam reads an optional non-negative integer query parameter; absent is zero.
func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &paramError{name: name, value: v}
	}
	return n, nil
}

type paramError struct{ name, value string }

func (e *paramError) Error() string { return "invalid " + e.name + " " + strconv.Quote(e.value) }
