// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"strings"
	"time"

	service "github.com/okian/fluentops/internal/app"
	"github.com/okian/fluentops/internal/domain/model"
	"github.com/okian/fluentops/pkg/logger"
)

// UserHeader carries the already-authenticated caller id.
const UserHeader = "X-User-ID"

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	CreateAssessment(ctx context.Context, ownerID string, req service.SubmitRequest) (service.Submission, error)
	GetAssessment(ctx context.Context, ownerID, id string) (*model.Assessment, error)
	ListAssessments(ctx context.Context, ownerID string, page, limit int) ([]model.Assessment, error)
	StreamAssessment(ctx context.Context, ownerID, id string, since int64) (iter.Seq[model.Event], error)
	Balance(ctx context.Context, userID string) (int64, error)
	GetStats(ctx context.Context) service.Stats
	Started() bool
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	assessmentsHandler *AssessmentsHandler
	streamHandler      *StreamHandler
	creditsHandler     *CreditsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	log := logger.Named("api")
	return &Server{
		healthHandler:      NewHealthHandler(deps.Started),
		statsHandler:       NewStatsHandler(deps),
		assessmentsHandler: NewAssessmentsHandler(deps, log),
		streamHandler:      NewStreamHandler(deps, log),
		creditsHandler:     NewCreditsHandler(deps, log),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /v1/assessments", MetricsMiddleware(s.assessmentsHandler.HandleCreate, "create_assessment"))
	mux.HandleFunc("GET /v1/assessments", MetricsMiddleware(s.assessmentsHandler.HandleList, "list_assessments"))
	mux.HandleFunc("GET /v1/assessments/{id}", MetricsMiddleware(s.assessmentsHandler.HandleGet, "get_assessment"))
	mux.HandleFunc("GET /v1/assessments/{id}/stream", MetricsMiddleware(s.streamHandler.HandleStream, "stream_assessment"))
	mux.HandleFunc("GET /v1/credits", MetricsMiddleware(s.creditsHandler.HandleBalance, "credits"))
}

// submitRequest mirrors the OpenAPI schema for POST /v1/assessments.
type submitRequest struct {
	InputKind    string   `json:"inputKind"`
	Text         string   `json:"text,omitempty"`
	RecordingRef string   `json:"recordingRef,omitempty"`
	Goals        []string `json:"goals,omitempty"`
}

// AssessmentView is the wire shape of an assessment.
type AssessmentView struct {
	ID           string       `json:"id"`
	InputKind    string       `json:"inputKind"`
	Text         string       `json:"text,omitempty"`
	RecordingRef string       `json:"recordingRef,omitempty"`
	Goals        []string     `json:"goals"`
	Status       model.Status `json:"status"`
	Rubric       model.Rubric `json:"rubric,omitempty"`
	FeedbackText string       `json:"feedbackText,omitempty"`
	TraceID      string       `json:"traceId"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

func newAssessmentView(a *model.Assessment) AssessmentView {
	goals := a.Goals
	if goals == nil {
		goals = []string{}
	}
	return AssessmentView{
		ID:           a.ID,
		InputKind:    strings.ToLower(string(a.InputKind)),
		Text:         a.InputText,
		RecordingRef: a.RecordingRef,
		Goals:        goals,
		Status:       a.Status,
		Rubric:       a.Rubric,
		FeedbackText: a.FeedbackText,
		TraceID:      a.TraceID,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil && status < http.StatusInternalServerError {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError maps service sentinels onto HTTP statuses. Anything
// unrecognised is a 500 whose detail stays in the log.
func writeServiceError(ctx context.Context, w http.ResponseWriter, log logger.Logger, op string, err error) {
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated", err)
	case errors.Is(err, service.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, "insufficient_credits", service.ErrInsufficientCredits)
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", service.ErrNotFound)
	case errors.Is(err, service.ErrBackpressure):
		writeError(w, http.StatusTooManyRequests, "backpressure", service.ErrBackpressure)
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", nil)
	default:
		log.Error(ctx, "request failed", logger.String("op", op), logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", nil)
	}
}

// userID returns the caller identity set by the upstream authenticator.
func userID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(UserHeader))
	if id == "" {
		return "", ErrUnauthenticated
	}
	return id, nil
}
