package api

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okian/fluentops/internal/domain/model"
	"github.com/okian/fluentops/pkg/logger"
)

// StreamDependencies defines the interface for event streaming.
type StreamDependencies interface {
	StreamAssessment(ctx context.Context, ownerID, id string, since int64) (iter.Seq[model.Event], error)
}

// StreamHandler serves an assessment's event log as server-sent events.
type StreamHandler struct {
	deps   StreamDependencies
	logger logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(deps StreamDependencies, log logger.Logger) *StreamHandler {
	return &StreamHandler{deps: deps, logger: log}
}

// HandleStream handles GET /v1/assessments/{id}/stream?since=N requests. The
// cursor falls back to Last-Event-ID and then to -1, which replays everything.
// The response ends after the terminal event.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	const op = "api.stream_assessment"
	ctx := r.Context()
	user, err := userID(r)
	if err != nil {
		writeServiceError(ctx, w, h.logger, op, err)
		return
	}
	since, err := streamCursor(r)
	if err != nil {
		writeServiceError(ctx, w, h.logger, op, wrapKind(op, ErrBadRequest, err))
		return
	}
	id := r.PathValue("id")
	events, err := h.deps.StreamAssessment(ctx, user, id, since)
	if err != nil {
		writeServiceError(ctx, w, h.logger, op, err)
		return
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Error(ctx, "stream flush unsupported", logger.Error(wrapKind(op, ErrStreaming, err)))
		return
	}

	for ev := range events {
		if err := writeFrame(w, ev); err != nil {
			h.logger.Debug(ctx, "stream client went away",
				logger.String("assessment_id", id), logger.Int64("seq", ev.Seq), logger.Error(err))
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// writeFrame writes one SSE frame: the seq as id, the lower-case kind as the
// event name, and the payload JSON as data.
func writeFrame(w http.ResponseWriter, ev model.Event) error {
	payload := ev.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n",
		ev.Seq, strings.ToLower(string(ev.Kind)), payload)
	return err
}

func streamCursor(r *http.Request) (int64, error) {
	v := r.URL.Query().Get("since")
	if v == "" {
		v = r.Header.Get("Last-Event-ID")
	}
	if v == "" {
		return model.NoSeq, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < model.NoSeq {
		return 0, &paramError{name: "since", value: v}
	}
	return n, nil
}
