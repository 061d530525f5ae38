package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopnow/streamwh/internal/engine"
	engerrors "github.com/shopnow/streamwh/internal/errors"
	"github.com/shopnow/streamwh/pkg/types"
)

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes = 8 << 20

// BatchResponse is the response of a batch ingest.
type BatchResponse struct {
	Summary   engine.Summary    `json:"summary"`
	Outcomes  []*engine.Outcome `json:"outcomes"`
	RequestID string            `json:"request_id"`
}

// IngestHandler handles event ingress.
type IngestHandler struct {
	engine       *engine.Engine
	maxBodyBytes int64
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(e *engine.Engine, maxBodyBytes int64) *IngestHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &IngestHandler{
		engine:       e,
		maxBodyBytes: maxBodyBytes,
	}
}

// Event handles POST /v1/streams/{stream}/events with one JSON event as the
// body. The raw body is classified as is; invalid events are quarantined
// and answered with 202.
func (h *IngestHandler) Event(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	stream := types.StreamKind(mux.Vars(r)["stream"])

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		writeBodyError(w, err, requestID)
		return
	}

	out := h.engine.Process(r.Context(), stream, raw)
	writeJSON(w, outcomeStatus(out), out)
}

// Batch handles POST /v1/streams/{stream}/batch with newline-delimited
// events as the body. Events are applied in order.
func (h *IngestHandler) Batch(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	stream := types.StreamKind(mux.Vars(r)["stream"])

	resp := BatchResponse{
		Outcomes:  []*engine.Outcome{},
		RequestID: requestID,
	}
	sum, err := h.engine.Ingest(r.Context(), stream, http.MaxBytesReader(w, r.Body, h.maxBodyBytes), func(o *engine.Outcome) {
		resp.Outcomes = append(resp.Outcomes, o)
	})
	resp.Summary = sum
	if err != nil {
		writeBodyError(w, err, requestID)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// outcomeStatus maps a disposition to a response status.
func outcomeStatus(o *engine.Outcome) int {
	switch o.Disposition {
	case engine.Stored:
		return http.StatusOK
	case engine.Quarantined:
		return http.StatusAccepted
	case engine.Dropped:
		return http.StatusServiceUnavailable
	}
	if engerrors.GetCategory(o.Err) == engerrors.ErrCategorySync {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeBodyError(w http.ResponseWriter, err error, requestID string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), requestID)
		return
	}
	writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read request body: %v", err), requestID)
}
