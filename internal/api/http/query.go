package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopnow/streamwh/internal/dimension"
	"github.com/shopnow/streamwh/internal/fact"
	"github.com/shopnow/streamwh/internal/observability"
	"github.com/shopnow/streamwh/internal/policy"
	"github.com/shopnow/streamwh/internal/quarantine"
	"github.com/shopnow/streamwh/internal/store"
	"github.com/shopnow/streamwh/pkg/types"
)

const (
	defaultFactLimit       = 100
	defaultQuarantineLimit = 20
)

// DimensionResponse lists dimension records.
type DimensionResponse struct {
	Dimension types.Dimension          `json:"dimension"`
	Records   []*types.DimensionRecord `json:"records"`
	RequestID string                   `json:"request_id"`
}

// FactResponse lists facts joined to current dimension versions.
type FactResponse struct {
	Kind      types.FactKind        `json:"kind"`
	Facts     []*types.ResolvedFact `json:"facts"`
	RequestID string                `json:"request_id"`
}

// QuarantineResponse lists quarantine records.
type QuarantineResponse struct {
	Stream    types.StreamKind          `json:"stream"`
	Records   []*types.QuarantineRecord `json:"records"`
	RequestID string                    `json:"request_id"`
}

// StatsResponse reports the pipeline counters.
type StatsResponse struct {
	UptimeSeconds float64                      `json:"uptime_seconds"`
	Counters      []observability.CounterStats `json:"counters"`
}

// QueryHandler serves the read API. Every read goes through the access
// policy using the caller's vendor identity.
type QueryHandler struct {
	store      store.Store
	facts      *fact.Reader
	quarantine *quarantine.Router
	policy     *policy.Policy
	stats      *observability.PipelineStats
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(st store.Store, q *quarantine.Router, p *policy.Policy, stats *observability.PipelineStats) *QueryHandler {
	return &QueryHandler{
		store:      st,
		facts:      fact.NewReader(st),
		quarantine: q,
		policy:     p,
		stats:      stats,
	}
}

// Dimensions handles GET /v1/dimensions/{dimension}: the current records.
// ?status=active narrows vendors to active ones.
func (h *QueryHandler) Dimensions(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	dim, err := types.ParseDimension(mux.Vars(r)["dimension"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error(), requestID)
		return
	}

	var records []*types.DimensionRecord
	if r.URL.Query().Get("status") == "active" && dim == types.DimensionVendor {
		records, err = dimension.ActiveVendors(r.Context(), h.store)
	} else {
		records, err = h.store.ListCurrent(r.Context(), dim)
	}
	if err != nil {
		writeEngineError(w, err, requestID)
		return
	}

	writeJSON(w, http.StatusOK, DimensionResponse{
		Dimension: dim,
		Records:   nonNil(h.policy.FilterDimensions(records, GetVendor(r.Context()))),
		RequestID: requestID,
	})
}

// History handles GET /v1/dimensions/{dimension}/{id}/history.
func (h *QueryHandler) History(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	vars := mux.Vars(r)

	dim, err := types.ParseDimension(vars["dimension"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error(), requestID)
		return
	}

	records, err := h.store.History(r.Context(), dim, vars["id"])
	if err != nil {
		writeEngineError(w, err, requestID)
		return
	}
	records = h.policy.FilterDimensions(records, GetVendor(r.Context()))
	if len(records) == 0 {
		writeError(w, http.StatusNotFound, "no history for "+string(dim)+" "+vars["id"], requestID)
		return
	}

	writeJSON(w, http.StatusOK, DimensionResponse{
		Dimension: dim,
		Records:   records,
		RequestID: requestID,
	})
}

// Facts handles GET /v1/facts/{kind}?limit=N.
func (h *QueryHandler) Facts(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	kind, err := types.ParseFactKind(mux.Vars(r)["kind"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error(), requestID)
		return
	}
	limit, err := intParam(r, "limit", defaultFactLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}

	// A restricted caller's limit applies to the rows it may see.
	fetch := limit
	if h.restricted(r) {
		fetch = 0
	}
	facts, err := h.facts.List(r.Context(), kind, fetch)
	if err != nil {
		writeEngineError(w, err, requestID)
		return
	}
	visible := h.policy.FilterResolved(facts, GetVendor(r.Context()))
	if limit > 0 && len(visible) > limit {
		visible = visible[:limit]
	}

	writeJSON(w, http.StatusOK, FactResponse{
		Kind:      kind,
		Facts:     nonNilFacts(visible),
		RequestID: requestID,
	})
}

// Integrity handles GET /v1/integrity.
func (h *QueryHandler) Integrity(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if h.restricted(r) {
		writeError(w, http.StatusForbidden, "integrity report requires an unrestricted caller", requestID)
		return
	}

	report, err := h.store.Integrity(r.Context())
	if err != nil {
		writeEngineError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Quarantine handles GET /v1/quarantine/{stream}?marker=M&limit=N. With a
// marker it returns the newest matching record; without one, the newest
// records.
func (h *QueryHandler) Quarantine(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if h.restricted(r) {
		writeError(w, http.StatusForbidden, "quarantine scan requires an unrestricted caller", requestID)
		return
	}

	stream := types.StreamKind(mux.Vars(r)["stream"])
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}

	resp := QuarantineResponse{Stream: stream, RequestID: requestID}
	if marker := r.URL.Query().Get("marker"); marker != "" {
		rec, err := h.quarantine.Scan(r.Context(), stream, marker, limit)
		if errors.Is(err, quarantine.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no quarantined event with marker "+marker, requestID)
			return
		}
		if err != nil {
			writeEngineError(w, err, requestID)
			return
		}
		resp.Records = []*types.QuarantineRecord{rec}
	} else {
		if limit <= 0 {
			limit = defaultQuarantineLimit
		}
		recs, err := h.quarantine.Recent(r.Context(), stream, limit)
		if err != nil {
			writeEngineError(w, err, requestID)
			return
		}
		resp.Records = recs
	}
	if resp.Records == nil {
		resp.Records = []*types.QuarantineRecord{}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Stats handles GET /v1/stats. ?top=N returns the N busiest counters
// instead of all of them.
func (h *QueryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	top, err := intParam(r, "top", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), GetRequestID(r.Context()))
		return
	}

	counters := h.stats.Snapshot()
	if top > 0 {
		counters = h.stats.GetTop(top)
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		UptimeSeconds: h.stats.Uptime().Round(time.Millisecond).Seconds(),
		Counters:      counters,
	})
}

// restricted reports whether the caller is bound to a vendor under an
// enforced policy.
func (h *QueryHandler) restricted(r *http.Request) bool {
	return GetVendor(r.Context()) != "" && h.policy.Status().Enabled
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

func nonNil(rows []*types.DimensionRecord) []*types.DimensionRecord {
	if rows == nil {
		return []*types.DimensionRecord{}
	}
	return rows
}

func nonNilFacts(rows []*types.ResolvedFact) []*types.ResolvedFact {
	if rows == nil {
		return []*types.ResolvedFact{}
	}
	return rows
}
