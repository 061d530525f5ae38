package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopnow/streamwh/internal/policy"
)

// PolicyRequest is the body of PUT /v1/policy.
type PolicyRequest struct {
	State string `json:"state"`
}

// PolicyHandler exposes the access policy state.
type PolicyHandler struct {
	policy *policy.Policy
}

// NewPolicyHandler creates a new policy handler.
func NewPolicyHandler(p *policy.Policy) *PolicyHandler {
	return &PolicyHandler{policy: p}
}

// Get handles GET /v1/policy.
func (h *PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.policy.Status())
}

// Put handles PUT /v1/policy. Only unrestricted callers may change the
// policy, whatever its current state.
func (h *PolicyHandler) Put(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if GetVendor(r.Context()) != "" {
		writeError(w, http.StatusForbidden, "policy changes require an unrestricted caller", requestID)
		return
	}

	var req PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}
	state, err := policy.ParseState(req.State)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}

	h.policy.Set(state)
	writeJSON(w, http.StatusOK, h.policy.Status())
}
