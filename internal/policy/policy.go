// Package policy implements the read-time row access policy.
//
// The policy is keyed by vendor identity. When enabled, a caller bound to a
// vendor sees only rows attributed to that vendor; a caller with no vendor
// identity is administrative and sees everything. A policy can exist without
// being enforced, and that state is reported separately from no policy at all.
package policy

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopnow/streamwh/pkg/types"
)

// State is the lifecycle state of the policy.
type State string

const (
	StateAbsent   State = "absent"
	StateDisabled State = "disabled"
	StateEnabled  State = "enabled"
)

// ParseState resolves a state name.
func ParseState(s string) (State, error) {
	switch State(s) {
	case StateAbsent, StateDisabled, StateEnabled:
		return State(s), nil
	}
	return "", fmt.Errorf("unknown policy state %q", s)
}

// Row is anything attributable to a vendor.
type Row interface {
	VendorRef() string
}

// Status reports the policy state.
type Status struct {
	State     State     `json:"state"`
	Exists    bool      `json:"exists"`
	Enabled   bool      `json:"enabled"`
	ChangedAt time.Time `json:"changed_at"`
}

// Policy is the vendor visibility filter. It is safe for concurrent use.
type Policy struct {
	mu      sync.RWMutex
	state   State
	changed time.Time
	logger  zerolog.Logger
}

// New creates a policy in the given state.
func New(state State, logger zerolog.Logger) *Policy {
	if state == "" {
		state = StateAbsent
	}
	return &Policy{
		state:   state,
		changed: time.Now().UTC(),
		logger:  logger.With().Str("component", "policy").Logger(),
	}
}

// Set changes the policy state.
func (p *Policy) Set(state State) {
	p.mu.Lock()
	prev := p.state
	p.state = state
	p.changed = time.Now().UTC()
	p.mu.Unlock()

	if prev != state {
		p.logger.Info().Str("from", string(prev)).Str("to", string(state)).Msg("access policy changed")
	}
}

// Status returns the current state.
func (p *Policy) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Status{
		State:     p.state,
		Exists:    p.state != StateAbsent,
		Enabled:   p.state == StateEnabled,
		ChangedAt: p.changed,
	}
}

// Visible reports whether caller may see row.
func (p *Policy) Visible(row Row, caller string) bool {
	return p.enforcedFor(caller) == "" || row.VendorRef() == caller
}

// enforcedFor returns the vendor identity rows must match, or "" when the
// caller is unrestricted.
func (p *Policy) enforcedFor(caller string) string {
	if caller == "" {
		return ""
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state != StateEnabled {
		return ""
	}
	return caller
}

// FilterDimensions returns the dimension records caller may see.
func (p *Policy) FilterDimensions(rows []*types.DimensionRecord, caller string) []*types.DimensionRecord {
	vendor := p.enforcedFor(caller)
	if vendor == "" {
		return rows
	}
	out := make([]*types.DimensionRecord, 0, len(rows))
	for _, r := range rows {
		if r.VendorRef() == vendor {
			out = append(out, r)
		}
	}
	return out
}

// FilterFacts returns the facts caller may see.
func (p *Policy) FilterFacts(rows []*types.FactRecord, caller string) []*types.FactRecord {
	vendor := p.enforcedFor(caller)
	if vendor == "" {
		return rows
	}
	out := make([]*types.FactRecord, 0, len(rows))
	for _, r := range rows {
		if r.VendorRef() == vendor {
			out = append(out, r)
		}
	}
	return out
}

// FilterResolved returns the resolved facts caller may see. Joined
// dimension records travel with their fact.
func (p *Policy) FilterResolved(rows []*types.ResolvedFact, caller string) []*types.ResolvedFact {
	vendor := p.enforcedFor(caller)
	if vendor == "" {
		return rows
	}
	out := make([]*types.ResolvedFact, 0, len(rows))
	for _, r := range rows {
		if r.VendorRef() == vendor {
			out = append(out, r)
		}
	}
	return out
}
