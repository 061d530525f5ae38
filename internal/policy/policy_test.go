package policy

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopnow/streamwh/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vendorRow(id string) *types.DimensionRecord {
	return &types.DimensionRecord{Dimension: types.DimensionVendor, BusinessID: id}
}

func productRow(id, vendor string) *types.DimensionRecord {
	return &types.DimensionRecord{
		Dimension:  types.DimensionProduct,
		BusinessID: id,
		Attributes: types.Attributes{{Name: "vendor_id", Value: vendor}},
	}
}

func factRow(vendor string) *types.FactRecord {
	refs := map[types.Dimension]string{}
	if vendor != "" {
		refs[types.DimensionVendor] = vendor
	}
	return &types.FactRecord{Kind: types.FactOrderLine, Refs: refs}
}

func TestParseState(t *testing.T) {
	for _, s := range []string{"absent", "disabled", "enabled"} {
		st, err := ParseState(s)
		require.NoError(t, err)
		assert.Equal(t, State(s), st)
	}
	_, err := ParseState("on")
	assert.Error(t, err)
}

func TestStatus_DistinguishesAbsentFromDisabled(t *testing.T) {
	p := New("", zerolog.Nop())
	st := p.Status()
	assert.Equal(t, StateAbsent, st.State)
	assert.False(t, st.Exists)
	assert.False(t, st.Enabled)

	before := st.ChangedAt
	time.Sleep(time.Millisecond)
	p.Set(StateDisabled)
	st = p.Status()
	assert.True(t, st.Exists)
	assert.False(t, st.Enabled)
	assert.True(t, st.ChangedAt.After(before))

	p.Set(StateEnabled)
	st = p.Status()
	assert.True(t, st.Exists)
	assert.True(t, st.Enabled)
}

func TestVisible(t *testing.T) {
	tests := []struct {
		name   string
		state  State
		row    Row
		caller string
		want   bool
	}{
		{"absent policy shows all", StateAbsent, vendorRow("V2"), "V1", true},
		{"disabled policy shows all", StateDisabled, vendorRow("V2"), "V1", true},
		{"enabled own vendor", StateEnabled, vendorRow("V1"), "V1", true},
		{"enabled other vendor", StateEnabled, vendorRow("V2"), "V1", false},
		{"enabled admin caller", StateEnabled, vendorRow("V2"), "", true},
		{"product of own vendor", StateEnabled, productRow("P1", "V1"), "V1", true},
		{"product of other vendor", StateEnabled, productRow("P1", "V2"), "V1", false},
		{"product without vendor", StateEnabled, productRow("P1", ""), "V1", false},
		{"fact of own vendor", StateEnabled, factRow("V1"), "V1", true},
		{"fact without vendor", StateEnabled, factRow(""), "V1", false},
		{"resolved fact", StateEnabled, &types.ResolvedFact{Fact: factRow("V1")}, "V1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.state, zerolog.Nop())
			assert.Equal(t, tt.want, p.Visible(tt.row, tt.caller))
		})
	}
}

func TestFilter(t *testing.T) {
	p := New(StateEnabled, zerolog.Nop())
	dims := []*types.DimensionRecord{vendorRow("V1"), vendorRow("V2"), productRow("P1", "V1")}

	got := p.FilterDimensions(dims, "V1")
	require.Len(t, got, 2)
	assert.Equal(t, "V1", got[0].BusinessID)
	assert.Equal(t, "P1", got[1].BusinessID)

	assert.Len(t, p.FilterDimensions(dims, ""), 3)

	facts := []*types.FactRecord{factRow("V1"), factRow("V2"), factRow("")}
	assert.Len(t, p.FilterFacts(facts, "V2"), 1)

	resolved := []*types.ResolvedFact{{Fact: factRow("V1")}, {Fact: factRow("V2")}}
	assert.Len(t, p.FilterResolved(resolved, "V2"), 1)

	// filtering never mutates the input
	assert.Len(t, dims, 3)

	p.Set(StateDisabled)
	assert.Len(t, p.FilterFacts(facts, "V2"), 3)
}
