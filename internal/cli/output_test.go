package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/shopnow/streamwh/internal/engine"
	"github.com/shopnow/streamwh/pkg/types"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestRenderHistory_Golden(t *testing.T) {
	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	history := []*types.DimensionRecord{
		{
			SurrogateKey: 1, Dimension: types.DimensionVendor, BusinessID: "V-100",
			Attributes: types.Attributes{
				{Name: "vendor_name", Value: "Acme"},
				{Name: "vendor_status", Value: "active"},
				{Name: "commission_rate", Value: 0.1},
			},
			ValidFrom: jan, ValidTo: &feb,
		},
		{
			SurrogateKey: 3, Dimension: types.DimensionVendor, BusinessID: "V-100",
			Attributes: types.Attributes{
				{Name: "vendor_name", Value: "Acme Ltd"},
				{Name: "vendor_status", Value: "active"},
				{Name: "commission_rate", Value: 0.12},
			},
			ValidFrom: feb, IsCurrent: true,
		},
	}

	var buf bytes.Buffer
	renderHistory(&buf, types.DimensionVendor, "V-100", history)
	newGoldie(t).Assert(t, "history_vendor", buf.Bytes())
}

func TestRenderIntegrity_Golden(t *testing.T) {
	report := &types.IntegrityReport{
		OrphanFacts: []types.OrphanRef{
			{FactID: "f-1", Kind: types.FactOrderLine, Dimension: types.DimensionVendor, BusinessID: "GHOST"},
		},
		UnknownVendorProducts: []types.UnknownVendorProduct{
			{ProductID: "p-1", VendorID: "GHOST"},
		},
	}

	var buf bytes.Buffer
	renderIntegrity(&buf, report)
	renderSummary(&buf, types.StreamOrders, engine.Summary{Total: 1, Stored: 1})
	newGoldie(t).Assert(t, "integrity_report", buf.Bytes())
}
