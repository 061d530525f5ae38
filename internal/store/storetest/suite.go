// Package storetest holds the behavioural suite every store.Store
// implementation must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	engerrors "github.com/shopnow/streamwh/internal/errors"
	"github.com/shopnow/streamwh/internal/store"
	"github.com/shopnow/streamwh/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func vendor(id, name string, at time.Time) *types.DimensionRecord {
	return &types.DimensionRecord{
		Dimension:  types.DimensionVendor,
		BusinessID: id,
		Attributes: types.Attributes{
			{Name: "vendor_name", Value: name},
			{Name: "commission_rate", Value: 15.0},
		},
		ValidFrom: at,
	}
}

func product(id, vendorID string, at time.Time) *types.DimensionRecord {
	return &types.DimensionRecord{
		Dimension:  types.DimensionProduct,
		BusinessID: id,
		Attributes: types.Attributes{
			{Name: "name", Value: "Lamp"},
			{Name: "price", Value: 12.5},
			{Name: "vendor_id", Value: vendorID},
		},
		ValidFrom: at,
	}
}

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertAndCurrent", func(t *testing.T) { testInsertAndCurrent(t, newStore(t)) })
	t.Run("InsertConflict", func(t *testing.T) { testInsertConflict(t, newStore(t)) })
	t.Run("Supersede", func(t *testing.T) { testSupersede(t, newStore(t)) })
	t.Run("SupersedeStale", func(t *testing.T) { testSupersedeStale(t, newStore(t)) })
	t.Run("HistoryTieOrder", func(t *testing.T) { testHistoryTieOrder(t, newStore(t)) })
	t.Run("ListCurrent", func(t *testing.T) { testListCurrent(t, newStore(t)) })
	t.Run("Facts", func(t *testing.T) { testFacts(t, newStore(t)) })
	t.Run("Integrity", func(t *testing.T) { testIntegrity(t, newStore(t)) })
}

func testInsertAndCurrent(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	cur, err := s.Current(ctx, types.DimensionVendor, "V1")
	require.NoError(t, err)
	assert.Nil(t, cur)

	rec, err := s.Insert(ctx, vendor("V1", "A", t0))
	require.NoError(t, err)
	assert.Positive(t, rec.SurrogateKey)
	assert.True(t, rec.IsCurrent)
	assert.Nil(t, rec.ValidTo)

	cur, err = s.Current(ctx, types.DimensionVendor, "V1")
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, rec.SurrogateKey, cur.SurrogateKey)
	assert.True(t, cur.ValidFrom.Equal(t0))
	assert.Equal(t, "A", cur.Attributes.String("vendor_name"))
	assert.Equal(t, 15.0, cur.Attributes.Float("commission_rate"))
	assert.Equal(t, "vendor_name", cur.Attributes[0].Name, "attribute order survives storage")
}

func testInsertConflict(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	_, err := s.Insert(ctx, vendor("V1", "A", t0))
	require.NoError(t, err)

	_, err = s.Insert(ctx, vendor("V1", "B", t0.Add(time.Second)))
	require.Error(t, err)
	assert.True(t, engerrors.IsConflict(err), "got %v", err)

	history, err := s.History(ctx, types.DimensionVendor, "V1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func testSupersede(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	t1 := t0.Add(time.Hour)

	first, err := s.Insert(ctx, vendor("V1", "A", t0))
	require.NoError(t, err)
	second, err := s.Supersede(ctx, first, vendor("V1", "B", t1))
	require.NoError(t, err)
	assert.Greater(t, second.SurrogateKey, first.SurrogateKey)

	history, err := s.History(ctx, types.DimensionVendor, "V1")
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.False(t, history[0].IsCurrent)
	require.NotNil(t, history[0].ValidTo)
	assert.True(t, history[0].ValidTo.Equal(t1))
	assert.Equal(t, "A", history[0].Attributes.String("vendor_name"))

	assert.True(t, history[1].IsCurrent)
	assert.Nil(t, history[1].ValidTo)
	assert.True(t, history[1].ValidFrom.Equal(t1))
	assert.Equal(t, "B", history[1].Attributes.String("vendor_name"))
}

func testSupersedeStale(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	first, err := s.Insert(ctx, vendor("V1", "A", t0))
	require.NoError(t, err)
	_, err = s.Supersede(ctx, first, vendor("V1", "B", t0.Add(time.Minute)))
	require.NoError(t, err)

	// first is no longer current
	_, err = s.Supersede(ctx, first, vendor("V1", "C", t0.Add(2*time.Minute)))
	require.Error(t, err)
	assert.True(t, engerrors.IsConflict(err), "got %v", err)

	history, err := s.History(ctx, types.DimensionVendor, "V1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "B", history[1].Attributes.String("vendor_name"))
}

func testHistoryTieOrder(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	first, err := s.Insert(ctx, vendor("V1", "A", t0))
	require.NoError(t, err)
	second, err := s.Supersede(ctx, first, vendor("V1", "B", t0))
	require.NoError(t, err)
	_, err = s.Supersede(ctx, second, vendor("V1", "C", t0))
	require.NoError(t, err)

	history, err := s.History(ctx, types.DimensionVendor, "V1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, name := range []string{"A", "B", "C"} {
		assert.Equal(t, name, history[i].Attributes.String("vendor_name"))
	}
	assert.True(t, history[2].IsCurrent)
}

func testListCurrent(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	a, err := s.Insert(ctx, vendor("V2", "A", t0))
	require.NoError(t, err)
	_, err = s.Supersede(ctx, a, vendor("V2", "A2", t0.Add(time.Minute)))
	require.NoError(t, err)
	_, err = s.Insert(ctx, vendor("V1", "B", t0))
	require.NoError(t, err)
	_, err = s.Insert(ctx, product("P1", "V1", t0))
	require.NoError(t, err)

	current, err := s.ListCurrent(ctx, types.DimensionVendor)
	require.NoError(t, err)
	require.Len(t, current, 2)
	assert.Equal(t, "V1", current[0].BusinessID)
	assert.Equal(t, "V2", current[1].BusinessID)
	assert.Equal(t, "A2", current[1].Attributes.String("vendor_name"))
}

func testFacts(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	for i, id := range []string{"f-1", "f-2", "f-3"} {
		require.NoError(t, s.AppendFact(ctx, &types.FactRecord{
			FactID:    id,
			Kind:      types.FactOrderLine,
			EventTime: t0.Add(time.Duration(i) * time.Minute),
			WrittenAt: t0.Add(time.Duration(i) * time.Minute),
			Fields:    map[string]interface{}{"order_id": "o-1", "quantity": float64(i + 1)},
			Refs:      map[types.Dimension]string{types.DimensionVendor: "V1", types.DimensionProduct: "P1"},
		}))
	}
	require.NoError(t, s.AppendFact(ctx, &types.FactRecord{
		FactID: "c-1", Kind: types.FactClick, EventTime: t0, WrittenAt: t0,
		Fields: map[string]interface{}{"session_id": "s-1", "user_id": nil},
		Refs:   map[types.Dimension]string{},
	}))

	facts, err := s.ListFacts(ctx, types.FactOrderLine, 2)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "f-3", facts[0].FactID)
	assert.Equal(t, "f-2", facts[1].FactID)
	assert.Equal(t, 3.0, facts[0].Fields["quantity"])
	assert.Equal(t, "V1", facts[0].VendorRef())
	assert.True(t, facts[0].EventTime.Equal(t0.Add(2*time.Minute)))

	clicks, err := s.ListFacts(ctx, types.FactClick, 0)
	require.NoError(t, err)
	require.Len(t, clicks, 1)
	assert.Contains(t, clicks[0].Fields, "user_id")
	assert.Nil(t, clicks[0].Fields["user_id"])
}

func testIntegrity(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	_, err := s.Insert(ctx, vendor("V1", "A", t0))
	require.NoError(t, err)
	_, err = s.Insert(ctx, product("P1", "V1", t0))
	require.NoError(t, err)
	_, err = s.Insert(ctx, product("P2", "GHOST", t0))
	require.NoError(t, err)

	require.NoError(t, s.AppendFact(ctx, &types.FactRecord{
		FactID: "f-ok", Kind: types.FactOrderLine, EventTime: t0, WrittenAt: t0,
		Fields: map[string]interface{}{},
		Refs:   map[types.Dimension]string{types.DimensionVendor: "V1", types.DimensionProduct: "P1"},
	}))
	require.NoError(t, s.AppendFact(ctx, &types.FactRecord{
		FactID: "f-orphan", Kind: types.FactOrderLine, EventTime: t0, WrittenAt: t0,
		Fields: map[string]interface{}{},
		Refs:   map[types.Dimension]string{types.DimensionVendor: "V9", types.DimensionProduct: "P1"},
	}))

	report, err := s.Integrity(ctx)
	require.NoError(t, err)
	assert.False(t, report.Clean())
	assert.Equal(t, []types.OrphanRef{{
		FactID: "f-orphan", Kind: types.FactOrderLine, Dimension: types.DimensionVendor, BusinessID: "V9",
	}}, report.OrphanFacts)
	assert.Equal(t, []types.UnknownVendorProduct{{ProductID: "P2", VendorID: "GHOST"}}, report.UnknownVendorProducts)

	// a late vendor event closes the gap
	_, err = s.Insert(ctx, vendor("V9", "Late", t0))
	require.NoError(t, err)
	report, err = s.Integrity(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.OrphanFacts)
}
