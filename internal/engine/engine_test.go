package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopnow/streamwh/internal/dimension"
	engerrors "github.com/shopnow/streamwh/internal/errors"
	"github.com/shopnow/streamwh/internal/fact"
	"github.com/shopnow/streamwh/internal/observability"
	"github.com/shopnow/streamwh/internal/quarantine"
	"github.com/shopnow/streamwh/internal/storage"
	"github.com/shopnow/streamwh/internal/store"
	"github.com/shopnow/streamwh/internal/store/memory"
	"github.com/shopnow/streamwh/internal/validate"
	"github.com/shopnow/streamwh/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	engine *Engine
	store  *memory.Store
	router *quarantine.Router
	stats  *observability.PipelineStats
}

func newHarness(t *testing.T, dims store.DimensionStore, sink storage.ObjectStorage) *harness {
	t.Helper()
	st := memory.New()
	if dims == nil {
		dims = st
	}
	if sink == nil {
		local, err := storage.NewLocalStorage(t.TempDir())
		require.NoError(t, err)
		sink = local
	}
	stats := observability.NewPipelineStats()

	syncOpts := dimension.DefaultOptions()
	syncOpts.MaxRetries = 2
	syncOpts.RetryBackoff = time.Millisecond
	syncOpts.Stats = stats

	qOpts := quarantine.DefaultOptions()
	qOpts.MaxRetries = 1
	qOpts.RetryBase = time.Millisecond
	qOpts.Stats = stats

	router := quarantine.NewRouter(sink, qOpts)
	e := New(
		validate.New(nil),
		dimension.New(dims, syncOpts),
		fact.NewWriter(st, zerolog.Nop(), stats),
		router,
		Options{Logger: zerolog.Nop(), Stats: stats},
	)
	return &harness{engine: e, store: st, router: router, stats: stats}
}

func TestProcess_VendorHistorization(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	out := h.engine.Process(ctx, types.StreamVendors,
		[]byte(`{"vendor_id":"V1","vendor_name":"A","commission_rate":15.0,"timestamp":1767225600}`))
	require.Equal(t, Stored, out.Disposition, out.Error)
	require.Len(t, out.Syncs, 1)
	assert.Equal(t, types.SyncInserted, out.Syncs[0].Result)

	out = h.engine.Process(ctx, types.StreamVendors,
		[]byte(`{"vendor_id":"V1","vendor_name":"A","commission_rate":15}`))
	assert.Equal(t, types.SyncNoOp, out.Syncs[0].Result)

	out = h.engine.Process(ctx, types.StreamVendors,
		[]byte(`{"vendor_id":"V1","vendor_name":"B","commission_rate":20.0,"timestamp":1767229200}`))
	assert.Equal(t, types.SyncHistorized, out.Syncs[0].Result)

	hist, err := h.store.History(ctx, types.DimensionVendor, "V1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.False(t, hist[0].IsCurrent)
	require.NotNil(t, hist[0].ValidTo)
	assert.True(t, hist[0].ValidTo.Equal(hist[1].ValidFrom))
	assert.Equal(t, "B", hist[1].Attributes.String("vendor_name"))
	assert.True(t, hist[1].IsCurrent)
	assert.Nil(t, hist[1].ValidTo)
}

func TestProcess_NullOrderIDIsQuarantined(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	raw := `{"order_id": null, "test_marker": "QUARANTINE_TEST_42", "items": []}`
	out := h.engine.Process(ctx, types.StreamOrders, []byte(raw))
	assert.Equal(t, Quarantined, out.Disposition)
	assert.Equal(t, "missing_field:order_id", out.Reason)
	assert.Equal(t, "QUARANTINE_TEST_42", out.Marker)
	assert.True(t, strings.HasPrefix(out.QuarantinePath, "orders/"))

	rec, err := h.router.Scan(ctx, types.StreamOrders, "QUARANTINE_TEST_42", 10)
	require.NoError(t, err)
	assert.Equal(t, raw, rec.Payload)

	facts, err := h.store.ListFacts(ctx, types.FactOrderLine, 0)
	require.NoError(t, err)
	assert.Empty(t, facts)
	assert.Equal(t, int64(1), h.stats.CountLabel(observability.EventsInvalid, "orders"))
}

func TestProcess_Clickstream(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	out := h.engine.Process(ctx, types.StreamClickstream,
		[]byte(`{"session_id":null,"user_id":"u-1","url":"https://test.com"}`))
	assert.Equal(t, Quarantined, out.Disposition)
	assert.Equal(t, "missing_field:session_id", out.Reason)

	out = h.engine.Process(ctx, types.StreamClickstream,
		[]byte(`{"session_id":"s-1","user_id":null,"url":"https://test.com"}`))
	require.Equal(t, Stored, out.Disposition, out.Error)
	require.Len(t, out.FactIDs, 1)

	facts, err := h.store.ListFacts(ctx, types.FactClick, 0)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Nil(t, facts[0].Fields["user_id"])
}

func TestProcess_OrderFeedsProductDimension(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	out := h.engine.Process(ctx, types.StreamOrders, []byte(`{
		"order_id": "o-1",
		"customer": {"id": "c-1", "city": "Lyon"},
		"items": [
			{"product_id": "P1", "name": "Lamp", "price": 30, "quantity": 2, "vendor_id": "V1"},
			{"product_id": "P2", "name": "Desk", "price": 120, "quantity": 1, "vendor_id": "V2"},
			{"name": "gift wrap", "price": 2, "quantity": 1}
		]
	}`))
	require.Equal(t, Stored, out.Disposition, out.Error)
	assert.Len(t, out.Syncs, 2)
	assert.Len(t, out.FactIDs, 3)

	// the same product with a new price historizes
	out = h.engine.Process(ctx, types.StreamOrders,
		[]byte(`{"order_id":"o-2","items":[{"product_id":"P1","name":"Lamp","price":35,"quantity":1,"vendor_id":"V1"}]}`))
	require.Equal(t, Stored, out.Disposition, out.Error)
	assert.Equal(t, types.SyncHistorized, out.Syncs[0].Result)

	hist, err := h.store.History(ctx, types.DimensionProduct, "P1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, 35.0, hist[1].Attributes.Float("price"))

	// orphan vendor refs are accepted and surface in the integrity report
	report, err := h.store.Integrity(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, report.OrphanFacts)
}

func TestProcess_UnknownStream(t *testing.T) {
	h := newHarness(t, nil, nil)
	out := h.engine.Process(context.Background(), types.StreamKind("returns"), []byte(`{"test_marker":"r"}`))
	assert.Equal(t, Quarantined, out.Disposition)
	assert.Equal(t, validate.ReasonUnknownStream, out.Reason)
}

type brokenSink struct{ storage.ObjectStorage }

func (brokenSink) Put(context.Context, string, []byte) error {
	return errors.New("sink offline")
}

func TestProcess_DroppedWhenSinkFails(t *testing.T) {
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	h := newHarness(t, nil, brokenSink{local})

	out := h.engine.Process(context.Background(), types.StreamOrders, []byte(`not json`))
	assert.Equal(t, Dropped, out.Disposition)
	assert.Equal(t, engerrors.CodeDeliveryFailed, engerrors.GetCode(out.Err))
	assert.NotEmpty(t, out.Error)
	assert.Equal(t, int64(1), h.stats.Count(observability.QuarantineDropped))
}

// conflictStore never lets an insert through.
type conflictStore struct{ *memory.Store }

func (conflictStore) Insert(context.Context, *types.DimensionRecord) (*types.DimensionRecord, error) {
	return nil, engerrors.NewConflictError("lost race")
}

func TestProcess_FailedSyncStillWritesFacts(t *testing.T) {
	h := newHarness(t, conflictStore{memory.New()}, nil)
	ctx := context.Background()

	out := h.engine.Process(ctx, types.StreamOrders,
		[]byte(`{"order_id":"o-1","items":[{"product_id":"P1","quantity":1,"price":5}]}`))
	assert.Equal(t, Failed, out.Disposition)
	assert.Equal(t, engerrors.CodeSyncFailed, engerrors.GetCode(out.Err))
	assert.Len(t, out.FactIDs, 1)

	out = h.engine.Process(ctx, types.StreamVendors, []byte(`{"vendor_id":"V1"}`))
	assert.Equal(t, Failed, out.Disposition)
	assert.Empty(t, out.Syncs)
}

func TestIngest(t *testing.T) {
	h := newHarness(t, nil, nil)
	input := strings.Join([]string{
		`{"vendor_id":"V1","vendor_name":"A"}`,
		``,
		`{"vendor_id":null,"test_marker":"bad-1"}`,
		`{"vendor_id":"V2","vendor_name":"B"}`,
		`{oops`,
	}, "\n")

	var seen []Disposition
	sum, err := h.engine.Ingest(context.Background(), types.StreamVendors, strings.NewReader(input), func(o *Outcome) {
		seen = append(seen, o.Disposition)
	})
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 4, Stored: 2, Quarantined: 2}, sum)
	assert.Equal(t, []Disposition{Stored, Quarantined, Stored, Quarantined}, seen)

	rec, err := h.router.Scan(context.Background(), types.StreamVendors, "bad-1", 0)
	require.NoError(t, err)
	assert.Equal(t, `{"vendor_id":null,"test_marker":"bad-1"}`, rec.Payload)
}

func TestIngest_Cancelled(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := h.engine.Ingest(ctx, types.StreamVendors, strings.NewReader(`{"vendor_id":"V1"}`), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, sum.Total)
}
