package dimension

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopnow/streamwh/internal/store/memory"
	"github.com/shopnow/streamwh/pkg/types"
)

type syncOp struct {
	ID     int
	Value  int
	Offset int
}

func genSyncOp() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 3),
		gen.IntRange(0, 4),
		gen.IntRange(-30, 300),
	).Map(func(vals []interface{}) syncOp {
		return syncOp{ID: vals[0].(int), Value: vals[1].(int), Offset: vals[2].(int)}
	})
}

// TestProperty_TimelineUnderConcurrency checks that concurrent syncs, issued
// through two synchronizers that do not share a lock table, never leave more
// than one current record per id and always leave a contiguous timeline.
func TestProperty_TimelineUnderConcurrency(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("one current record and contiguous history per id", prop.ForAll(
		func(ops []syncOp) bool {
			ctx := context.Background()
			st := memory.New()
			opts := DefaultOptions()
			opts.MaxRetries = 1000
			opts.RetryBackoff = 0
			syncers := []*Synchronizer{New(st, opts), New(st, opts)}

			base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			changes := make(map[string]int)
			var mu sync.Mutex
			var wg sync.WaitGroup
			failed := false

			for i, op := range ops {
				wg.Add(1)
				go func(i int, op syncOp) {
					defer wg.Done()
					id := fmt.Sprintf("P%d", op.ID)
					out, err := syncers[i%2].Sync(ctx, types.DimensionProduct, id,
						types.Attributes{{Name: "price", Value: float64(op.Value)}},
						base.Add(time.Duration(op.Offset)*time.Second))
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						failed = true
						return
					}
					if out.Result != types.SyncNoOp {
						changes[id]++
					}
				}(i, op)
			}
			wg.Wait()
			if failed {
				return false
			}

			for id, n := range changes {
				history, err := st.History(ctx, types.DimensionProduct, id)
				if err != nil || len(history) != n {
					return false
				}
				if !contiguous(history) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(40, genSyncOp()),
	))

	properties.TestingRun(t)
}

// TestProperty_SequentialMatchesModel checks that, for a single caller, the
// result of each sync matches a trivial model of "did the value change".
func TestProperty_SequentialMatchesModel(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("insert, noop and historize follow value changes", prop.ForAll(
		func(values []int) bool {
			ctx := context.Background()
			s := New(memory.New(), DefaultOptions())
			base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

			last := -1
			versions := 0
			for i, v := range values {
				out, err := s.Sync(ctx, types.DimensionVendor, "V1",
					types.Attributes{{Name: "commission_rate", Value: float64(v)}},
					base.Add(time.Duration(i)*time.Minute))
				if err != nil {
					return false
				}
				var want types.SyncResult
				switch {
				case last == -1:
					want = types.SyncInserted
				case last == v:
					want = types.SyncNoOp
				default:
					want = types.SyncHistorized
				}
				if out.Result != want {
					return false
				}
				if want != types.SyncNoOp {
					versions++
				}
				last = v
			}

			history, err := s.History(ctx, types.DimensionVendor, "V1")
			if err != nil {
				return false
			}
			if len(values) == 0 {
				return len(history) == 0
			}
			return len(history) == versions && contiguous(history) &&
				history[len(history)-1].Attributes.Float("commission_rate") == float64(last)
		},
		gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}

func contiguous(history []*types.DimensionRecord) bool {
	current := 0
	for i, rec := range history {
		if rec.IsCurrent {
			current++
		}
		if i == len(history)-1 {
			if !rec.IsCurrent || rec.ValidTo != nil {
				return false
			}
			continue
		}
		if rec.ValidTo == nil || !rec.ValidTo.Equal(history[i+1].ValidFrom) {
			return false
		}
		if rec.ValidFrom.After(*rec.ValidTo) {
			return false
		}
	}
	return current == 1
}
