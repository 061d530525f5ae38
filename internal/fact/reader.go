package fact

import (
	"context"

	"github.com/shopnow/streamwh/internal/store"
	"github.com/shopnow/streamwh/pkg/types"
)

// ReadStore is what a Reader needs: facts and current dimension versions.
type ReadStore interface {
	store.FactStore
	store.DimensionStore
}

// Reader joins facts to the current version of each referenced dimension.
// Joins always use the current version, never the version valid at the
// fact's event time.
type Reader struct {
	store ReadStore
}

// NewReader creates a reader over st.
func NewReader(st ReadStore) *Reader {
	return &Reader{store: st}
}

// List returns up to limit facts of kind, newest first, resolved.
func (r *Reader) List(ctx context.Context, kind types.FactKind, limit int) ([]*types.ResolvedFact, error) {
	facts, err := r.store.ListFacts(ctx, kind, limit)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ctx, facts)
}

// Resolve attaches current dimension records to facts. A reference with no
// current record is left out of Dimensions; the fact itself is kept.
func (r *Reader) Resolve(ctx context.Context, facts []*types.FactRecord) ([]*types.ResolvedFact, error) {
	type key struct {
		dim types.Dimension
		id  string
	}
	cache := make(map[key]*types.DimensionRecord)

	out := make([]*types.ResolvedFact, 0, len(facts))
	for _, f := range facts {
		rf := &types.ResolvedFact{Fact: f, Dimensions: make(map[types.Dimension]*types.DimensionRecord)}
		for dim, id := range f.Refs {
			k := key{dim, id}
			rec, seen := cache[k]
			if !seen {
				var err error
				rec, err = r.store.Current(ctx, dim, id)
				if err != nil {
					return nil, err
				}
				cache[k] = rec
			}
			if rec != nil {
				rf.Dimensions[dim] = rec
			}
		}
		out = append(out, rf)
	}
	return out, nil
}
