// Package memory provides an in-process implementation of store.Store. It is
// used for tests and for ephemeral runs with store.type=memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	engerrors "github.com/shopnow/streamwh/internal/errors"
	"github.com/shopnow/streamwh/internal/store"
	"github.com/shopnow/streamwh/pkg/types"
)

var _ store.Store = (*Store)(nil)

// Store keeps every dimension version and fact in memory. Returned records
// are copies; mutating them does not affect the store.
type Store struct {
	mu      sync.RWMutex
	nextKey int64
	dims    map[types.Dimension]map[string][]*types.DimensionRecord
	facts   map[types.FactKind][]*types.FactRecord
}

// New creates an empty store.
func New() *Store {
	s := &Store{
		dims:  make(map[types.Dimension]map[string][]*types.DimensionRecord),
		facts: make(map[types.FactKind][]*types.FactRecord),
	}
	for _, d := range types.AllDimensions {
		s.dims[d] = make(map[string][]*types.DimensionRecord)
	}
	return s
}

func (s *Store) versions(dim types.Dimension) (map[string][]*types.DimensionRecord, error) {
	v, ok := s.dims[dim]
	if !ok {
		return nil, engerrors.NewStoreError(engerrors.CodeUnknownDimension, fmt.Sprintf("unknown dimension %q", dim), nil)
	}
	return v, nil
}

func currentOf(versions []*types.DimensionRecord) *types.DimensionRecord {
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].IsCurrent {
			return versions[i]
		}
	}
	return nil
}

// Current returns the current record for businessID, or nil.
func (s *Store) Current(ctx context.Context, dim types.Dimension, businessID string) (*types.DimensionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, err := s.versions(dim)
	if err != nil {
		return nil, err
	}
	return currentOf(all[businessID]).Clone(), nil
}

// Insert stores rec as the first open version of its business id.
func (s *Store) Insert(ctx context.Context, rec *types.DimensionRecord) (*types.DimensionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.versions(rec.Dimension)
	if err != nil {
		return nil, err
	}
	if currentOf(all[rec.BusinessID]) != nil {
		return nil, engerrors.NewConflictError(fmt.Sprintf("%s %s already has a current record", rec.Dimension, rec.BusinessID))
	}

	stored := s.open(rec)
	all[rec.BusinessID] = append(all[rec.BusinessID], stored)
	return stored.Clone(), nil
}

// Supersede closes prev and stores next as current in one step.
func (s *Store) Supersede(ctx context.Context, prev, next *types.DimensionRecord) (*types.DimensionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.versions(next.Dimension)
	if err != nil {
		return nil, err
	}
	cur := currentOf(all[next.BusinessID])
	if cur == nil || cur.SurrogateKey != prev.SurrogateKey {
		return nil, engerrors.NewConflictError(fmt.Sprintf("%s %s: record %d is no longer current", next.Dimension, next.BusinessID, prev.SurrogateKey))
	}

	closedAt := next.ValidFrom
	cur.ValidTo = &closedAt
	cur.IsCurrent = false

	stored := s.open(next)
	all[next.BusinessID] = append(all[next.BusinessID], stored)
	return stored.Clone(), nil
}

// open assigns the next surrogate key; callers hold the write lock.
func (s *Store) open(rec *types.DimensionRecord) *types.DimensionRecord {
	s.nextKey++
	stored := rec.Clone()
	stored.SurrogateKey = s.nextKey
	stored.ValidTo = nil
	stored.IsCurrent = true
	return stored
}

// History returns every version of businessID in timeline order.
func (s *Store) History(ctx context.Context, dim types.Dimension, businessID string) ([]*types.DimensionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, err := s.versions(dim)
	if err != nil {
		return nil, err
	}
	out := make([]*types.DimensionRecord, 0, len(all[businessID]))
	for _, r := range all[businessID] {
		out = append(out, r.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ValidFrom.Equal(out[j].ValidFrom) {
			return out[i].ValidFrom.Before(out[j].ValidFrom)
		}
		return out[i].SurrogateKey < out[j].SurrogateKey
	})
	return out, nil
}

// ListCurrent returns the current record of every business id, ordered by id.
func (s *Store) ListCurrent(ctx context.Context, dim types.Dimension) ([]*types.DimensionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, err := s.versions(dim)
	if err != nil {
		return nil, err
	}
	out := make([]*types.DimensionRecord, 0, len(all))
	for _, versions := range all {
		if cur := currentOf(versions); cur != nil {
			out = append(out, cur.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BusinessID < out[j].BusinessID })
	return out, nil
}

// AppendFact stores a copy of f.
func (s *Store) AppendFact(ctx context.Context, f *types.FactRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.facts[f.Kind] = append(s.facts[f.Kind], cloneFact(f))
	return nil
}

// ListFacts returns up to limit facts of kind, newest first.
func (s *Store) ListFacts(ctx context.Context, kind types.FactKind, limit int) ([]*types.FactRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	facts := s.facts[kind]
	n := len(facts)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*types.FactRecord, 0, n)
	for i := len(facts) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, cloneFact(facts[i]))
	}
	return out, nil
}

// Integrity reports orphan fact references and products with unknown vendors.
func (s *Store) Integrity(ctx context.Context) (*types.IntegrityReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := &types.IntegrityReport{
		CheckedAt:             time.Now().UTC(),
		OrphanFacts:           []types.OrphanRef{},
		UnknownVendorProducts: []types.UnknownVendorProduct{},
	}

	for _, kind := range types.AllFactKinds {
		for _, f := range s.facts[kind] {
			for _, dim := range types.AllDimensions {
				id := f.Refs[dim]
				if id == "" {
					continue
				}
				if currentOf(s.dims[dim][id]) == nil {
					report.OrphanFacts = append(report.OrphanFacts, types.OrphanRef{
						FactID: f.FactID, Kind: kind, Dimension: dim, BusinessID: id,
					})
				}
			}
		}
	}

	for id, versions := range s.dims[types.DimensionProduct] {
		cur := currentOf(versions)
		if cur == nil {
			continue
		}
		vendorID := cur.Attributes.String("vendor_id")
		if vendorID == "" {
			continue
		}
		if currentOf(s.dims[types.DimensionVendor][vendorID]) == nil {
			report.UnknownVendorProducts = append(report.UnknownVendorProducts, types.UnknownVendorProduct{
				ProductID: id, VendorID: vendorID,
			})
		}
	}
	sort.Slice(report.UnknownVendorProducts, func(i, j int) bool {
		return report.UnknownVendorProducts[i].ProductID < report.UnknownVendorProducts[j].ProductID
	})

	return report, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func cloneFact(f *types.FactRecord) *types.FactRecord {
	out := *f
	out.Fields = make(map[string]interface{}, len(f.Fields))
	for k, v := range f.Fields {
		out.Fields[k] = v
	}
	out.Refs = make(map[types.Dimension]string, len(f.Refs))
	for k, v := range f.Refs {
		out.Refs[k] = v
	}
	return &out
}
