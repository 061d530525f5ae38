// Package dimension maintains SCD Type 2 history for the vendor and product
// dimensions.
//
// A Synchronizer compares each incoming attribute set with the current
// version of its business id and either inserts a first version, does
// nothing, or closes the current version and opens a successor. Calls for
// the same business id are serialized; calls for different ids run in
// parallel. The store's compare-and-swap protects the one-current-version
// rule against writers outside this process.
package dimension

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	engerrors "github.com/shopnow/streamwh/internal/errors"
	"github.com/shopnow/streamwh/internal/observability"
	"github.com/shopnow/streamwh/internal/store"
	"github.com/shopnow/streamwh/pkg/types"
)

// Options configures a Synchronizer.
type Options struct {
	// MaxRetries bounds retries after a conflict or a busy store.
	MaxRetries int
	// RetryBackoff is multiplied by the attempt number between retries.
	RetryBackoff time.Duration
	// LockShards is the number of keyed lock shards.
	LockShards int

	Logger zerolog.Logger
	Stats  *observability.PipelineStats
}

// DefaultOptions returns options matching the default configuration.
func DefaultOptions() Options {
	return Options{
		MaxRetries:   5,
		RetryBackoff: 10 * time.Millisecond,
		LockShards:   64,
		Logger:       zerolog.Nop(),
	}
}

// Outcome describes what a Sync call did.
type Outcome struct {
	Result types.SyncResult
	// Record is the current version after the call.
	Record *types.DimensionRecord
	// Attempts counts store round trips, including conflicted ones.
	Attempts int
}

// Synchronizer applies dimension events to a DimensionStore.
type Synchronizer struct {
	store  store.DimensionStore
	locks  *KeyedLocks
	opts   Options
	logger zerolog.Logger
}

// New creates a synchronizer over st.
func New(st store.DimensionStore, opts Options) *Synchronizer {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Synchronizer{
		store:  st,
		locks:  NewKeyedLocks(opts.LockShards),
		opts:   opts,
		logger: opts.Logger.With().Str("component", "dimension").Logger(),
	}
}

// Sync reconciles attrs observed at observedAt with the current version of
// businessID.
//
// If the context ends before the store is touched nothing is written. A
// conflict or a busy store is retried from the read step; when retries run
// out the call fails with SYNC/SYNC_FAILED and the store is left as the
// winning writer made it.
func (s *Synchronizer) Sync(ctx context.Context, dim types.Dimension, businessID string, attrs types.Attributes, observedAt time.Time) (*Outcome, error) {
	if businessID == "" {
		return nil, engerrors.NewValidationError(engerrors.CodeMissingField, "business id is required")
	}

	unlock, err := s.locks.Lock(ctx, string(dim)+"\x00"+businessID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := s.apply(ctx, dim, businessID, attrs, observedAt.UTC())
		if err == nil {
			out.Attempts = attempt
			s.record(out.Result, dim)
			return out, nil
		}
		if !engerrors.IsRetryable(err) {
			return nil, err
		}

		lastErr = err
		if engerrors.IsConflict(err) {
			s.opts.Stats.Record(observability.SyncConflicts, string(dim))
		} else {
			s.opts.Stats.Record(observability.SyncRetries, string(dim))
		}
		s.logger.Debug().
			Str("dimension", string(dim)).
			Str("business_id", businessID).
			Int("attempt", attempt).
			Err(err).
			Msg("retryable sync failure")

		if attempt > s.opts.MaxRetries {
			break
		}
		if err := sleep(ctx, s.opts.RetryBackoff*time.Duration(attempt)); err != nil {
			return nil, err
		}
	}

	s.opts.Stats.Record(observability.SyncFailed, string(dim))
	return nil, engerrors.NewSyncFailedError(
		fmt.Sprintf("%s %s: gave up after %d attempts", dim, businessID, s.opts.MaxRetries+1), lastErr).
		WithDetails(map[string]interface{}{"dimension": string(dim), "business_id": businessID})
}

// apply runs one read-compare-write round.
func (s *Synchronizer) apply(ctx context.Context, dim types.Dimension, businessID string, attrs types.Attributes, observedAt time.Time) (*Outcome, error) {
	cur, err := s.store.Current(ctx, dim, businessID)
	if err != nil {
		return nil, err
	}

	next := &types.DimensionRecord{
		Dimension:  dim,
		BusinessID: businessID,
		Attributes: attrs.Clone(),
		ValidFrom:  observedAt,
	}

	if cur == nil {
		rec, err := s.store.Insert(ctx, next)
		if err != nil {
			return nil, err
		}
		return &Outcome{Result: types.SyncInserted, Record: rec}, nil
	}

	if cur.Attributes.Equal(attrs) {
		return &Outcome{Result: types.SyncNoOp, Record: cur}, nil
	}

	// A late observation must not open a version before the one it closes.
	if next.ValidFrom.Before(cur.ValidFrom) {
		next.ValidFrom = cur.ValidFrom
	}

	rec, err := s.store.Supersede(ctx, cur, next)
	if err != nil {
		return nil, err
	}
	return &Outcome{Result: types.SyncHistorized, Record: rec}, nil
}

func (s *Synchronizer) record(result types.SyncResult, dim types.Dimension) {
	switch result {
	case types.SyncInserted:
		s.opts.Stats.Record(observability.SyncInserted, string(dim))
	case types.SyncHistorized:
		s.opts.Stats.Record(observability.SyncHistorized, string(dim))
	case types.SyncNoOp:
		s.opts.Stats.Record(observability.SyncNoOp, string(dim))
	}
}

// History returns every version of businessID in timeline order.
func (s *Synchronizer) History(ctx context.Context, dim types.Dimension, businessID string) ([]*types.DimensionRecord, error) {
	return s.store.History(ctx, dim, businessID)
}

// ActiveVendors returns the current vendors whose vendor_status is "active".
func ActiveVendors(ctx context.Context, st store.DimensionStore) ([]*types.DimensionRecord, error) {
	current, err := st.ListCurrent(ctx, types.DimensionVendor)
	if err != nil {
		return nil, err
	}
	active := make([]*types.DimensionRecord, 0, len(current))
	for _, v := range current {
		if v.Attributes.String("vendor_status") == "active" {
			active = append(active, v)
		}
	}
	return active, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
