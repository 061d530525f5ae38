// Package store defines the persistence contracts of the warehouse: versioned
// dimension records, immutable facts and integrity queries over both.
package store

import (
	"context"

	"github.com/shopnow/streamwh/pkg/types"
)

// DimensionStore persists SCD2 dimension versions.
//
// Implementations enforce at most one current record per business id. Insert
// and Supersede are compare-and-swap operations: when the expected current
// state no longer holds they fail with a SYNC/CONCURRENCY_CONFLICT error and
// write nothing.
type DimensionStore interface {
	// Current returns the current record for businessID, or nil when none exists.
	Current(ctx context.Context, dim types.Dimension, businessID string) (*types.DimensionRecord, error)

	// Insert stores rec as the first, open version of its business id.
	// Fails with a conflict if a current record already exists.
	Insert(ctx context.Context, rec *types.DimensionRecord) (*types.DimensionRecord, error)

	// Supersede atomically closes prev at next.ValidFrom and stores next as
	// the new current version. Fails with a conflict if prev is no longer
	// current.
	Supersede(ctx context.Context, prev, next *types.DimensionRecord) (*types.DimensionRecord, error)

	// History returns every version of businessID ordered by
	// (valid_from, surrogate_key).
	History(ctx context.Context, dim types.Dimension, businessID string) ([]*types.DimensionRecord, error)

	// ListCurrent returns the current record of every business id.
	ListCurrent(ctx context.Context, dim types.Dimension) ([]*types.DimensionRecord, error)
}

// FactStore appends and lists immutable fact rows.
type FactStore interface {
	// AppendFact stores f. Dimension references are not checked.
	AppendFact(ctx context.Context, f *types.FactRecord) error

	// ListFacts returns up to limit facts of kind, newest first. A
	// non-positive limit returns all facts.
	ListFacts(ctx context.Context, kind types.FactKind, limit int) ([]*types.FactRecord, error)
}

// Store is the full warehouse contract.
type Store interface {
	DimensionStore
	FactStore

	// Integrity reports orphan fact references and products whose vendor
	// has no dimension record.
	Integrity(ctx context.Context) (*types.IntegrityReport, error)

	// Close releases the store's resources.
	Close() error
}
