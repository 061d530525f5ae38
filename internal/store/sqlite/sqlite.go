// Package sqlite implements store.Store on a SQLite database.
//
// Every dimension table carries a partial unique index on business_id where
// is_current = 1, so the store itself rejects a second current version even
// if callers fail to serialize. Compare-and-swap failures and unique
// violations surface as SYNC/CONCURRENCY_CONFLICT.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/mattn/go-sqlite3"
	engerrors "github.com/shopnow/streamwh/internal/errors"
	"github.com/shopnow/streamwh/internal/store"
	"github.com/shopnow/streamwh/pkg/types"
)

var _ store.Store = (*Store)(nil)

// Store is a SQLite-backed warehouse.
type Store struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool
	path   string
	mu     sync.Mutex // Write-only lock
}

// Open opens or creates the warehouse database at path and initializes its
// schema. The special path ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path == ":memory:" {
		db, err := sql.Open("sqlite3", "file::memory:?_busy_timeout=5000")
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		s := &Store{db: db, readDB: db, path: path}
		if err := s.initSchema(); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: failed to initialize schema: %w", err)
		}
		return s, nil
	}

	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to initialize schema: %w", err)
	}

	// Read pool opened after the schema exists
	readDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_query_only=true")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	s.readDB = readDB

	return s, nil
}

// initSchema creates all tables and indexes.
func (s *Store) initSchema() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes both connection pools.
func (s *Store) Close() error {
	var readErr error
	if s.readDB != s.db {
		readErr = s.readDB.Close()
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	return readErr
}

const dimensionColumns = "surrogate_key, business_id, attributes, valid_from, valid_to, is_current"

func checkDimension(dim types.Dimension) error {
	for _, d := range types.AllDimensions {
		if d == dim {
			return nil
		}
	}
	return engerrors.NewStoreError(engerrors.CodeUnknownDimension, fmt.Sprintf("unknown dimension %q", dim), nil)
}

// Current returns the current record for businessID, or nil.
func (s *Store) Current(ctx context.Context, dim types.Dimension, businessID string) (*types.DimensionRecord, error) {
	if err := checkDimension(dim); err != nil {
		return nil, err
	}
	row := s.readDB.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE business_id = ? AND is_current = 1", dimensionColumns, dim.Table()),
		businessID)
	rec, err := scanDimension(dim, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, readError(fmt.Sprintf("current %s %s", dim, businessID), err)
	}
	return rec, nil
}

// Insert stores rec as the first open version of its business id. The
// partial unique index turns a racing insert into a conflict.
func (s *Store) Insert(ctx context.Context, rec *types.DimensionRecord) (*types.DimensionRecord, error) {
	if err := checkDimension(rec.Dimension); err != nil {
		return nil, err
	}
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return nil, writeError("encode attributes", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (business_id, attributes, valid_from, valid_to, is_current) VALUES (?, ?, ?, NULL, 1)", rec.Dimension.Table()),
		rec.BusinessID, string(attrs), rec.ValidFrom.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, engerrors.NewConflictError(fmt.Sprintf("%s %s already has a current record", rec.Dimension, rec.BusinessID))
		}
		return nil, writeError(fmt.Sprintf("insert %s %s", rec.Dimension, rec.BusinessID), err)
	}
	key, err := res.LastInsertId()
	if err != nil {
		return nil, writeError("read surrogate key", err)
	}

	return opened(rec, key), nil
}

// Supersede closes prev at next.ValidFrom and inserts next in one transaction.
func (s *Store) Supersede(ctx context.Context, prev, next *types.DimensionRecord) (*types.DimensionRecord, error) {
	if err := checkDimension(next.Dimension); err != nil {
		return nil, err
	}
	attrs, err := json.Marshal(next.Attributes)
	if err != nil {
		return nil, writeError("encode attributes", err)
	}
	table := next.Dimension.Table()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, writeError("begin transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET valid_to = ?, is_current = 0 WHERE surrogate_key = ? AND business_id = ? AND is_current = 1", table),
		next.ValidFrom.UnixNano(), prev.SurrogateKey, next.BusinessID)
	if err != nil {
		return nil, writeError(fmt.Sprintf("close %s %d", next.Dimension, prev.SurrogateKey), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, writeError("rows affected", err)
	}
	if n != 1 {
		return nil, engerrors.NewConflictError(fmt.Sprintf("%s %s: record %d is no longer current", next.Dimension, next.BusinessID, prev.SurrogateKey))
	}

	res, err = tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (business_id, attributes, valid_from, valid_to, is_current) VALUES (?, ?, ?, NULL, 1)", table),
		next.BusinessID, string(attrs), next.ValidFrom.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, engerrors.NewConflictError(fmt.Sprintf("%s %s already has a current record", next.Dimension, next.BusinessID))
		}
		return nil, writeError(fmt.Sprintf("insert %s %s", next.Dimension, next.BusinessID), err)
	}
	key, err := res.LastInsertId()
	if err != nil {
		return nil, writeError("read surrogate key", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, writeError("commit transaction", err)
	}

	return opened(next, key), nil
}

// History returns every version of businessID in timeline order.
func (s *Store) History(ctx context.Context, dim types.Dimension, businessID string) ([]*types.DimensionRecord, error) {
	if err := checkDimension(dim); err != nil {
		return nil, err
	}
	rows, err := s.readDB.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE business_id = ? ORDER BY valid_from, surrogate_key", dimensionColumns, dim.Table()),
		businessID)
	if err != nil {
		return nil, readError(fmt.Sprintf("history %s %s", dim, businessID), err)
	}
	return collectDimensions(dim, rows)
}

// ListCurrent returns the current record of every business id, ordered by id.
func (s *Store) ListCurrent(ctx context.Context, dim types.Dimension) ([]*types.DimensionRecord, error) {
	if err := checkDimension(dim); err != nil {
		return nil, err
	}
	rows, err := s.readDB.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE is_current = 1 ORDER BY business_id", dimensionColumns, dim.Table()))
	if err != nil {
		return nil, readError(fmt.Sprintf("list current %s", dim), err)
	}
	return collectDimensions(dim, rows)
}

// AppendFact stores f with its fields compressed.
func (s *Store) AppendFact(ctx context.Context, f *types.FactRecord) error {
	data, err := json.Marshal(f.Fields)
	if err != nil {
		return writeError("encode fact fields", err)
	}
	compressed := snappy.Encode(nil, data)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (fact_id, event_time, written_at, vendor_ref, product_ref, fields) VALUES (?, ?, ?, ?, ?, ?)", f.Kind.Table()),
		f.FactID, f.EventTime.UnixNano(), f.WrittenAt.UnixNano(),
		nullString(f.Refs[types.DimensionVendor]), nullString(f.Refs[types.DimensionProduct]),
		compressed)
	if err != nil {
		return writeError(fmt.Sprintf("append %s fact %s", f.Kind, f.FactID), err)
	}
	return nil
}

// ListFacts returns up to limit facts of kind, newest first.
func (s *Store) ListFacts(ctx context.Context, kind types.FactKind, limit int) ([]*types.FactRecord, error) {
	query := fmt.Sprintf("SELECT fact_id, event_time, written_at, vendor_ref, product_ref, fields FROM %s ORDER BY rowid DESC", kind.Table())
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, readError(fmt.Sprintf("list %s facts", kind), err)
	}
	defer rows.Close()

	var facts []*types.FactRecord
	for rows.Next() {
		var (
			f                  = &types.FactRecord{Kind: kind, Refs: map[types.Dimension]string{}}
			eventTime, written int64
			vendorRef, prodRef sql.NullString
			compressed         []byte
		)
		if err := rows.Scan(&f.FactID, &eventTime, &written, &vendorRef, &prodRef, &compressed); err != nil {
			return nil, readError("scan fact", err)
		}
		f.EventTime = time.Unix(0, eventTime).UTC()
		f.WrittenAt = time.Unix(0, written).UTC()
		if vendorRef.Valid {
			f.Refs[types.DimensionVendor] = vendorRef.String
		}
		if prodRef.Valid {
			f.Refs[types.DimensionProduct] = prodRef.String
		}
		data, err := snappy.Decode(nil, compressed)
		if err != nil {
			return nil, readError(fmt.Sprintf("decompress fact %s", f.FactID), err)
		}
		if err := json.Unmarshal(data, &f.Fields); err != nil {
			return nil, readError(fmt.Sprintf("decode fact %s", f.FactID), err)
		}
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, readError("iterate facts", err)
	}
	return facts, nil
}

// Integrity runs the orphan-reference and unknown-vendor queries.
func (s *Store) Integrity(ctx context.Context) (*types.IntegrityReport, error) {
	report := &types.IntegrityReport{
		CheckedAt:             time.Now().UTC(),
		OrphanFacts:           []types.OrphanRef{},
		UnknownVendorProducts: []types.UnknownVendorProduct{},
	}

	for _, kind := range types.AllFactKinds {
		for _, dim := range types.AllDimensions {
			col := refColumn(dim)
			rows, err := s.readDB.QueryContext(ctx, fmt.Sprintf(`
				SELECT f.fact_id, f.%[1]s FROM %[2]s f
				WHERE f.%[1]s IS NOT NULL AND f.%[1]s <> ''
				  AND NOT EXISTS (SELECT 1 FROM %[3]s d WHERE d.business_id = f.%[1]s AND d.is_current = 1)
				ORDER BY f.rowid`, col, kind.Table(), dim.Table()))
			if err != nil {
				return nil, readError("orphan query", err)
			}
			for rows.Next() {
				ref := types.OrphanRef{Kind: kind, Dimension: dim}
				if err := rows.Scan(&ref.FactID, &ref.BusinessID); err != nil {
					rows.Close()
					return nil, readError("scan orphan", err)
				}
				report.OrphanFacts = append(report.OrphanFacts, ref)
			}
			err = rows.Err()
			rows.Close()
			if err != nil {
				return nil, readError("iterate orphans", err)
			}
		}
	}

	rows, err := s.readDB.QueryContext(ctx, `
		SELECT p.business_id, CAST(json_extract(p.attributes, '$.vendor_id') AS TEXT) AS vendor_id
		FROM dim_product p
		WHERE p.is_current = 1
		  AND COALESCE(json_extract(p.attributes, '$.vendor_id'), '') <> ''
		  AND NOT EXISTS (
		    SELECT 1 FROM dim_vendor v
		    WHERE v.business_id = CAST(json_extract(p.attributes, '$.vendor_id') AS TEXT) AND v.is_current = 1)
		ORDER BY p.business_id`)
	if err != nil {
		return nil, readError("unknown vendor query", err)
	}
	defer rows.Close()
	for rows.Next() {
		var u types.UnknownVendorProduct
		if err := rows.Scan(&u.ProductID, &u.VendorID); err != nil {
			return nil, readError("scan unknown vendor", err)
		}
		report.UnknownVendorProducts = append(report.UnknownVendorProducts, u)
	}
	if err := rows.Err(); err != nil {
		return nil, readError("iterate unknown vendors", err)
	}

	return report, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDimension(dim types.Dimension, row rowScanner) (*types.DimensionRecord, error) {
	var (
		rec       = &types.DimensionRecord{Dimension: dim}
		attrs     string
		validFrom int64
		validTo   sql.NullInt64
		isCurrent int
	)
	if err := row.Scan(&rec.SurrogateKey, &rec.BusinessID, &attrs, &validFrom, &validTo, &isCurrent); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attrs), &rec.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes of %s %d: %w", dim, rec.SurrogateKey, err)
	}
	rec.ValidFrom = time.Unix(0, validFrom).UTC()
	if validTo.Valid {
		t := time.Unix(0, validTo.Int64).UTC()
		rec.ValidTo = &t
	}
	rec.IsCurrent = isCurrent == 1
	return rec, nil
}

func collectDimensions(dim types.Dimension, rows *sql.Rows) ([]*types.DimensionRecord, error) {
	defer rows.Close()
	var out []*types.DimensionRecord
	for rows.Next() {
		rec, err := scanDimension(dim, rows)
		if err != nil {
			return nil, readError("scan dimension", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, readError("iterate dimensions", err)
	}
	return out, nil
}

func opened(rec *types.DimensionRecord, key int64) *types.DimensionRecord {
	out := rec.Clone()
	out.SurrogateKey = key
	out.ValidFrom = rec.ValidFrom.UTC()
	out.ValidTo = nil
	out.IsCurrent = true
	return out
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isBusy reports whether another connection held the lock past the busy
// timeout. The operation may succeed when repeated.
func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

func readError(op string, err error) error {
	if isBusy(err) {
		return engerrors.NewStoreError(engerrors.CodeStoreBusy, op, err)
	}
	return engerrors.NewStoreError(engerrors.CodeReadFailed, op, err)
}

func writeError(op string, err error) error {
	if isBusy(err) {
		return engerrors.NewStoreError(engerrors.CodeStoreBusy, op, err)
	}
	return engerrors.NewStoreError(engerrors.CodeWriteFailed, op, err)
}
