package sqlite

import (
	"fmt"

	"github.com/shopnow/streamwh/pkg/types"
)

// dimensionTableSQL creates a versioned dimension table. Attributes are kept
// as an ordered JSON object so the versioned field set can evolve without DDL.
func dimensionTableSQL(dim types.Dimension) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    surrogate_key INTEGER PRIMARY KEY AUTOINCREMENT,
    business_id TEXT NOT NULL,
    attributes TEXT NOT NULL,
    valid_from INTEGER NOT NULL,
    valid_to INTEGER,
    is_current INTEGER NOT NULL DEFAULT 1 CHECK (is_current IN (0, 1))
)`, dim.Table())
}

// dimensionIndexesSQL creates the lookup index and the partial unique index
// that forbids two current versions of one business id.
func dimensionIndexesSQL(dim types.Dimension) []string {
	table := dim.Table()
	return []string{
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS ux_%s_current ON %s(business_id)
		WHERE is_current = 1`, table, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_timeline ON %s(business_id, valid_from, surrogate_key)`, table, table),
	}
}

// factTableSQL creates an append-only fact table. Dimension references are
// plain business ids; fields is snappy-compressed JSON.
func factTableSQL(kind types.FactKind) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    fact_id TEXT PRIMARY KEY,
    event_time INTEGER NOT NULL,
    written_at INTEGER NOT NULL,
    vendor_ref TEXT,
    product_ref TEXT,
    fields BLOB NOT NULL
)`, kind.Table())
}

func factIndexesSQL(kind types.FactKind) []string {
	table := kind.Table()
	return []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_vendor ON %s(vendor_ref)`, table, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_event_time ON %s(event_time)`, table, table),
	}
}

// AllSchemaSQL returns every statement needed to initialize a warehouse
// database, in execution order.
func AllSchemaSQL() []string {
	var stmts []string
	for _, dim := range types.AllDimensions {
		stmts = append(stmts, dimensionTableSQL(dim))
		stmts = append(stmts, dimensionIndexesSQL(dim)...)
	}
	for _, kind := range types.AllFactKinds {
		stmts = append(stmts, factTableSQL(kind))
		stmts = append(stmts, factIndexesSQL(kind)...)
	}
	return stmts
}

// refColumn maps a dimension to its reference column in fact tables.
func refColumn(dim types.Dimension) string {
	return string(dim) + "_ref"
}
