package types

import "time"

// OrphanRef is a fact whose dimension reference has no current record.
type OrphanRef struct {
	FactID     string    `json:"fact_id"`
	Kind       FactKind  `json:"kind"`
	Dimension  Dimension `json:"dimension"`
	BusinessID string    `json:"business_id"`
}

// UnknownVendorProduct is a current product whose vendor_id names no vendor.
type UnknownVendorProduct struct {
	ProductID string `json:"product_id"`
	VendorID  string `json:"vendor_id"`
}

// IntegrityReport lists referential gaps between facts and dimensions. Gaps
// are expected while dimension events lag behind facts; the report only
// surfaces them.
type IntegrityReport struct {
	CheckedAt             time.Time              `json:"checked_at"`
	OrphanFacts           []OrphanRef            `json:"orphan_facts"`
	UnknownVendorProducts []UnknownVendorProduct `json:"unknown_vendor_products"`
}

// Clean reports whether no gaps were found.
func (r *IntegrityReport) Clean() bool {
	return len(r.OrphanFacts) == 0 && len(r.UnknownVendorProducts) == 0
}
