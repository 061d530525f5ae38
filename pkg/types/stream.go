// Package types provides the core data types shared by the streamwh engine:
// stream and dimension names, versioned dimension records, fact rows and
// quarantine records.
package types

import "fmt"

// StreamKind names an ingress stream.
type StreamKind string

const (
	StreamOrders      StreamKind = "orders"
	StreamClickstream StreamKind = "clickstream"
	StreamVendors     StreamKind = "vendors"
	StreamProducts    StreamKind = "products"
)

// AllStreams lists every stream the engine accepts.
var AllStreams = []StreamKind{StreamOrders, StreamClickstream, StreamVendors, StreamProducts}

// ParseStreamKind resolves a stream name.
func ParseStreamKind(s string) (StreamKind, error) {
	for _, k := range AllStreams {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown stream %q", s)
}

// Dimension names a slowly changing dimension.
type Dimension string

const (
	DimensionVendor  Dimension = "vendor"
	DimensionProduct Dimension = "product"
)

// AllDimensions lists the dimensions the engine historizes.
var AllDimensions = []Dimension{DimensionVendor, DimensionProduct}

// ParseDimension resolves a dimension name.
func ParseDimension(s string) (Dimension, error) {
	for _, d := range AllDimensions {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown dimension %q", s)
}

// Table returns the warehouse table backing the dimension.
func (d Dimension) Table() string {
	return "dim_" + string(d)
}

// FactKind names a fact table.
type FactKind string

const (
	FactOrderLine FactKind = "order_line"
	FactClick     FactKind = "click"
)

// AllFactKinds lists the fact tables the engine appends to.
var AllFactKinds = []FactKind{FactOrderLine, FactClick}

// ParseFactKind resolves a fact kind name.
func ParseFactKind(s string) (FactKind, error) {
	for _, k := range AllFactKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown fact kind %q", s)
}

// Table returns the warehouse table backing the fact kind.
func (k FactKind) Table() string {
	switch k {
	case FactOrderLine:
		return "fact_order"
	case FactClick:
		return "fact_clickstream"
	default:
		return "fact_" + string(k)
	}
}
