package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// Attribute is a single versioned dimension field.
type Attribute struct {
	Name  string
	Value interface{}
}

// Attributes is an ordered mapping of versioned fields. It marshals to a JSON
// object whose keys keep their declared order.
type Attributes []Attribute

// Get returns the value stored under name.
func (a Attributes) Get(name string) (interface{}, bool) {
	for _, attr := range a {
		if attr.Name == name {
			return attr.Value, true
		}
	}
	return nil, false
}

// String returns the value under name if it is a string, or "".
func (a Attributes) String(name string) string {
	v, _ := a.Get(name)
	s, _ := v.(string)
	return s
}

// Float returns the value under name if it is numeric, or 0.
func (a Attributes) Float(name string) float64 {
	v, _ := a.Get(name)
	f, _ := normalizeValue(v).(float64)
	return f
}

// Equal reports structural equality over the versioned field set. Field order
// is irrelevant; numeric values compare as float64.
func (a Attributes) Equal(b Attributes) bool {
	if len(a) != len(b) {
		return false
	}
	for _, attr := range a {
		other, ok := b.Get(attr.Name)
		if !ok {
			return false
		}
		if !reflect.DeepEqual(normalizeValue(attr.Value), normalizeValue(other)) {
			return false
		}
	}
	return true
}

// Clone returns a copy that shares no slice storage with a.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	copy(out, a)
	return out
}

// MarshalJSON encodes the attributes as an ordered JSON object.
func (a Attributes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, attr := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(attr.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(attr.Value)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", attr.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping key order.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*a = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("attributes: expected object, got %v", tok)
	}

	out := Attributes{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("attributes: expected string key, got %v", keyTok)
		}
		var val interface{}
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("attributes: value for %q: %w", key, err)
		}
		out = append(out, Attribute{Name: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*a = out
	return nil
}

// normalizeValue widens integer kinds to float64 so that values read back
// from storage compare equal to values decoded from JSON.
func normalizeValue(v interface{}) interface{} {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	default:
		return v
	}
}

// DimensionRecord is one version of a dimension member.
type DimensionRecord struct {
	SurrogateKey int64      `json:"surrogate_key"`
	Dimension    Dimension  `json:"dimension"`
	BusinessID   string     `json:"business_id"`
	Attributes   Attributes `json:"attributes"`
	ValidFrom    time.Time  `json:"valid_from"`
	ValidTo      *time.Time `json:"valid_to"`
	IsCurrent    bool       `json:"is_current"`
}

// VendorRef returns the vendor identity that owns the record: the business id
// for vendors, the vendor_id attribute for products.
func (r *DimensionRecord) VendorRef() string {
	if r.Dimension == DimensionVendor {
		return r.BusinessID
	}
	return r.Attributes.String("vendor_id")
}

// SyncResult is the outcome of synchronizing one dimension event.
type SyncResult string

const (
	SyncInserted   SyncResult = "inserted"
	SyncHistorized SyncResult = "historized"
	SyncNoOp       SyncResult = "noop"
)

// Clone returns a deep copy of r.
func (r *DimensionRecord) Clone() *DimensionRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Attributes = r.Attributes.Clone()
	if r.ValidTo != nil {
		t := *r.ValidTo
		out.ValidTo = &t
	}
	return &out
}
