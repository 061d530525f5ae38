package types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

// FactRecord is an immutable fact row. Dimension references hold business ids,
// never surrogate keys; readers resolve them against the current version.
type FactRecord struct {
	FactID    string                 `json:"fact_id"`
	Kind      FactKind               `json:"kind"`
	EventTime time.Time              `json:"event_time"`
	WrittenAt time.Time              `json:"written_at"`
	Fields    map[string]interface{} `json:"fields"`
	Refs      map[Dimension]string   `json:"refs"`
}

// VendorRef returns the vendor the fact is attributed to, if any.
func (f *FactRecord) VendorRef() string {
	return f.Refs[DimensionVendor]
}

// ResolvedFact is a fact joined to the current version of each referenced
// dimension. A missing entry in Dimensions marks an orphan reference.
type ResolvedFact struct {
	Fact       *FactRecord                    `json:"fact"`
	Dimensions map[Dimension]*DimensionRecord `json:"dimensions"`
}

// VendorRef returns the vendor of the underlying fact.
func (r *ResolvedFact) VendorRef() string {
	return r.Fact.VendorRef()
}

// PayloadBase64 marks a quarantine payload stored as base64 because it is
// not valid UTF-8.
const PayloadBase64 = "base64"

// QuarantineRecord is one invalid event diverted to the quarantine sink.
// Payload holds the original bytes exactly as received.
//
// In JSON the payload is a string when it is valid UTF-8. Other payloads are
// base64 encoded and tagged with payload_encoding, so decoding always yields
// the original bytes.
type QuarantineRecord struct {
	Stream    StreamKind `json:"stream"`
	Reason    string     `json:"reason"`
	ArrivedAt time.Time  `json:"arrived_at"`
	Marker    string     `json:"marker,omitempty"`
	Payload   string     `json:"payload"`
}

type quarantineJSON struct {
	Stream          StreamKind `json:"stream"`
	Reason          string     `json:"reason"`
	ArrivedAt       time.Time  `json:"arrived_at"`
	Marker          string     `json:"marker,omitempty"`
	Payload         string     `json:"payload"`
	PayloadEncoding string     `json:"payload_encoding,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (q QuarantineRecord) MarshalJSON() ([]byte, error) {
	out := quarantineJSON{
		Stream:    q.Stream,
		Reason:    q.Reason,
		ArrivedAt: q.ArrivedAt,
		Marker:    q.Marker,
		Payload:   q.Payload,
	}
	if !utf8.ValidString(q.Payload) {
		out.Payload = base64.StdEncoding.EncodeToString([]byte(q.Payload))
		out.PayloadEncoding = PayloadBase64
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (q *QuarantineRecord) UnmarshalJSON(data []byte) error {
	var in quarantineJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	payload := in.Payload
	switch in.PayloadEncoding {
	case "":
	case PayloadBase64:
		raw, err := base64.StdEncoding.DecodeString(in.Payload)
		if err != nil {
			return fmt.Errorf("decode quarantine payload: %w", err)
		}
		payload = string(raw)
	default:
		return fmt.Errorf("unknown payload encoding %q", in.PayloadEncoding)
	}
	*q = QuarantineRecord{
		Stream:    in.Stream,
		Reason:    in.Reason,
		ArrivedAt: in.ArrivedAt,
		Marker:    in.Marker,
		Payload:   payload,
	}
	return nil
}
