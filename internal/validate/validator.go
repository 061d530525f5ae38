// Package validate classifies raw stream events as valid or invalid against a
// fixed per-stream schema. Only structural and required-field checks are made;
// business rules (price ranges, category membership) are out of its remit.
package validate

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	engerrors "github.com/shopnow/streamwh/internal/errors"
	"github.com/shopnow/streamwh/pkg/types"
)

// Reasons attached to invalid events.
const (
	ReasonParseError    = "parse_error"
	ReasonUnknownStream = "unknown_stream"
	missingFieldPrefix  = "missing_field:"
)

// DefaultMarkerFields are the payload fields searched for a correlation marker.
var DefaultMarkerFields = []string{"test_marker", "correlation_id"}

// MissingField returns the reason for an absent required field.
func MissingField(name string) string {
	return missingFieldPrefix + name
}

// Result is the classification of one raw event.
type Result struct {
	Valid  bool
	Event  *types.Event
	Reason string
	Marker string
	Raw    []byte
	Err    error
}

// Validator classifies raw events. It holds no mutable state and is safe for
// concurrent use.
type Validator struct {
	markerFields []string
}

// New creates a validator that extracts correlation markers from the given
// payload fields, in order of preference.
func New(markerFields []string) *Validator {
	if len(markerFields) == 0 {
		markerFields = DefaultMarkerFields
	}
	return &Validator{markerFields: markerFields}
}

// Classify validates raw against the schema of stream. arrivedAt is used as
// the event time when the payload carries no timestamp.
func (v *Validator) Classify(stream types.StreamKind, raw []byte, arrivedAt time.Time) Result {
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return invalid(raw, "", ReasonParseError,
			engerrors.Wrap(engerrors.ErrCategoryValidation, engerrors.CodeParseError, "payload is not valid JSON", err))
	}
	payload, ok := decoded.(map[string]interface{})
	if !ok {
		return invalid(raw, "", ReasonParseError,
			engerrors.NewValidationError(engerrors.CodeParseError, "payload is not a JSON object"))
	}

	marker := markerFrom(payload, v.markerFields)
	event := &types.Event{
		Stream:     stream,
		ObservedAt: eventTime(payload, arrivedAt),
		Marker:     marker,
		Raw:        raw,
	}

	var field string
	var err error
	switch stream {
	case types.StreamOrders:
		event.Order, field, err = parseOrder(payload)
	case types.StreamClickstream:
		event.Click, field = parseClick(payload)
	case types.StreamVendors:
		event.Dimension, field = parseDimension(payload, types.DimensionVendor, "vendor_id", VendorAttributes)
	case types.StreamProducts:
		event.Dimension, field = parseDimension(payload, types.DimensionProduct, "product_id", ProductAttributes)
	default:
		return invalid(raw, marker, ReasonUnknownStream,
			engerrors.NewValidationError(engerrors.CodeUnknownStream, fmt.Sprintf("unknown stream %q", stream)))
	}

	if err != nil {
		return invalid(raw, marker, ReasonParseError, err)
	}
	if field != "" {
		return invalid(raw, marker, MissingField(field),
			engerrors.NewValidationError(engerrors.CodeMissingField, field+" is required").
				WithDetails(map[string]interface{}{"field": field}))
	}

	return Result{Valid: true, Event: event, Marker: marker, Raw: raw}
}

func invalid(raw []byte, marker, reason string, err error) Result {
	return Result{Reason: reason, Marker: marker, Raw: raw, Err: err}
}

// parseOrder returns the order, the name of a missing required field, or a
// structural error.
func parseOrder(p map[string]interface{}) (*types.OrderEvent, string, error) {
	orderID, ok := requiredString(p, "order_id")
	if !ok {
		return nil, "order_id", nil
	}

	order := &types.OrderEvent{
		EventID:     optString(p, "event_id"),
		OrderID:     orderID,
		TotalAmount: optFloat(p, "total_amount"),
		Currency:    optString(p, "currency"),
		Status:      optString(p, "status"),
		Source:      optString(p, "source"),
	}

	if raw, present := p["customer"]; present && raw != nil {
		c, ok := raw.(map[string]interface{})
		if !ok {
			return nil, "", shapeError("customer must be an object")
		}
		order.Customer = types.Customer{
			ID:      optString(c, "id"),
			Name:    optString(c, "name"),
			Email:   optString(c, "email"),
			Address: optString(c, "address"),
			City:    optString(c, "city"),
			Country: optString(c, "country"),
		}
	}

	if raw, present := p["items"]; present && raw != nil {
		list, ok := raw.([]interface{})
		if !ok {
			return nil, "", shapeError("items must be an array")
		}
		for i, el := range list {
			item, ok := el.(map[string]interface{})
			if !ok {
				return nil, "", shapeError(fmt.Sprintf("items[%d] must be an object", i))
			}
			unitPrice := optFloat(item, "unit_price")
			if _, has := item["unit_price"]; !has {
				unitPrice = optFloat(item, "price")
			}
			order.Items = append(order.Items, types.OrderItem{
				ProductID: optString(item, "product_id"),
				Quantity:  optFloat(item, "quantity"),
				UnitPrice: unitPrice,
				VendorID:  optString(item, "vendor_id"),
				Product:   ProductAttributes(item),
			})
		}
	}

	return order, "", nil
}

func parseClick(p map[string]interface{}) (*types.ClickEvent, string) {
	sessionID, ok := requiredString(p, "session_id")
	if !ok {
		return nil, "session_id"
	}
	click := &types.ClickEvent{
		EventID:   optString(p, "event_id"),
		SessionID: sessionID,
		URL:       optString(p, "url"),
		EventType: optString(p, "event_type"),
	}
	if uid, ok := p["user_id"].(string); ok {
		click.UserID = &uid
	}
	return click, ""
}

func parseDimension(p map[string]interface{}, dim types.Dimension, idField string, attrs func(map[string]interface{}) types.Attributes) (*types.DimensionEvent, string) {
	id, ok := requiredString(p, idField)
	if !ok {
		return nil, idField
	}
	return &types.DimensionEvent{
		Dimension:  dim,
		BusinessID: id,
		Attributes: attrs(p),
	}, ""
}

// VendorAttributes extracts the versioned vendor field set, applying defaults.
func VendorAttributes(p map[string]interface{}) types.Attributes {
	status := optString(p, "vendor_status")
	if status == "" {
		status = "active"
	}
	return types.Attributes{
		{Name: "vendor_name", Value: optString(p, "vendor_name")},
		{Name: "vendor_status", Value: status},
		{Name: "vendor_category", Value: optString(p, "vendor_category")},
		{Name: "vendor_email", Value: optString(p, "vendor_email")},
		{Name: "commission_rate", Value: optFloat(p, "commission_rate")},
	}
}

// ProductAttributes extracts the versioned product field set, applying
// defaults. Order lines carry "price" or only "unit_price"; either is used.
func ProductAttributes(p map[string]interface{}) types.Attributes {
	price := optFloat(p, "price")
	if _, has := p["price"]; !has {
		price = optFloat(p, "unit_price")
	}
	return types.Attributes{
		{Name: "name", Value: optString(p, "name")},
		{Name: "category", Value: optString(p, "category")},
		{Name: "description", Value: optString(p, "description")},
		{Name: "price", Value: price},
		{Name: "vendor_id", Value: optString(p, "vendor_id")},
	}
}

// ExtractMarker returns the correlation marker of a raw payload, or "" when the
// payload does not parse or carries none.
func ExtractMarker(raw []byte, fields []string) string {
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	return markerFrom(payload, fields)
}

func markerFrom(p map[string]interface{}, fields []string) string {
	for _, f := range fields {
		switch v := p[f].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// eventTime reads the payload timestamp: unix seconds (integer or fractional)
// or an RFC 3339 string. Anything else falls back to the arrival time.
func eventTime(p map[string]interface{}, fallback time.Time) time.Time {
	switch v := p["timestamp"].(type) {
	case float64:
		if v > 0 && !math.IsInf(v, 0) {
			sec, frac := math.Modf(v)
			return time.Unix(int64(sec), int64(frac*1e9)).UTC()
		}
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UTC()
		}
	}
	return fallback.UTC()
}

func requiredString(p map[string]interface{}, name string) (string, bool) {
	s, ok := p[name].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

func optString(p map[string]interface{}, name string) string {
	s, _ := p[name].(string)
	return s
}

func optFloat(p map[string]interface{}, name string) float64 {
	f, _ := p[name].(float64)
	return f
}

func shapeError(msg string) error {
	return engerrors.NewValidationError(engerrors.CodeParseError, msg)
}
