package types

import "time"

// Customer is the buyer embedded in an order event.
type Customer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
	City    string `json:"city"`
	Country string `json:"country"`
}

// OrderItem is one line of an order. It carries the product and vendor
// attributes that feed the product dimension.
type OrderItem struct {
	ProductID string     `json:"product_id"`
	Quantity  float64    `json:"quantity"`
	UnitPrice float64    `json:"unit_price"`
	VendorID  string     `json:"vendor_id"`
	Product   Attributes `json:"product"`
}

// OrderEvent is a validated event from the orders stream.
type OrderEvent struct {
	EventID     string      `json:"event_id"`
	OrderID     string      `json:"order_id"`
	Customer    Customer    `json:"customer"`
	Items       []OrderItem `json:"items"`
	TotalAmount float64     `json:"total_amount"`
	Currency    string      `json:"currency"`
	Status      string      `json:"status"`
	Source      string      `json:"source"`
}

// ClickEvent is a validated event from the clickstream stream. UserID is nil
// for anonymous sessions.
type ClickEvent struct {
	EventID   string  `json:"event_id"`
	SessionID string  `json:"session_id"`
	UserID    *string `json:"user_id"`
	URL       string  `json:"url"`
	EventType string  `json:"event_type"`
}

// DimensionEvent is a validated dimension-bearing event.
type DimensionEvent struct {
	Dimension  Dimension  `json:"dimension"`
	BusinessID string     `json:"business_id"`
	Attributes Attributes `json:"attributes"`
}

// Event is a classified, valid event. Exactly one of Order, Click or
// Dimension is set, according to Stream.
type Event struct {
	Stream     StreamKind
	ObservedAt time.Time
	Marker     string
	Raw        []byte

	Order     *OrderEvent
	Click     *ClickEvent
	Dimension *DimensionEvent
}
