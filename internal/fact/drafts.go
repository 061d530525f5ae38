package fact

import "github.com/shopnow/streamwh/pkg/types"

// Draft is a fact before it has an id and a write time.
type Draft struct {
	Kind   types.FactKind
	Fields map[string]interface{}
	Refs   map[types.Dimension]string
}

// OrderLines returns one order_line draft per item. An order without items
// still yields a single draft with line_number 0 and no product reference,
// so that every accepted order is visible in the fact table.
func OrderLines(o *types.OrderEvent) []Draft {
	if len(o.Items) == 0 {
		return []Draft{{
			Kind:   types.FactOrderLine,
			Fields: orderFields(o, 0),
			Refs:   map[types.Dimension]string{},
		}}
	}

	drafts := make([]Draft, 0, len(o.Items))
	for i, item := range o.Items {
		fields := orderFields(o, i+1)
		fields["product_id"] = item.ProductID
		fields["vendor_id"] = item.VendorID
		fields["quantity"] = item.Quantity
		fields["unit_price"] = item.UnitPrice
		fields["line_amount"] = item.Quantity * item.UnitPrice

		drafts = append(drafts, Draft{
			Kind:   types.FactOrderLine,
			Fields: fields,
			Refs: map[types.Dimension]string{
				types.DimensionVendor:  item.VendorID,
				types.DimensionProduct: item.ProductID,
			},
		})
	}
	return drafts
}

func orderFields(o *types.OrderEvent, line int) map[string]interface{} {
	return map[string]interface{}{
		"event_id":         o.EventID,
		"order_id":         o.OrderID,
		"line_number":      line,
		"customer_id":      o.Customer.ID,
		"customer_name":    o.Customer.Name,
		"customer_city":    o.Customer.City,
		"customer_country": o.Customer.Country,
		"total_amount":     o.TotalAmount,
		"currency":         o.Currency,
		"status":           o.Status,
		"source":           o.Source,
	}
}

// Click returns the clickstream draft for c. Anonymous sessions keep a null
// user_id.
func Click(c *types.ClickEvent) Draft {
	var userID interface{}
	if c.UserID != nil {
		userID = *c.UserID
	}
	return Draft{
		Kind: types.FactClick,
		Fields: map[string]interface{}{
			"event_id":   c.EventID,
			"session_id": c.SessionID,
			"user_id":    userID,
			"url":        c.URL,
			"event_type": c.EventType,
		},
		Refs: map[types.Dimension]string{},
	}
}
