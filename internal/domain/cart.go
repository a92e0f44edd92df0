package domain

// CartLineItem is a read-only line from the external cart store.
type CartLineItem struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	// Discount is a per-unit reduction already granted on the line.
	Discount int64 `json:"discount,omitempty"`
	Selected bool  `json:"selected"`
}

// LineTotal returns quantity * unit price before discounts.
func (l CartLineItem) LineTotal() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// LineDiscount returns the total discount on the line.
func (l CartLineItem) LineDiscount() int64 {
	if l.Discount <= 0 {
		return 0
	}
	return l.Discount * int64(l.Quantity)
}

// CartSnapshot is the immutable view of a cart for one checkout session.
type CartSnapshot struct {
	Currency string         `json:"currency"`
	Items    []CartLineItem `json:"items"`
}

// Selected returns the selected subset of line items with a positive quantity.
func (c CartSnapshot) Selected() []CartLineItem {
	out := make([]CartLineItem, 0, len(c.Items))
	for _, item := range c.Items {
		if item.Selected && item.Quantity > 0 {
			out = append(out, item)
		}
	}
	return out
}

// ItemCount sums quantities across the selected items.
func (c CartSnapshot) ItemCount() int {
	n := 0
	for _, item := range c.Selected() {
		n += item.Quantity
	}
	return n
}
