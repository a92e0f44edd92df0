// Package pricing computes checkout totals from a cart snapshot.
package pricing

import "storefront-checkout/internal/domain"

// Adjustments are the order-level reductions and fees a Policy grants.
// All values are non-negative magnitudes.
type Adjustments struct {
	Discount int64
	Credit   int64
	Shipping int64
}

// Policy decides discounts, store credit and shipping for a cart.
type Policy interface {
	Adjust(cart domain.CartSnapshot, method domain.ShippingMethod) Adjustments
}

// FixedPolicy applies configured flat amounts to every order.
type FixedPolicy struct {
	PromoDiscount    int64
	StoreCredit      int64
	StandardShipping int64
	PickupShipping   int64
}

func (p FixedPolicy) Adjust(_ domain.CartSnapshot, method domain.ShippingMethod) Adjustments {
	adj := Adjustments{
		Discount: magnitude(p.PromoDiscount),
		Credit:   magnitude(p.StoreCredit),
	}
	switch method {
	case domain.ShippingPickup:
		adj.Shipping = magnitude(p.PickupShipping)
	default:
		adj.Shipping = magnitude(p.StandardShipping)
	}
	return adj
}

// NoAdjustments grants nothing and charges no shipping.
type NoAdjustments struct{}

func (NoAdjustments) Adjust(domain.CartSnapshot, domain.ShippingMethod) Adjustments {
	return Adjustments{}
}

// Compute sums the selected lines and applies the policy. The resulting Total
// may be negative; callers clamp it with Totals.PaymentAmount.
func Compute(cart domain.CartSnapshot, method domain.ShippingMethod, policy Policy) domain.Totals {
	if policy == nil {
		policy = NoAdjustments{}
	}
	var subtotal, lineDiscount int64
	for _, item := range cart.Selected() {
		subtotal += item.LineTotal()
		lineDiscount += item.LineDiscount()
	}
	adj := policy.Adjust(cart, method)

	t := domain.Totals{
		Subtotal: subtotal,
		Discount: lineDiscount + adj.Discount,
		Shipping: adj.Shipping,
		Credit:   adj.Credit,
	}
	t.Total = t.Subtotal - t.Discount + t.Shipping - t.Credit
	return t
}

func magnitude(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
