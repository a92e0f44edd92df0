package backend

import (
	"context"
	"fmt"
	"net/http"
)

// CheckoutOrderRequest is the body of POST /orders/checkout.
type CheckoutOrderRequest struct {
	DeliveryAddress string `json:"delivery_address"`
	PaymentMethod   string `json:"payment_method"`
	ShippingMethod  string `json:"shipping_method"`
	GiftMessage     string `json:"gift_message,omitempty"`
	TotalAmount     int64  `json:"total_amount"`
	DiscountAmount  int64  `json:"discount_amount"`
}

type checkoutOrderResponse struct {
	Order struct {
		ID flexID `json:"id"`
	} `json:"order"`
}

// CreateOrder persists an order and returns its server id.
func (c *Client) CreateOrder(ctx context.Context, idemKey string, in CheckoutOrderRequest) (string, error) {
	var out checkoutOrderResponse
	if err := c.do(ctx, http.MethodPost, "/orders/checkout", idemKey, in, &out); err != nil {
		return "", err
	}
	if out.Order.ID == "" {
		return "", fmt.Errorf("%w: order id missing", ErrMalformedResponse)
	}
	return string(out.Order.ID), nil
}
