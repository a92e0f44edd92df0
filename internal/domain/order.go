package domain

// ShippingMethod is how the order reaches the customer.
type ShippingMethod string

const (
	ShippingStandard ShippingMethod = "standard"
	ShippingPickup   ShippingMethod = "pickup"
)

// PaymentMethod selects the payment branch of the checkout.
type PaymentMethod string

const (
	PaymentGatewayCard  PaymentMethod = "paystack"
	PaymentBankTransfer PaymentMethod = "bank-transfer"
)

// MaxGiftMessageLength bounds OrderDraft.GiftMessage.
const MaxGiftMessageLength = 200

// Totals is the computed money breakdown for a draft. Discount and Credit are
// positive magnitudes subtracted from the subtotal.
type Totals struct {
	Subtotal int64 `json:"subtotal"`
	Discount int64 `json:"discount"`
	Shipping int64 `json:"shipping"`
	Credit   int64 `json:"credit"`
	Total    int64 `json:"total"`
}

// DiscountAmount is the combined reduction reported to the backend.
func (t Totals) DiscountAmount() int64 {
	return t.Discount + t.Credit
}

// PaymentAmount is the amount ever sent to a gateway: never negative.
func (t Totals) PaymentAmount() int64 {
	return ClampAmount(t.Total)
}

// ClampAmount returns max(v, 0).
func ClampAmount(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// OrderDraft is the client-assembled purchase intent; never persisted locally.
type OrderDraft struct {
	DeliveryAddress string         `json:"deliveryAddress" validate:"required_if=ShippingMethod standard,max=500"`
	ShippingMethod  ShippingMethod `json:"shippingMethod" validate:"required,oneof=standard pickup"`
	PaymentMethod   PaymentMethod  `json:"paymentMethod" validate:"required,oneof=paystack bank-transfer"`
	GiftMessage     string         `json:"giftMessage,omitempty" validate:"max=200"`
	ItemCount       int            `json:"itemCount" validate:"min=1"`
	TotalAmount     int64          `json:"totalAmount" validate:"min=0"`
	DiscountAmount  int64          `json:"discountAmount" validate:"min=0"`
}

// Order is the server-assigned order for a checkout attempt.
type Order struct {
	ID        string `json:"id"`
	Total     int64  `json:"total"`
	ItemCount int    `json:"itemCount"`
}
