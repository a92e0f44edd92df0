package domain

// Customer identifies the payer towards the gateway.
type Customer struct {
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"fullName,omitempty" validate:"omitempty,max=120"`
	Phone    string `json:"phone,omitempty" validate:"omitempty,min=7,max=20"`
}

// CardDetails are card-adjacent fields checked for format only. Card numbers
// never reach this service.
type CardDetails struct {
	HolderName string `json:"holderName" validate:"required,max=120"`
	Expiry     string `json:"expiry" validate:"required,len=5"`
}

// PaymentMetadata is attached to the gateway transaction for fraud review.
type PaymentMetadata struct {
	OrderID         string `json:"order_id"`
	CustomerName    string `json:"customer_name,omitempty"`
	CustomerEmail   string `json:"customer_email"`
	CustomerPhone   string `json:"customer_phone,omitempty"`
	DeliveryAddress string `json:"delivery_address,omitempty"`
	ShippingMethod  string `json:"shipping_method,omitempty"`
}

// PaymentSession is the active payment attempt for an order.
type PaymentSession struct {
	PublicKey string          `json:"publicKey"`
	Reference string          `json:"reference"`
	Amount    int64           `json:"amount"`
	Email     string          `json:"email"`
	Metadata  PaymentMetadata `json:"metadata"`
}

// VerificationStatusSuccess is the only backend status treated as settled.
const VerificationStatusSuccess = "success"

// VerificationResult is the backend's answer for a payment reference.
type VerificationResult struct {
	Status  string `json:"status"`
	OrderID string `json:"orderId,omitempty"`
}

// Settled reports whether the backend confirmed the payment.
func (r VerificationResult) Settled() bool {
	return r.Status == VerificationStatusSuccess
}
