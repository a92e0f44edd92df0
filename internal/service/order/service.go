package order

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"storefront-checkout/internal/backend"
	"storefront-checkout/internal/domain"
	"storefront-checkout/internal/pricing"
)

type orderClient interface {
	CreateOrder(ctx context.Context, idemKey string, in backend.CheckoutOrderRequest) (string, error)
}

// Recorder receives a freshly created order before Create returns. It must
// make the id visible in memory first and then persist it.
type Recorder interface {
	RecordOrder(ctx context.Context, order domain.Order) error
}

// Service turns drafts into backend orders.
type Service struct {
	client orderClient
	policy pricing.Policy
	logger *slog.Logger
}

func New(client orderClient, policy pricing.Policy, logger *slog.Logger) *Service {
	if policy == nil {
		policy = pricing.NoAdjustments{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{client: client, policy: policy, logger: logger}
}

// ShippingInput holds the shipping step selections.
type ShippingInput struct {
	DeliveryAddress string                `json:"deliveryAddress" validate:"required_if=ShippingMethod standard,max=500"`
	ShippingMethod  domain.ShippingMethod `json:"shippingMethod" validate:"required,oneof=standard pickup"`
	GiftMessage     string                `json:"giftMessage,omitempty" validate:"max=200"`
}

// ValidateShipping trims and checks the shipping step locally.
func ValidateShipping(in ShippingInput) (ShippingInput, error) {
	in.DeliveryAddress = strings.TrimSpace(in.DeliveryAddress)
	in.GiftMessage = strings.TrimSpace(in.GiftMessage)
	if err := domain.Validate(in); err != nil {
		return in, err
	}
	return in, nil
}

// Quote prices the selected lines of cart for a shipping method.
func (s *Service) Quote(cart domain.CartSnapshot, method domain.ShippingMethod) domain.Totals {
	return pricing.Compute(cart, method, s.policy)
}

// BuildDraft assembles an OrderDraft from the cart and user selections.
// TotalAmount is already clamped to zero.
func (s *Service) BuildDraft(cart domain.CartSnapshot, shipping ShippingInput, method domain.PaymentMethod) (domain.OrderDraft, domain.Totals) {
	totals := s.Quote(cart, shipping.ShippingMethod)
	draft := domain.OrderDraft{
		DeliveryAddress: strings.TrimSpace(shipping.DeliveryAddress),
		ShippingMethod:  shipping.ShippingMethod,
		PaymentMethod:   method,
		GiftMessage:     strings.TrimSpace(shipping.GiftMessage),
		ItemCount:       cart.ItemCount(),
		TotalAmount:     totals.PaymentAmount(),
		DiscountAmount:  totals.DiscountAmount(),
	}
	return draft, totals
}

// Create validates the draft, creates the order with the backend under
// idemKey and hands the id to rec. If rec cannot persist the order, Create
// fails with domain.ErrNotPersisted; the recorder has still seen the order.
func (s *Service) Create(ctx context.Context, idemKey string, draft domain.OrderDraft, rec Recorder) (*domain.Order, error) {
	if draft.ItemCount < 1 {
		return nil, domain.NewValidationError("items", "select at least one item")
	}
	draft.TotalAmount = domain.ClampAmount(draft.TotalAmount)
	if err := domain.Validate(draft); err != nil {
		return nil, err
	}

	id, err := s.client.CreateOrder(ctx, idemKey, backend.CheckoutOrderRequest{
		DeliveryAddress: draft.DeliveryAddress,
		PaymentMethod:   string(draft.PaymentMethod),
		ShippingMethod:  string(draft.ShippingMethod),
		GiftMessage:     draft.GiftMessage,
		TotalAmount:     draft.TotalAmount,
		DiscountAmount:  draft.DiscountAmount,
	})
	if err != nil {
		s.logger.Warn("order creation failed", "idempotency_key", idemKey, "error", err)
		return nil, &domain.OrderCreationError{Cause: err}
	}

	order := domain.Order{ID: id, Total: draft.TotalAmount, ItemCount: draft.ItemCount}
	if rec != nil {
		if err := rec.RecordOrder(ctx, order); err != nil {
			s.logger.Error("persist order id failed", "idempotency_key", idemKey, "order_id", id, "error", err)
			return nil, fmt.Errorf("record order %s: %w: %w", id, domain.ErrNotPersisted, err)
		}
	}
	s.logger.Info("order created", "idempotency_key", idemKey, "order_id", id, "total", order.Total)
	return &order, nil
}
