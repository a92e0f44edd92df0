package checkout

import (
	"context"
	"fmt"
	"sync"

	"storefront-checkout/internal/backend"
	"storefront-checkout/internal/domain"
	sessionrepo "storefront-checkout/internal/repository/session"
	"storefront-checkout/internal/service/order"
	"storefront-checkout/internal/service/payment"
)

const (
	noticePaymentCancelled = "Payment cancelled. You can retry when ready."
	noticeLeaveConfirm     = "An unpaid order exists for this checkout. Confirm to leave anyway."
)

func supportMessage(reference string) string {
	return fmt.Sprintf("We could not confirm your payment. Please contact support with reference %s.", reference)
}

// orderCell is the canonical order id for a session. It is written when the
// backend returns the order and read by the gateway callbacks, independently
// of the session lock.
type orderCell struct {
	mu    sync.RWMutex
	order *domain.Order
}

func (c *orderCell) Load() (domain.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.order == nil {
		return domain.Order{}, false
	}
	return *c.order, true
}

func (c *orderCell) Store(o domain.Order) {
	c.mu.Lock()
	c.order = &o
	c.mu.Unlock()
}

func (c *orderCell) Clear() {
	c.mu.Lock()
	c.order = nil
	c.mu.Unlock()
}

// Session is one checkout. Operations on it are serialized by mu; network
// calls run with mu released and are fenced by the creatingOrder/loading flags.
type Session struct {
	key   string
	store sessionrepo.Repository
	order orderCell
	// idemKey is fixed before the session is registered and sent with the
	// order creation call. A new checkout under the same key gets a new one.
	idemKey string

	mu            sync.Mutex
	state         domain.CheckoutState
	cart          domain.CartSnapshot
	shipping      order.ShippingInput
	totals        domain.Totals
	method        domain.PaymentMethod
	customer      domain.Customer
	creatingOrder bool
	loading       bool
	attempt       *payment.Attempt
	bankTransfer  *backend.BankTransfer
	reference     string
	finalOrderID  string
	notice        string
	lastErr       string
	retryable     bool
	support       string
}

// RecordOrder makes the order visible in memory and then persists it.
func (s *Session) RecordOrder(ctx context.Context, o domain.Order) error {
	s.order.Store(o)
	return s.store.Save(ctx, sessionrepo.Record{
		Key:            s.key,
		IdempotencyKey: s.idemKey,
		OrderID:        o.ID,
		OrderTotal:     o.Total,
		ItemCount:      o.ItemCount,
		State:          domain.StateSubmittingOrder,
	})
}

// reserve saves the idempotency key ahead of order creation so a process that
// dies mid-call resumes with the same key.
func (s *Session) reserve(ctx context.Context) error {
	return s.store.Save(ctx, sessionrepo.Record{
		Key:            s.key,
		IdempotencyKey: s.idemKey,
		State:          domain.StateSubmittingOrder,
	})
}

// persist mirrors the current state into the durable store. Callers hold mu.
func (s *Session) persist(ctx context.Context) error {
	o, ok := s.order.Load()
	if !ok {
		return nil
	}
	return s.store.Save(ctx, sessionrepo.Record{
		Key:            s.key,
		IdempotencyKey: s.idemKey,
		OrderID:        o.ID,
		OrderTotal:     o.Total,
		ItemCount:      o.ItemCount,
		Reference:      s.reference,
		State:          s.state,
	})
}

func (s *Session) clearMessages() {
	s.notice = ""
	s.lastErr = ""
	s.retryable = false
}

func (s *Session) setError(err error) {
	s.lastErr = err.Error()
	s.retryable = domain.Retryable(err)
}

// View is what the storefront renders for a checkout session.
type View struct {
	SessionKey     string                `json:"sessionKey"`
	State          domain.CheckoutState  `json:"state"`
	Cart           domain.CartSnapshot   `json:"cart"`
	ItemCount      int                   `json:"itemCount"`
	Totals         domain.Totals         `json:"totals"`
	PaymentAmount  int64                 `json:"paymentAmount"`
	Shipping       order.ShippingInput   `json:"shipping"`
	PaymentMethod  domain.PaymentMethod  `json:"paymentMethod,omitempty"`
	OrderID        string                `json:"orderId,omitempty"`
	Reference      string                `json:"reference,omitempty"`
	CreatingOrder  bool                  `json:"creatingOrder"`
	Loading        bool                  `json:"loading"`
	CanPay         bool                  `json:"canPay"`
	Widget         *payment.WidgetConfig `json:"widget,omitempty"`
	BankTransfer   *backend.BankTransfer `json:"bankTransfer,omitempty"`
	Notice         string                `json:"notice,omitempty"`
	Error          string                `json:"error,omitempty"`
	Retryable      bool                  `json:"retryable,omitempty"`
	SupportMessage string                `json:"supportMessage,omitempty"`
}

// view renders the session. Callers hold mu.
func (s *Session) view(gatewayReady bool) View {
	v := View{
		SessionKey:     s.key,
		State:          s.state,
		Cart:           s.cart,
		ItemCount:      s.cart.ItemCount(),
		Totals:         s.totals,
		PaymentAmount:  s.totals.PaymentAmount(),
		Shipping:       s.shipping,
		PaymentMethod:  s.method,
		Reference:      s.reference,
		CreatingOrder:  s.creatingOrder,
		Loading:        s.loading,
		BankTransfer:   s.bankTransfer,
		Notice:         s.notice,
		Error:          s.lastErr,
		Retryable:      s.retryable,
		SupportMessage: s.support,
	}
	if o, ok := s.order.Load(); ok {
		v.OrderID = o.ID
		v.PaymentAmount = domain.ClampAmount(o.Total)
		if o.ItemCount > 0 {
			v.ItemCount = o.ItemCount
		}
	}
	if s.finalOrderID != "" {
		v.OrderID = s.finalOrderID
	}
	v.CanPay = s.state == domain.StatePayment && gatewayReady && !s.creatingOrder && !s.loading
	if s.attempt != nil && s.state == domain.StateAwaitingGateway {
		w := s.attempt.Widget()
		v.Widget = &w
	}
	return v
}
