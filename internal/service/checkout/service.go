// Package checkout is the state machine tying order creation, payment
// initialization, the gateway widget and verification together.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront-checkout/internal/backend"
	"storefront-checkout/internal/cache"
	"storefront-checkout/internal/domain"
	"storefront-checkout/internal/logging"
	sessionrepo "storefront-checkout/internal/repository/session"
	"storefront-checkout/internal/service/order"
	"storefront-checkout/internal/service/payment"
)

const payScope = "pay"

type orderService interface {
	Quote(cart domain.CartSnapshot, method domain.ShippingMethod) domain.Totals
	BuildDraft(cart domain.CartSnapshot, shipping order.ShippingInput, method domain.PaymentMethod) (domain.OrderDraft, domain.Totals)
	Create(ctx context.Context, idemKey string, draft domain.OrderDraft, rec order.Recorder) (*domain.Order, error)
}

type paymentManager interface {
	FetchGatewayKey(ctx context.Context) (string, error)
	GatewayKey() (string, bool)
	Initialize(ctx context.Context, orderID string, amount int64, email string, meta domain.PaymentMetadata) (domain.PaymentSession, error)
	InitializeBankTransfer(ctx context.Context, orderID string, amount int64) (backend.BankTransfer, error)
	OpenWidget(session domain.PaymentSession, cb payment.Callbacks) (*payment.Attempt, error)
}

type verifier interface {
	Verify(ctx context.Context, reference string) (domain.VerificationResult, error)
}

// Deps are the collaborators of Service.
type Deps struct {
	Orders   orderService
	Payments paymentManager
	Verifier verifier
	Store    sessionrepo.Repository
	Guard    cache.InflightGuard
	Logger   *slog.Logger
}

// Service runs checkout sessions. Live sessions are kept in memory; the
// durable store only holds what is needed to resume after a reload.
type Service struct {
	orders   orderService
	payments paymentManager
	verifier verifier
	store    sessionrepo.Repository
	guard    cache.InflightGuard
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func New(d Deps) *Service {
	if d.Store == nil {
		d.Store = sessionrepo.NewMemory()
	}
	if d.Guard == nil {
		d.Guard = cache.NewMemoryInflightGuard(time.Minute)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Service{
		orders:   d.Orders,
		payments: d.Payments,
		verifier: d.Verifier,
		store:    d.Store,
		guard:    d.Guard,
		logger:   d.Logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// BeginInput starts or resumes a checkout.
type BeginInput struct {
	SessionKey string              `json:"sessionKey,omitempty"`
	Cart       domain.CartSnapshot `json:"cart"`
}

// PayInput carries the payment step form.
type PayInput struct {
	PaymentMethod domain.PaymentMethod `json:"paymentMethod"`
	Customer      domain.Customer      `json:"customer"`
	Card          *domain.CardDetails  `json:"card,omitempty"`
}

// GatewayKey fetches the gateway public key once per process.
func (s *Service) GatewayKey(ctx context.Context) (string, error) {
	return s.payments.FetchGatewayKey(ctx)
}

// Begin opens a checkout for the cart, or resumes the one stored under
// in.SessionKey. A resumed order keeps its id and recorded total.
func (s *Service) Begin(ctx context.Context, in BeginInput) (View, error) {
	log := logging.FromCtx(ctx, s.logger)
	key := strings.TrimSpace(in.SessionKey)
	if key == "" {
		key = uuid.NewString()
	}
	s.warmGatewayKey(ctx)

	if sess, ok := s.registered(key); ok {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		if sess.state == domain.StateShipping && in.Cart.ItemCount() > 0 {
			sess.cart = in.Cart
			sess.totals = s.orders.Quote(in.Cart, sess.shippingMethod())
		}
		return s.viewLocked(sess), nil
	}

	sess, err := s.restore(ctx, key)
	switch {
	case err == nil:
		sess.mu.Lock()
		if in.Cart.ItemCount() > 0 {
			sess.cart = in.Cart
			sess.totals = s.orders.Quote(in.Cart, sess.shippingMethod())
		}
		sess.mu.Unlock()
	case errors.Is(err, domain.ErrNotFound):
		if in.Cart.ItemCount() < 1 {
			return View{}, domain.NewValidationError("items", "select at least one item")
		}
		sess = s.newSession(key)
		if rec, gerr := s.store.Get(ctx, key); gerr == nil && rec.IdempotencyKey != "" {
			// an earlier attempt may have reached the backend before it was recorded
			sess.idemKey = rec.IdempotencyKey
		}
		sess.state = domain.StateShipping
		sess.cart = in.Cart
		sess.totals = s.orders.Quote(in.Cart, domain.ShippingStandard)
		log.Info("checkout started", "session", key, "items", in.Cart.ItemCount())
	default:
		return View{}, fmt.Errorf("load checkout session %s: %w", key, err)
	}

	sess = s.register(sess)
	return s.viewOf(sess), nil
}

// View returns the current state, restoring it from the durable store if this
// process has not seen the session yet.
func (s *Service) View(ctx context.Context, key string) (View, error) {
	sess, err := s.lookup(ctx, key)
	if err != nil {
		return View{}, err
	}
	return s.viewOf(sess), nil
}

// SubmitShipping moves shipping -> payment. No network call is made and no
// order is created here.
func (s *Service) SubmitShipping(ctx context.Context, key string, in order.ShippingInput) (View, error) {
	sess, err := s.lookup(ctx, key)
	if err != nil {
		return View{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.state != domain.StateShipping {
		return s.failLocked(sess, s.invalid(sess, domain.StatePayment))
	}
	in, err = order.ValidateShipping(in)
	if err != nil {
		return s.failLocked(sess, err)
	}
	if sess.cart.ItemCount() < 1 {
		return s.failLocked(sess, domain.NewValidationError("items", "select at least one item"))
	}
	if err := s.transition(ctx, sess, domain.StatePayment); err != nil {
		return s.failLocked(sess, err)
	}
	sess.shipping = in
	sess.totals = s.orders.Quote(sess.cart, in.ShippingMethod)
	sess.clearMessages()
	return s.viewLocked(sess), nil
}

// Back returns payment -> shipping. Once an order exists the user has to
// leave explicitly instead.
func (s *Service) Back(ctx context.Context, key string) (View, error) {
	sess, err := s.lookup(ctx, key)
	if err != nil {
		return View{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.creatingOrder || sess.loading {
		return s.viewLocked(sess), domain.ErrBusy
	}
	if _, ok := sess.order.Load(); ok {
		sess.notice = noticeLeaveConfirm
		return s.viewLocked(sess), domain.ErrConfirmationRequired
	}
	if err := s.transition(ctx, sess, domain.StateShipping); err != nil {
		return s.failLocked(sess, err)
	}
	sess.clearMessages()
	return s.viewLocked(sess), nil
}

// Pay commits to payment: it creates the order unless one already exists and
// then either opens the gateway widget or initializes a bank transfer.
func (s *Service) Pay(ctx context.Context, key string, in PayInput) (View, error) {
	log := logging.FromCtx(ctx, s.logger)
	sess, err := s.lookup(ctx, key)
	if err != nil {
		return View{}, err
	}

	sess.mu.Lock()
	if sess.creatingOrder || sess.loading {
		v := s.viewLocked(sess)
		sess.mu.Unlock()
		return v, domain.ErrBusy
	}
	if sess.state != domain.StatePayment {
		defer sess.mu.Unlock()
		return s.failLocked(sess, s.invalid(sess, domain.StateSubmittingOrder))
	}
	method := in.PaymentMethod
	if method == "" {
		method = domain.PaymentGatewayCard
	}
	if err := s.precheckPay(sess, method, in); err != nil {
		defer sess.mu.Unlock()
		return s.failLocked(sess, err)
	}
	existing, hasOrder := sess.order.Load()
	var draft domain.OrderDraft
	if !hasOrder {
		draft, sess.totals = s.orders.BuildDraft(sess.cart, sess.shipping, method)
	}
	if err := s.transition(ctx, sess, domain.StateSubmittingOrder); err != nil {
		defer sess.mu.Unlock()
		return s.failLocked(sess, err)
	}
	sess.method = method
	sess.customer = in.Customer
	sess.creatingOrder = !hasOrder
	sess.loading = hasOrder
	sess.clearMessages()
	sess.mu.Unlock()

	locked, err := s.guard.TryLock(ctx, payScope, key)
	switch {
	case err != nil:
		log.Warn("in-flight guard unavailable, relying on session flags", "session", key, "error", err)
	case !locked:
		return s.abortPay(ctx, sess, domain.ErrBusy)
	default:
		defer func() {
			if uerr := s.guard.Unlock(context.WithoutCancel(ctx), payScope, key); uerr != nil {
				log.Warn("release in-flight guard", "session", key, "error", uerr)
			}
		}()
	}

	if hasOrder {
		log.Info("reusing existing order", "session", key, "order_id", existing.ID)
	} else {
		if err := sess.reserve(ctx); err != nil {
			return s.abortPay(ctx, sess, fmt.Errorf("reserve order for %s: %w: %w", key, domain.ErrNotPersisted, err))
		}
		_, err := s.orders.Create(ctx, sess.idemKey, draft, sess)
		ordersTotal.WithLabelValues(resultLabel(err)).Inc()
		if err != nil {
			return s.abortPay(ctx, sess, err)
		}
		sess.mu.Lock()
		sess.creatingOrder = false
		sess.loading = true
		sess.mu.Unlock()
	}

	// The cell is the only source of the order id from here on.
	o, ok := sess.order.Load()
	if !ok {
		return s.abortPay(ctx, sess, domain.ErrMissingOrderID)
	}

	if method == domain.PaymentBankTransfer {
		return s.payByBankTransfer(ctx, sess, o)
	}
	return s.payByGateway(ctx, sess, o, in.Customer)
}

func (s *Service) precheckPay(sess *Session, method domain.PaymentMethod, in PayInput) error {
	if method != domain.PaymentGatewayCard && method != domain.PaymentBankTransfer {
		return domain.NewValidationError("paymentMethod", "must be one of: paystack bank-transfer")
	}
	if method == domain.PaymentGatewayCard {
		if _, ok := s.payments.GatewayKey(); !ok {
			return domain.ErrGatewayNotReady
		}
	}
	if err := payment.ValidatePayer(in.Customer, method, in.Card, s.now()); err != nil {
		return err
	}
	if _, ok := sess.order.Load(); !ok && sess.cart.ItemCount() < 1 {
		return domain.NewValidationError("items", "select at least one item")
	}
	return nil
}

func (s *Service) payByBankTransfer(ctx context.Context, sess *Session, o domain.Order) (View, error) {
	bt, err := s.payments.InitializeBankTransfer(ctx, o.ID, o.Total)
	paymentInitsTotal.WithLabelValues(string(domain.PaymentBankTransfer), resultLabel(err)).Inc()
	if err != nil {
		return s.abortPay(ctx, sess, err)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.loading = false
	sess.bankTransfer = &bt
	sess.reference = bt.Reference
	if err := s.transition(ctx, sess, domain.StateBankTransfer); err != nil {
		return s.failLocked(sess, err)
	}
	s.persistLocked(ctx, sess)
	return s.viewLocked(sess), nil
}

func (s *Service) payByGateway(ctx context.Context, sess *Session, o domain.Order, customer domain.Customer) (View, error) {
	sess.mu.Lock()
	meta := domain.PaymentMetadata{
		CustomerName:    customer.FullName,
		CustomerEmail:   customer.Email,
		CustomerPhone:   customer.Phone,
		DeliveryAddress: sess.shipping.DeliveryAddress,
		ShippingMethod:  string(sess.shipping.ShippingMethod),
	}
	sess.mu.Unlock()

	ps, err := s.payments.Initialize(ctx, o.ID, o.Total, customer.Email, meta)
	paymentInitsTotal.WithLabelValues(string(domain.PaymentGatewayCard), resultLabel(err)).Inc()
	if err != nil {
		return s.abortPay(ctx, sess, err)
	}

	var attempt *payment.Attempt
	attempt, err = s.payments.OpenWidget(ps, payment.Callbacks{
		OnClose: func(ctx context.Context) {
			s.gatewayClosed(ctx, sess, attempt)
		},
		OnSuccess: func(ctx context.Context, reference string) {
			s.gatewaySucceeded(ctx, sess, attempt, reference)
		},
	})
	if err != nil {
		return s.abortPay(ctx, sess, err)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.attempt = attempt
	sess.reference = ps.Reference
	if err := s.transition(ctx, sess, domain.StateAwaitingGateway); err != nil {
		return s.failLocked(sess, err)
	}
	s.persistLocked(ctx, sess)
	return s.viewLocked(sess), nil
}

// abortPay returns a session stuck in submitting_order to payment. Any order
// already created stays in the cell for the retry.
func (s *Service) abortPay(ctx context.Context, sess *Session, cause error) (View, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.creatingOrder = false
	sess.loading = false
	if err := s.transition(ctx, sess, domain.StatePayment); err != nil {
		logging.FromCtx(ctx, s.logger).Error("revert to payment", "session", sess.key, "error", err)
	}
	s.persistLocked(ctx, sess)
	return s.failLocked(sess, cause)
}

// GatewayClosed delivers the widget's onClose for attemptID. Callbacks for a
// superseded attempt are ignored.
func (s *Service) GatewayClosed(ctx context.Context, key, attemptID string) (View, error) {
	sess, attempt, err := s.currentAttempt(ctx, key, attemptID)
	if err != nil {
		return View{}, err
	}
	gatewayCallbacksTotal.WithLabelValues("close").Inc()
	if attempt != nil {
		attempt.Close(ctx)
	}
	return s.viewOf(sess), nil
}

// GatewaySucceeded delivers the widget's onSuccess for attemptID and runs
// verification. A failed verification is reported in the view, not as an error.
func (s *Service) GatewaySucceeded(ctx context.Context, key, attemptID, reference string) (View, error) {
	sess, attempt, err := s.currentAttempt(ctx, key, attemptID)
	if err != nil {
		return View{}, err
	}
	gatewayCallbacksTotal.WithLabelValues("success").Inc()
	if attempt != nil {
		attempt.Succeed(ctx, strings.TrimSpace(reference))
	}
	return s.viewOf(sess), nil
}

func (s *Service) currentAttempt(ctx context.Context, key, attemptID string) (*Session, *payment.Attempt, error) {
	sess, err := s.lookup(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.attempt == nil || sess.attempt.ID() != attemptID {
		logging.FromCtx(ctx, s.logger).Info("ignoring callback for stale attempt", "session", key, "attempt_id", attemptID)
		return sess, nil, nil
	}
	return sess, sess.attempt, nil
}

func (s *Service) gatewayClosed(ctx context.Context, sess *Session, attempt *payment.Attempt) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.attempt != attempt || sess.state != domain.StateAwaitingGateway {
		return
	}
	if err := s.transition(ctx, sess, domain.StatePayment); err != nil {
		logging.FromCtx(ctx, s.logger).Error("gateway close", "session", sess.key, "error", err)
		return
	}
	sess.attempt = nil
	sess.loading = false
	sess.clearMessages()
	sess.notice = noticePaymentCancelled
	s.persistLocked(ctx, sess)
}

func (s *Service) gatewaySucceeded(ctx context.Context, sess *Session, attempt *payment.Attempt, reference string) {
	log := logging.FromCtx(ctx, s.logger)
	// verification must finish even if the caller goes away
	ctx = context.WithoutCancel(ctx)

	sess.mu.Lock()
	if sess.attempt != attempt || sess.state != domain.StateAwaitingGateway {
		sess.mu.Unlock()
		return
	}
	sess.reference = reference
	if err := s.transition(ctx, sess, domain.StateVerifying); err != nil {
		sess.mu.Unlock()
		log.Error("gateway success", "session", sess.key, "error", err)
		return
	}
	s.persistLocked(ctx, sess)
	sess.mu.Unlock()

	local, _ := sess.order.Load()
	res, err := s.verifier.Verify(ctx, reference)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.attempt = nil
	sess.loading = false
	if err != nil {
		verificationsTotal.WithLabelValues("failed").Inc()
		log.Error("payment verification failed", "session", sess.key, "order_id", local.ID, "reference", reference, "error", err)
		sess.support = supportMessage(reference)
		sess.setError(err)
		if terr := s.transition(ctx, sess, domain.StateVerificationFailed); terr != nil {
			log.Error("verification failed transition", "session", sess.key, "error", terr)
		}
		s.persistLocked(ctx, sess)
		return
	}

	verificationsTotal.WithLabelValues("success").Inc()
	sess.finalOrderID = res.OrderID
	if sess.finalOrderID == "" {
		sess.finalOrderID = local.ID
	}
	if err := s.transition(ctx, sess, domain.StateCompleted); err != nil {
		log.Error("completion transition", "session", sess.key, "error", err)
		return
	}
	sess.clearMessages()
	if err := s.store.Delete(ctx, sess.key); err != nil {
		log.Error("clear durable session", "session", sess.key, "error", err)
	}
	sess.order.Clear()
	s.unregister(sess.key)
}

// Leave abandons the checkout. With an unpaid order it needs confirm; the
// order itself is left as-is on the backend.
func (s *Service) Leave(ctx context.Context, key string, confirm bool) (View, error) {
	log := logging.FromCtx(ctx, s.logger)
	sess, err := s.lookup(ctx, key)
	if err != nil {
		return View{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.creatingOrder || sess.state == domain.StateSubmittingOrder || sess.state == domain.StateVerifying {
		return s.viewLocked(sess), domain.ErrBusy
	}
	o, hasOrder := sess.order.Load()
	if hasOrder && !confirm {
		sess.notice = noticeLeaveConfirm
		return s.viewLocked(sess), domain.ErrConfirmationRequired
	}
	if err := s.transition(ctx, sess, domain.StateCancelled); err != nil {
		return s.failLocked(sess, err)
	}
	sess.attempt = nil
	sess.loading = false
	sess.clearMessages()
	if hasOrder {
		log.Info("unpaid order left for backend cleanup", "session", key, "order_id", o.ID)
		sess.order.Clear()
	}
	if err := s.store.Delete(ctx, key); err != nil {
		log.Error("clear durable session", "session", key, "error", err)
	}
	s.unregister(key)
	return s.viewLocked(sess), nil
}

func (s *Service) warmGatewayKey(ctx context.Context) {
	if _, ok := s.payments.GatewayKey(); ok {
		return
	}
	if _, err := s.payments.FetchGatewayKey(ctx); err != nil {
		logging.FromCtx(ctx, s.logger).Warn("gateway key not available yet", "error", err)
	}
}

// transition moves sess to next and logs it. Callers hold sess.mu.
func (s *Service) transition(ctx context.Context, sess *Session, next domain.CheckoutState) error {
	from := sess.state
	if !from.CanTransitionTo(next) {
		return s.invalid(sess, next)
	}
	sess.state = next
	transitionsTotal.WithLabelValues(string(next)).Inc()

	attrs := []any{"session", sess.key, "from", from, "to", next}
	if o, ok := sess.order.Load(); ok {
		attrs = append(attrs, "order_id", o.ID)
	}
	if sess.reference != "" {
		attrs = append(attrs, "reference", sess.reference)
	}
	logging.FromCtx(ctx, s.logger).Info("checkout transition", attrs...)
	return nil
}

func (s *Service) invalid(sess *Session, next domain.CheckoutState) error {
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, sess.state, next)
}

func (s *Service) persistLocked(ctx context.Context, sess *Session) {
	if err := sess.persist(ctx); err != nil {
		logging.FromCtx(ctx, s.logger).Error("persist checkout session", "session", sess.key, "state", sess.state, "error", err)
	}
}

func (s *Service) failLocked(sess *Session, err error) (View, error) {
	sess.setError(err)
	return s.viewLocked(sess), err
}

func (s *Service) viewLocked(sess *Session) View {
	_, ready := s.payments.GatewayKey()
	return sess.view(ready)
}

func (s *Service) viewOf(sess *Session) View {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.viewLocked(sess)
}

func (s *Service) newSession(key string) *Session {
	return &Session{key: key, store: s.store, idemKey: uuid.NewString()}
}

// restore rebuilds a session from its durable record.
func (s *Service) restore(ctx context.Context, key string) (*Session, error) {
	rec, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec.OrderID == "" {
		return nil, domain.ErrNotFound
	}
	sess := s.newSession(key)
	if rec.IdempotencyKey != "" {
		sess.idemKey = rec.IdempotencyKey
	}
	sess.order.Store(domain.Order{ID: rec.OrderID, Total: rec.OrderTotal, ItemCount: rec.ItemCount})
	sess.reference = rec.Reference
	switch rec.State {
	case domain.StateVerificationFailed, domain.StateVerifying:
		// a verification cut short is as ambiguous as a failed one
		sess.state = domain.StateVerificationFailed
		sess.support = supportMessage(rec.Reference)
	case domain.StateBankTransfer:
		sess.state = domain.StateBankTransfer
		sess.method = domain.PaymentBankTransfer
	default:
		// the widget does not survive a reload; the user pays again against the same order
		sess.state = domain.StatePayment
	}
	logging.FromCtx(ctx, s.logger).Info("checkout resumed", "session", key, "order_id", rec.OrderID, "recorded_state", rec.State, "state", sess.state)
	return sess, nil
}

func (s *Service) lookup(ctx context.Context, key string) (*Session, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, domain.NewValidationError("sessionKey", "is required")
	}
	if sess, ok := s.registered(key); ok {
		return sess, nil
	}
	sess, err := s.restore(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.register(sess), nil
}

func (s *Service) registered(key string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	return sess, ok
}

// register stores sess unless another one won the race for the key.
func (s *Service) register(sess *Session) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[sess.key]; ok {
		return existing
	}
	s.sessions[sess.key] = sess
	return sess
}

func (s *Service) unregister(key string) {
	s.mu.Lock()
	delete(s.sessions, key)
	s.mu.Unlock()
}

func (s *Session) shippingMethod() domain.ShippingMethod {
	if s.shipping.ShippingMethod == "" {
		return domain.ShippingStandard
	}
	return s.shipping.ShippingMethod
}
