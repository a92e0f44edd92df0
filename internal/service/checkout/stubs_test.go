package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"storefront-checkout/internal/backend"
	"storefront-checkout/internal/cache"
	"storefront-checkout/internal/domain"
	"storefront-checkout/internal/logging"
	"storefront-checkout/internal/pricing"
	sessionrepo "storefront-checkout/internal/repository/session"
	"storefront-checkout/internal/service/order"
	"storefront-checkout/internal/service/payment"
	"storefront-checkout/internal/service/verification"
)

// stubBackend stands in for the order/payment REST API.
type stubBackend struct {
	mu sync.Mutex

	keyErr error

	createErr     error
	createCalls   int
	createBodies  []backend.CheckoutOrderRequest
	createKeys    []string
	createStarted chan struct{}
	releaseCreate chan struct{}

	initErr   error
	initCalls []backend.InitializePaymentRequest

	btCalls  int
	btOrders []string

	verifyResult  domain.VerificationResult
	verifyErr     error
	verifyRefs    []string
	verifyStarted chan struct{}
	releaseVerify chan struct{}
}

func newStubBackend() *stubBackend {
	return &stubBackend{verifyResult: domain.VerificationResult{Status: "success"}}
}

func (b *stubBackend) CreateOrder(_ context.Context, idemKey string, in backend.CheckoutOrderRequest) (string, error) {
	if b.createStarted != nil {
		b.createStarted <- struct{}{}
		<-b.releaseCreate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.createCalls++
	b.createBodies = append(b.createBodies, in)
	b.createKeys = append(b.createKeys, idemKey)
	if b.createErr != nil {
		return "", b.createErr
	}
	return fmt.Sprintf("ord-%d", b.createCalls), nil
}

func (b *stubBackend) PublicKey(context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.keyErr != nil {
		return "", b.keyErr
	}
	return "pk_test_checkout", nil
}

func (b *stubBackend) InitializePayment(_ context.Context, in backend.InitializePaymentRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initCalls = append(b.initCalls, in)
	if b.initErr != nil {
		return "", b.initErr
	}
	return fmt.Sprintf("ref-%d", len(b.initCalls)), nil
}

func (b *stubBackend) InitializeBankTransfer(_ context.Context, orderID string, _ int64) (backend.BankTransfer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.btCalls++
	b.btOrders = append(b.btOrders, orderID)
	return backend.BankTransfer{Reference: "bt-ref", BankName: "Test Bank", AccountNumber: "0123456789"}, nil
}

func (b *stubBackend) VerifyPayment(_ context.Context, ref string) (domain.VerificationResult, error) {
	if b.verifyStarted != nil {
		b.verifyStarted <- struct{}{}
		<-b.releaseVerify
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verifyRefs = append(b.verifyRefs, ref)
	return b.verifyResult, b.verifyErr
}

func (b *stubBackend) creates() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.createCalls
}

func (b *stubBackend) idempotencyKeys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.createKeys...)
}

// failingStore fails Save for records that carry an order id while failOrders > 0.
type failingStore struct {
	sessionrepo.Repository

	mu         sync.Mutex
	failOrders int
}

func (s *failingStore) Save(ctx context.Context, rec sessionrepo.Record) error {
	s.mu.Lock()
	fail := rec.OrderID != "" && s.failOrders > 0
	if fail {
		s.failOrders--
	}
	s.mu.Unlock()
	if fail {
		return errors.New("store unavailable")
	}
	return s.Repository.Save(ctx, rec)
}

type fixture struct {
	svc     *Service
	backend *stubBackend
	store   sessionrepo.Repository
	guard   *cache.MemoryInflightGuard
}

func newFixture(t *testing.T, policy pricing.Policy) *fixture {
	t.Helper()
	return newFixtureWith(t, newStubBackend(), sessionrepo.NewMemory(), policy)
}

func newFixtureWith(t *testing.T, be *stubBackend, store sessionrepo.Repository, policy pricing.Policy) *fixture {
	t.Helper()
	logger := logging.Discard()
	guard := cache.NewMemoryInflightGuard(time.Minute)
	svc := New(Deps{
		Orders:   order.New(be, policy, logger),
		Payments: payment.NewManager(be, 100, logger),
		Verifier: verification.New(be, verification.Policy{Timeout: time.Second, Attempts: 1}, logger),
		Store:    store,
		Guard:    guard,
		Logger:   logger,
	})
	svc.now = func() time.Time { return time.Date(2026, time.January, 10, 0, 0, 0, 0, time.UTC) }
	return &fixture{svc: svc, backend: be, store: store, guard: guard}
}

func scenarioCart() domain.CartSnapshot {
	return domain.CartSnapshot{Currency: "NGN", Items: []domain.CartLineItem{
		{ProductID: "p1", Quantity: 1, UnitPrice: 6000, Selected: true},
		{ProductID: "p2", Quantity: 1, UnitPrice: 4000, Selected: true},
		{ProductID: "p3", Quantity: 2, UnitPrice: 9999, Selected: false},
	}}
}

func cardPay() PayInput {
	return PayInput{
		PaymentMethod: domain.PaymentGatewayCard,
		Customer:      domain.Customer{Email: "ada@example.com", FullName: "Ada Obi", Phone: "08030000000"},
		Card:          &domain.CardDetails{HolderName: "Ada Obi", Expiry: "12/28"},
	}
}

// toPayment begins a checkout and submits the shipping step.
func (f *fixture) toPayment(t *testing.T, key string, cart domain.CartSnapshot) View {
	t.Helper()
	ctx := context.Background()
	if _, err := f.svc.Begin(ctx, BeginInput{SessionKey: key, Cart: cart}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	v, err := f.svc.SubmitShipping(ctx, key, order.ShippingInput{
		DeliveryAddress: "12 Allen Avenue, Ikeja",
		ShippingMethod:  domain.ShippingStandard,
	})
	if err != nil {
		t.Fatalf("submit shipping: %v", err)
	}
	return v
}

// toGateway drives a session to awaiting_gateway.
func (f *fixture) toGateway(t *testing.T, key string) View {
	t.Helper()
	f.toPayment(t, key, scenarioCart())
	v, err := f.svc.Pay(context.Background(), key, cardPay())
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if v.State != domain.StateAwaitingGateway || v.Widget == nil {
		t.Fatalf("expected awaiting_gateway with widget, got %+v", v)
	}
	return v
}
