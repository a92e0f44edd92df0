package checkout

import (
	"context"
	"errors"
	"strings"
	"testing"

	"storefront-checkout/internal/backend"
	"storefront-checkout/internal/domain"
	"storefront-checkout/internal/pricing"
	sessionrepo "storefront-checkout/internal/repository/session"
	"storefront-checkout/internal/service/order"
)

var scenarioPolicy = pricing.FixedPolicy{PromoDiscount: 1000, StoreCredit: 1600}

func TestBeginRequiresSelection(t *testing.T) {
	f := newFixture(t, nil)
	cart := domain.CartSnapshot{Items: []domain.CartLineItem{{ProductID: "p1", Quantity: 1, UnitPrice: 100}}}

	_, err := f.svc.Begin(context.Background(), BeginInput{Cart: cart})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBeginGeneratesSessionKey(t *testing.T) {
	f := newFixture(t, nil)
	v, err := f.svc.Begin(context.Background(), BeginInput{Cart: scenarioCart()})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if v.SessionKey == "" || v.State != domain.StateShipping {
		t.Fatalf("unexpected view %+v", v)
	}
	if v.ItemCount != 2 {
		t.Fatalf("expected 2 selected items, got %d", v.ItemCount)
	}
}

func TestShippingToPaymentCreatesNoOrder(t *testing.T) {
	f := newFixture(t, scenarioPolicy)
	v := f.toPayment(t, "s-ship", scenarioCart())

	if v.State != domain.StatePayment || v.OrderID != "" {
		t.Fatalf("unexpected view %+v", v)
	}
	if f.backend.creates() != 0 {
		t.Fatal("no order may be created before payment is initiated")
	}
	if !v.CanPay {
		t.Fatal("payment should be enabled once the gateway key is loaded")
	}
}

func TestSubmitShippingValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if _, err := f.svc.Begin(ctx, BeginInput{SessionKey: "s-val", Cart: scenarioCart()}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	v, err := f.svc.SubmitShipping(ctx, "s-val", order.ShippingInput{
		ShippingMethod: domain.ShippingStandard,
		GiftMessage:    strings.Repeat("x", domain.MaxGiftMessageLength+1),
	})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if v.State != domain.StateShipping || v.Error == "" {
		t.Fatalf("expected to stay on shipping with an error, got %+v", v)
	}
}

func TestPayScenarioTotals(t *testing.T) {
	f := newFixture(t, scenarioPolicy)
	v := f.toGateway(t, "s-scenario")

	body := f.backend.createBodies[0]
	if body.TotalAmount != 7400 || body.DiscountAmount != 2600 {
		t.Fatalf("unexpected order payload %+v", body)
	}
	idem := f.backend.createKeys[0]
	if idem == "" || idem == "s-scenario" {
		t.Fatalf("idempotency key must be minted per checkout, got %q", idem)
	}
	init := f.backend.initCalls[0]
	if init.OrderID != "ord-1" || init.Amount != 7400 || init.Metadata.OrderID != "ord-1" {
		t.Fatalf("unexpected init payload %+v", init)
	}
	if v.Widget.AmountMinorUnits != 740000 || v.Widget.Reference != "ref-1" || v.Widget.Key != "pk_test_checkout" {
		t.Fatalf("unexpected widget %+v", v.Widget)
	}
	if !v.Loading || v.CanPay {
		t.Fatalf("submit must stay disabled while the widget is open: %+v", v)
	}

	rec, err := f.store.Get(context.Background(), "s-scenario")
	if err != nil {
		t.Fatalf("durable record: %v", err)
	}
	if rec.OrderID != "ord-1" || rec.State != domain.StateAwaitingGateway || rec.Reference != "ref-1" || rec.IdempotencyKey != idem {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestPayNegativeTotalClampedToZero(t *testing.T) {
	f := newFixture(t, pricing.FixedPolicy{StoreCredit: 1500})
	cart := domain.CartSnapshot{Items: []domain.CartLineItem{{ProductID: "p1", Quantity: 1, UnitPrice: 1000, Selected: true}}}
	v := f.toPayment(t, "s-clamp", cart)
	if v.Totals.Total != -500 || v.PaymentAmount != 0 {
		t.Fatalf("unexpected totals %+v amount %d", v.Totals, v.PaymentAmount)
	}

	v, err := f.svc.Pay(context.Background(), "s-clamp", cardPay())
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if f.backend.createBodies[0].TotalAmount != 0 {
		t.Fatalf("order total sent: %d", f.backend.createBodies[0].TotalAmount)
	}
	if f.backend.initCalls[0].Amount != 0 || v.Widget.AmountMinorUnits != 0 {
		t.Fatalf("payment amount not clamped: %d / %d", f.backend.initCalls[0].Amount, v.Widget.AmountMinorUnits)
	}
}

func TestPayWhileCreatingOrderIsBusy(t *testing.T) {
	f := newFixture(t, scenarioPolicy)
	f.toPayment(t, "s-double", scenarioCart())
	f.backend.createStarted = make(chan struct{})
	f.backend.releaseCreate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Pay(context.Background(), "s-double", cardPay())
		done <- err
	}()
	<-f.backend.createStarted

	v, err := f.svc.View(context.Background(), "s-double")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if !v.CreatingOrder || v.CanPay {
		t.Fatalf("expected creatingOrder while in flight, got %+v", v)
	}
	if _, err := f.svc.Pay(context.Background(), "s-double", cardPay()); !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("second submit: expected ErrBusy, got %v", err)
	}

	close(f.backend.releaseCreate)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if n := f.backend.creates(); n != 1 {
		t.Fatalf("expected exactly one order, got %d", n)
	}
}

func TestPayRejectedWhileGuardHeldElsewhere(t *testing.T) {
	f := newFixture(t, scenarioPolicy)
	f.toPayment(t, "s-guard", scenarioCart())
	if ok, _ := f.guard.TryLock(context.Background(), payScope, "s-guard"); !ok {
		t.Fatal("could not take guard")
	}

	v, err := f.svc.Pay(context.Background(), "s-guard", cardPay())
	if !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if v.State != domain.StatePayment || v.CreatingOrder {
		t.Fatalf("expected to be back on payment, got %+v", v)
	}
	if f.backend.creates() != 0 {
		t.Fatal("no order expected")
	}
}

func TestPayValidationMakesNoNetworkCall(t *testing.T) {
	f := newFixture(t, scenarioPolicy)
	f.toPayment(t, "s-badcard", scenarioCart())
	in := cardPay()
	in.Card.Expiry = "01/25"

	v, err := f.svc.Pay(context.Background(), "s-badcard", in)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "expiry" {
		t.Fatalf("expected expiry validation error, got %v", err)
	}
	if v.State != domain.StatePayment || f.backend.creates() != 0 {
		t.Fatalf("state %s, creates %d", v.State, f.backend.creates())
	}
}

func TestPayRequiresGatewayKey(t *testing.T) {
	be := newStubBackend()
	be.keyErr = backend.ErrUnavailable
	f := newFixtureWith(t, be, sessionrepo.NewMemory(), scenarioPolicy)
	v := f.toPayment(t, "s-nokey", scenarioCart())
	if v.CanPay {
		t.Fatal("payment must be disabled without a gateway key")
	}

	if _, err := f.svc.Pay(context.Background(), "s-nokey", cardPay()); !errors.Is(err, domain.ErrGatewayNotReady) {
		t.Fatalf("expected ErrGatewayNotReady, got %v", err)
	}
	if be.creates() != 0 {
		t.Fatal("no order expected")
	}

	be.keyErr = nil
	if _, err := f.svc.GatewayKey(context.Background()); err != nil {
		t.Fatalf("gateway key: %v", err)
	}
	if _, err := f.svc.Pay(context.Background(), "s-nokey", cardPay()); err != nil {
		t.Fatalf("pay after key loaded: %v", err)
	}
}

func TestOrderCreationFailureStaysOnPayment(t *testing.T) {
	f := newFixture(t, scenarioPolicy)
	f.toPayment(t, "s-fail", scenarioCart())
	f.backend.createErr = &backend.StatusError{Code: 500, Body: "boom"}

	v, err := f.svc.Pay(context.Background(), "s-fail", cardPay())
	var cerr *domain.OrderCreationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected OrderCreationError, got %v", err)
	}
	if v.State != domain.StatePayment || v.OrderID != "" || !v.Retryable || v.CreatingOrder {
		t.Fatalf("unexpected view %+v", v)
	}
	rec, err := f.store.Get(context.Background(), "s-fail")
	if err != nil || rec.OrderID != "" || rec.IdempotencyKey != f.backend.createKeys[0] {
		t.Fatalf("only the reserved idempotency key should be durable: %+v %v", rec, err)
	}

	f.backend.createErr = nil
	v, err = f.svc.Pay(context.Background(), "s-fail", cardPay())
	if err != nil || v.State != domain.StateAwaitingGateway {
		t.Fatalf("retry: %+v %v", v, err)
	}
	if keys := f.backend.idempotencyKeys(); keys[0] != keys[1] {
		t.Fatalf("retry must reuse the idempotency key, got %v", keys)
	}
}

func TestPayFailsWhenOrderIDNotSaved(t *testing.T) {
	store := &failingStore{Repository: sessionrepo.NewMemory(), failOrders: 2}
	f := newFixtureWith(t, newStubBackend(), store, scenarioPolicy)
	f.toPayment(t, "s-nosave", scenarioCart())

	v, err := f.svc.Pay(context.Background(), "s-nosave", cardPay())
	if !errors.Is(err, domain.ErrNotPersisted) {
		t.Fatalf("expected ErrNotPersisted, got %v", err)
	}
	if v.State != domain.StatePayment || v.OrderID != "ord-1" || v.Widget != nil || !v.Retryable {
		t.Fatalf("unexpected view %+v", v)
	}
	if len(f.backend.initCalls) != 0 {
		t.Fatalf("payment must not start before the order id is durable")
	}

	v, err = f.svc.Pay(context.Background(), "s-nosave", cardPay())
	if err != nil || v.State != domain.StateAwaitingGateway {
		t.Fatalf("retry: %+v %v", v, err)
	}
	if f.backend.creates() != 1 {
		t.Fatalf("retry must reuse the order, creates=%d", f.backend.creates())
	}
	rec, err := f.store.Get(context.Background(), "s-nosave")
	if err != nil || rec.OrderID != "ord-1" {
		t.Fatalf("record %+v %v", rec, err)
	}
}

func TestNewCheckoutUnderSameKeyGetsFreshIdempotencyKey(t *testing.T) {
	f := newFixture(t, scenarioPolicy)
	gw := f.toGateway(t, "s-reuse")
	if _, err := f.svc.GatewaySucceeded(context.Background(), "s-reuse", gw.Widget.AttemptID, "ref-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	f.toGateway(t, "s-reuse")
	if _, err := f.svc.Leave(context.Background(), "s-reuse", true); err != nil {
		t.Fatalf("leave: %v", err)
	}
	f.toGateway(t, "s-reuse")

	keys := f.backend.idempotencyKeys()
	if len(keys) != 3 || keys[0] == keys[1] || keys[1] == keys[2] || keys[0] == keys[2] {
		t.Fatalf("each checkout needs its own idempotency key, got %v", keys)
	}
}

func TestBeginReusesReservedIdempotencyKey(t *testing.T) {
	store := sessionrepo.NewMemory()
	if err := store.Save(context.Background(), sessionrepo.Record{
		Key: "s-crashed", IdempotencyKey: "idem-crashed", State: domain.StateSubmittingOrder,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f := newFixtureWith(t, newStubBackend(), store, scenarioPolicy)

	v := f.toPayment(t, "s-crashed", scenarioCart())
	if v.State != domain.StatePayment || v.OrderID != "" {
		t.Fatalf("pending record starts a fresh checkout: %+v", v)
	}
	if _, err := f.svc.Pay(context.Background(), "s-crashed", cardPay()); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if keys := f.backend.idempotencyKeys(); keys[0] != "idem-crashed" {
		t.Fatalf("order creation must replay the reserved key, got %v", keys)
	}
}

func TestPaymentInitFailureReusesOrder(t *testing.T) {
	f := newFixture(t, scenarioPolicy)
	f.toPayment(t, "s-init", scenarioCart())
	f.backend.initErr = backend.ErrUnavailable

	v, err := f.svc.Pay(context.Background(), "s-init", cardPay())
	var ierr *domain.PaymentInitError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected PaymentInitError, got %v", err)
	}
	if v.State != domain.StatePayment || v.OrderID != "ord-1" || v.Loading {
		t.Fatalf("unexpected view %+v", v)
	}

	f.backend.initErr = nil
	if _, err := f.svc.Pay(context.Background(), "s-init", cardPay()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if f.backend.creates() != 1 {
		t.Fatalf("retry must reuse the order, creates=%d", f.backend.creates())
	}
	if got := f.backend.initCalls[1].OrderID; got != "ord-1" {
		t.Fatalf("retry initialized for %q", got)
	}
}

func TestGatewayCloseReturnsToPayment(t *testing.T) {
	f := newFixture(t, scenarioPolicy)
	first := f.toGateway(t, "s-close")

	v, err := f.svc.GatewayClosed(context.Background(), "s-close", first.Widget.AttemptID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if v.State != domain.StatePayment || v.Loading || v.OrderID != "ord-1" || v.Notice == "" {
		t.Fatalf("unexpected view after close %+v", v)
	}

	// success for the closed attempt is ignored
	v, err = f.svc.GatewaySucceeded(context.Background(), "s-close", first.Widget.AttemptID, "ref-1")
	if err != nil || v.State != domain.StatePayment {
		t.Fatalf("late success: %+v %v", v, err)
	}
	if len(f.backend.verifyRefs) != 0 {
		t.Fatal("verification must not run for a cancelled attempt")
	}

	second, err := f.svc.Pay(context.Background(), "s-close", cardPay())
	if err != nil {
		t.Fatalf("retry pay: %v", err)
	}
	if f.backend.creates() != 1 || f.backend.initCalls[1].OrderID != "ord-1" {
		t.Fatalf("retry must reuse ord-1: creates=%d init=%+v", f.backend.creates(), f.backend.initCalls[1])
	}
	if second.Widget.AttemptID == first.Widget.AttemptID {
		t.Fatal("each widget opening gets a fresh attempt id")
	}

	// the superseded attempt can no longer move the session
	v, err = f.svc.GatewayClosed(context.Background(), "s-close", first.Widget.AttemptID)
	if err != nil || v.State != domain.StateAwaitingGateway {
		t.Fatalf("stale close: %+v %v", v, err)
	}
}

func TestGatewaySuccessCompletesAndClears(t *testing.T) {
	f := newFixture(t, scenarioPolicy)
	f.backend.verifyResult = domain.VerificationResult{Status: "success", OrderID: "srv-42"}
	gw := f.toGateway(t, "s-ok")

	v, err := f.svc.GatewaySucceeded(context.Background(), "s-ok", gw.Widget.AttemptID, "ref-1")
	if err != nil {
		t.Fatalf("success: %v", err)
	}
	if v.State != domain.StateCompleted || v.OrderID != "srv-42" || v.Loading {
		t.Fatalf("unexpected view %+v", v)
	}
	if f.backend.verifyRefs[0] != "ref-1" {
		t.Fatalf("verified %v", f.backend.verifyRefs)
	}
	if _, err := f.store.Get(context.Background(), "s-ok"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("durable state must be cleared, got %v", err)
	}
	if _, err := f.svc.View(context.Background(), "s-ok"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("completed session must be gone, got %v", err)
	}
}

func TestGatewaySuccessFallsBackToLocalOrderID(t *testing.T) {
	f := newFixture(t, scenarioPolicy)
	gw := f.toGateway(t, "s-local")

	v, err := f.svc.GatewaySucceeded(context.Background(), "s-local", gw.Widget.AttemptID, "")
	if err != nil {
		t.Fatalf("success: %v", err)
	}
	if v.State != domain.StateCompleted || v.OrderID != "ord-1" {
		t.Fatalf("unexpected view %+v", v)
	}
	if f.backend.verifyRefs[0] != "ref-1" {
		t.Fatalf("empty callback reference should fall back to ref-1, got %v", f.backend.verifyRefs)
	}
}

func TestVerificationFailurePreservesSession(t *testing.T) {
	f := newFixture(t, scenarioPolicy)
	f.backend.verifyResult = domain.VerificationResult{Status: "failed"}
	gw := f.toGateway(t, "s-vfail")

	v, err := f.svc.GatewaySucceeded(context.Background(), "s-vfail", gw.Widget.AttemptID, "ref-1")
	if err != nil {
		t.Fatalf("verification failure is a state, not an error: %v", err)
	}
	if v.State != domain.StateVerificationFailed || v.Retryable {
		t.Fatalf("unexpected view %+v", v)
	}
	if !strings.Contains(v.SupportMessage, "ref-1") {
		t.Fatalf("support message must carry the reference: %q", v.SupportMessage)
	}
	rec, err := f.store.Get(context.Background(), "s-vfail")
	if err != nil || rec.OrderID != "ord-1" || rec.State != domain.StateVerificationFailed {
		t.Fatalf("durable record must survive: %+v %v", rec, err)
	}
	if _, err := f.svc.Pay(context.Background(), "s-vfail", cardPay()); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("no automatic retry after verification failure, got %v", err)
	}
}

func TestResumeAfterReload(t *testing.T) {
	store := sessionrepo.NewMemory()
	be := newStubBackend()
	before := newFixtureWith(t, be, store, scenarioPolicy)
	before.toGateway(t, "s-reload")

	// a fresh process sharing the durable store
	after := newFixtureWith(t, be, store, scenarioPolicy)
	v, err := after.svc.Begin(context.Background(), BeginInput{SessionKey: "s-reload", Cart: scenarioCart()})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if v.State != domain.StatePayment || v.OrderID != "ord-1" || v.PaymentAmount != 7400 {
		t.Fatalf("unexpected resumed view %+v", v)
	}

	if _, err := after.svc.Pay(context.Background(), "s-reload", cardPay()); err != nil {
		t.Fatalf("pay after resume: %v", err)
	}
	if be.creates() != 1 {
		t.Fatalf("resume must not recreate the order, creates=%d", be.creates())
	}
	last := be.initCalls[len(be.initCalls)-1]
	if last.OrderID != "ord-1" || last.Amount != 7400 {
		t.Fatalf("unexpected init after resume %+v", last)
	}
}

func TestResumeDuringVerificationNeedsSupport(t *testing.T) {
	store := sessionrepo.NewMemory()
	be := newStubBackend()
	before := newFixtureWith(t, be, store, scenarioPolicy)
	gw := before.toGateway(t, "s-midverify")

	be.verifyStarted = make(chan struct{})
	be.releaseVerify = make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = before.svc.GatewaySucceeded(context.Background(), "s-midverify", gw.Widget.AttemptID, "ref-1")
	}()
	<-be.verifyStarted

	rec, err := store.Get(context.Background(), "s-midverify")
	if err != nil || rec.State != domain.StateVerifying || rec.Reference != "ref-1" {
		t.Fatalf("verifying must be durable before the verify call: %+v %v", rec, err)
	}

	// another process picks the session up while the first is still verifying
	after := newFixtureWith(t, be, store, scenarioPolicy)
	v, err := after.svc.Begin(context.Background(), BeginInput{SessionKey: "s-midverify"})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if v.State != domain.StateVerificationFailed || v.CanPay || !strings.Contains(v.SupportMessage, "ref-1") {
		t.Fatalf("unexpected resumed view %+v", v)
	}
	if _, err := after.svc.Pay(context.Background(), "s-midverify", cardPay()); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("resumed session must not pay again, got %v", err)
	}

	close(be.releaseVerify)
	<-done
	if len(be.initCalls) != 1 {
		t.Fatalf("payment initialized %d times", len(be.initCalls))
	}
}

func TestResumeVerificationFailed(t *testing.T) {
	store := sessionrepo.NewMemory()
	if err := store.Save(context.Background(), sessionrepo.Record{
		Key: "s-old", OrderID: "ord-7", OrderTotal: 500, Reference: "ref-7", State: domain.StateVerificationFailed,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f := newFixtureWith(t, newStubBackend(), store, nil)

	v, err := f.svc.View(context.Background(), "s-old")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if v.State != domain.StateVerificationFailed || !strings.Contains(v.SupportMessage, "ref-7") {
		t.Fatalf("unexpected view %+v", v)
	}
}

func TestBankTransferBranch(t *testing.T) {
	f := newFixture(t, scenarioPolicy)
	f.toPayment(t, "s-bank", scenarioCart())

	v, err := f.svc.Pay(context.Background(), "s-bank", PayInput{
		PaymentMethod: domain.PaymentBankTransfer,
		Customer:      domain.Customer{Email: "ada@example.com"},
	})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if v.State != domain.StateBankTransfer || v.BankTransfer == nil || v.BankTransfer.Reference != "bt-ref" {
		t.Fatalf("unexpected view %+v", v)
	}
	if f.backend.btOrders[0] != "ord-1" || len(f.backend.initCalls) != 0 {
		t.Fatalf("bank transfer must use the created order and skip the gateway")
	}
	if f.backend.createBodies[0].PaymentMethod != string(domain.PaymentBankTransfer) {
		t.Fatalf("payment method sent: %q", f.backend.createBodies[0].PaymentMethod)
	}
	rec, err := f.store.Get(context.Background(), "s-bank")
	if err != nil || rec.State != domain.StateBankTransfer {
		t.Fatalf("record %+v %v", rec, err)
	}
}

func TestBackOnlyWithoutOrder(t *testing.T) {
	f := newFixture(t, scenarioPolicy)
	f.toPayment(t, "s-back", scenarioCart())

	v, err := f.svc.Back(context.Background(), "s-back")
	if err != nil || v.State != domain.StateShipping {
		t.Fatalf("back: %+v %v", v, err)
	}

	f.toPayment(t, "s-back2", scenarioCart())
	f.backend.initErr = backend.ErrUnavailable
	if _, err := f.svc.Pay(context.Background(), "s-back2", cardPay()); err == nil {
		t.Fatal("expected init failure")
	}
	if _, err := f.svc.Back(context.Background(), "s-back2"); !errors.Is(err, domain.ErrConfirmationRequired) {
		t.Fatalf("expected ErrConfirmationRequired, got %v", err)
	}
}

func TestLeaveWithUnpaidOrderNeedsConfirmation(t *testing.T) {
	f := newFixture(t, scenarioPolicy)
	gw := f.toGateway(t, "s-leave")

	v, err := f.svc.Leave(context.Background(), "s-leave", false)
	if !errors.Is(err, domain.ErrConfirmationRequired) || v.State != domain.StateAwaitingGateway {
		t.Fatalf("expected confirmation prompt, got %+v %v", v, err)
	}

	v, err = f.svc.Leave(context.Background(), "s-leave", true)
	if err != nil || v.State != domain.StateCancelled {
		t.Fatalf("leave: %+v %v", v, err)
	}
	if _, err := f.store.Get(context.Background(), "s-leave"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("abandon must clear durable state, got %v", err)
	}
	if _, err := f.svc.GatewaySucceeded(context.Background(), "s-leave", gw.Widget.AttemptID, "ref-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("callbacks after leaving must not find the session, got %v", err)
	}
}

func TestLeaveWithoutOrder(t *testing.T) {
	f := newFixture(t, nil)
	f.toPayment(t, "s-leave2", scenarioCart())

	v, err := f.svc.Leave(context.Background(), "s-leave2", false)
	if err != nil || v.State != domain.StateCancelled {
		t.Fatalf("leave: %+v %v", v, err)
	}
}

func TestOrderCellReadableOutsideSessionLock(t *testing.T) {
	f := newFixture(t, scenarioPolicy)
	f.toPayment(t, "s-cell", scenarioCart())
	sess, ok := f.svc.registered("s-cell")
	if !ok {
		t.Fatal("session not registered")
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.RecordOrder(context.Background(), domain.Order{ID: "ord-x", Total: 10}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if o, ok := sess.order.Load(); !ok || o.ID != "ord-x" {
		t.Fatalf("cell = %+v %v", o, ok)
	}
}
