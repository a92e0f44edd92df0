package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"storefront-checkout/internal/backend"
	"storefront-checkout/internal/domain"
)

type paymentClient interface {
	PublicKey(ctx context.Context) (string, error)
	InitializePayment(ctx context.Context, in backend.InitializePaymentRequest) (string, error)
	InitializeBankTransfer(ctx context.Context, orderID string, amount int64) (backend.BankTransfer, error)
}

// Manager owns the payment attempt lifecycle: gateway key, initialization and
// widget handoff.
type Manager struct {
	client      paymentClient
	minorFactor int64
	logger      *slog.Logger
	newID       func() string

	mu        sync.RWMutex
	publicKey string
}

// NewManager builds a Manager. minorFactor converts amounts to the gateway's
// minor unit (100 for kobo/cents).
func NewManager(client paymentClient, minorFactor int64, logger *slog.Logger) *Manager {
	if minorFactor < 1 {
		minorFactor = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client:      client,
		minorFactor: minorFactor,
		logger:      logger,
		newID:       uuid.NewString,
	}
}

// FetchGatewayKey loads the gateway public key once. Failures are not cached.
func (m *Manager) FetchGatewayKey(ctx context.Context) (string, error) {
	if key, ok := m.GatewayKey(); ok {
		return key, nil
	}
	key, err := m.client.PublicKey(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch gateway key: %w", err)
	}
	m.mu.Lock()
	if m.publicKey == "" {
		m.publicKey = key
	}
	key = m.publicKey
	m.mu.Unlock()
	return key, nil
}

// GatewayKey returns the cached key. Payment initiation stays disabled until it is set.
func (m *Manager) GatewayKey() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.publicKey, m.publicKey != ""
}

// Initialize opens a gateway payment for orderID. amount is clamped at zero.
func (m *Manager) Initialize(ctx context.Context, orderID string, amount int64, email string, meta domain.PaymentMetadata) (domain.PaymentSession, error) {
	if strings.TrimSpace(orderID) == "" {
		return domain.PaymentSession{}, domain.ErrMissingOrderID
	}
	key, ok := m.GatewayKey()
	if !ok {
		return domain.PaymentSession{}, domain.ErrGatewayNotReady
	}
	amount = domain.ClampAmount(amount)
	meta.OrderID = orderID

	ref, err := m.client.InitializePayment(ctx, backend.InitializePaymentRequest{
		Email:    email,
		Amount:   amount,
		OrderID:  orderID,
		Metadata: meta,
	})
	if err != nil {
		return domain.PaymentSession{}, &domain.PaymentInitError{OrderID: orderID, Cause: err}
	}
	m.logger.Info("payment initialized", "order_id", orderID, "reference", ref, "amount", amount)
	return domain.PaymentSession{
		PublicKey: key,
		Reference: ref,
		Amount:    amount,
		Email:     email,
		Metadata:  meta,
	}, nil
}

// InitializeBankTransfer registers a bank transfer for orderID.
func (m *Manager) InitializeBankTransfer(ctx context.Context, orderID string, amount int64) (backend.BankTransfer, error) {
	if strings.TrimSpace(orderID) == "" {
		return backend.BankTransfer{}, domain.ErrMissingOrderID
	}
	bt, err := m.client.InitializeBankTransfer(ctx, orderID, domain.ClampAmount(amount))
	if err != nil {
		return backend.BankTransfer{}, &domain.PaymentInitError{OrderID: orderID, Cause: err}
	}
	m.logger.Info("bank transfer initialized", "order_id", orderID, "reference", bt.Reference)
	return bt, nil
}

// WidgetConfig is what the storefront passes to the gateway widget before
// calling openIframe.
type WidgetConfig struct {
	AttemptID        string                 `json:"attemptId"`
	Key              string                 `json:"key"`
	Email            string                 `json:"email"`
	AmountMinorUnits int64                  `json:"amount"`
	Reference        string                 `json:"reference"`
	Metadata         domain.PaymentMetadata `json:"metadata"`
}

var errCallbacksRequired = errors.New("both gateway callbacks are required")

// OpenWidget registers the close and success callbacks and returns the
// attempt the widget callbacks resolve against. Progress after this point
// only happens through the Attempt.
func (m *Manager) OpenWidget(session domain.PaymentSession, cb Callbacks) (*Attempt, error) {
	if cb.OnClose == nil || cb.OnSuccess == nil {
		return nil, errCallbacksRequired
	}
	if session.Reference == "" {
		return nil, fmt.Errorf("open widget: %w", domain.NewValidationError("reference", "is required"))
	}
	id := m.newID()
	widget := WidgetConfig{
		AttemptID:        id,
		Key:              session.PublicKey,
		Email:            session.Email,
		AmountMinorUnits: domain.ClampAmount(session.Amount) * m.minorFactor,
		Reference:        session.Reference,
		Metadata:         session.Metadata,
	}
	return newAttempt(id, session, widget, cb), nil
}
