package payment

import (
	"context"
	"sync"

	"storefront-checkout/internal/domain"
)

// AttemptState is the widget-side state of one payment attempt.
type AttemptState string

const (
	AttemptAwaitingUser   AttemptState = "awaiting_user"
	AttemptUserCancelled  AttemptState = "user_cancelled"
	AttemptGatewaySuccess AttemptState = "gateway_reported_success"
)

// Callbacks are registered before the widget opens. Each fires at most once
// per attempt, and never after the other one fired.
type Callbacks struct {
	OnClose   func(ctx context.Context)
	OnSuccess func(ctx context.Context, reference string)
}

// Attempt is one opening of the gateway widget.
type Attempt struct {
	id      string
	session domain.PaymentSession
	widget  WidgetConfig
	cb      Callbacks

	mu    sync.Mutex
	state AttemptState
}

func newAttempt(id string, session domain.PaymentSession, widget WidgetConfig, cb Callbacks) *Attempt {
	return &Attempt{id: id, session: session, widget: widget, cb: cb, state: AttemptAwaitingUser}
}

func (a *Attempt) ID() string { return a.id }

func (a *Attempt) Widget() WidgetConfig { return a.widget }

func (a *Attempt) Session() domain.PaymentSession { return a.session }

func (a *Attempt) State() AttemptState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Close handles the widget's onClose. It reports whether the callback fired.
func (a *Attempt) Close(ctx context.Context) bool {
	if !a.resolve(AttemptUserCancelled) {
		return false
	}
	a.cb.OnClose(ctx)
	return true
}

// Succeed handles the widget's onSuccess. The gateway's reference is a hint to
// verify, not proof of settlement. An empty reference falls back to the one
// issued at initialization.
func (a *Attempt) Succeed(ctx context.Context, reference string) bool {
	if !a.resolve(AttemptGatewaySuccess) {
		return false
	}
	if reference == "" {
		reference = a.session.Reference
	}
	a.cb.OnSuccess(ctx, reference)
	return true
}

func (a *Attempt) resolve(next AttemptState) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != AttemptAwaitingUser {
		return false
	}
	a.state = next
	return true
}
