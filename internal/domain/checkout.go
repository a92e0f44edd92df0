package domain

// CheckoutState is a step of the checkout state machine.
type CheckoutState string

const (
	StateShipping           CheckoutState = "shipping"
	StatePayment            CheckoutState = "payment"
	StateSubmittingOrder    CheckoutState = "submitting_order"
	StateAwaitingGateway    CheckoutState = "awaiting_gateway"
	StateVerifying          CheckoutState = "verifying"
	StateCompleted          CheckoutState = "completed"
	StateVerificationFailed CheckoutState = "verification_failed"
	StateCancelled          CheckoutState = "cancelled"
	StateBankTransfer       CheckoutState = "bank_transfer_pending"
)

var checkoutTransitions = map[CheckoutState][]CheckoutState{
	StateShipping:           {StatePayment, StateCancelled},
	StatePayment:            {StateShipping, StateSubmittingOrder, StateCancelled},
	StateSubmittingOrder:    {StateAwaitingGateway, StateBankTransfer, StatePayment},
	StateAwaitingGateway:    {StateVerifying, StatePayment, StateCancelled},
	StateVerifying:          {StateCompleted, StateVerificationFailed},
	StateVerificationFailed: {StateCancelled},
	StateBankTransfer:       {StateCancelled},
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s CheckoutState) CanTransitionTo(next CheckoutState) bool {
	for _, allowed := range checkoutTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the session is finished and its state cleared.
func (s CheckoutState) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled
}

func (s CheckoutState) String() string {
	return string(s)
}
