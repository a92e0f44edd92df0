package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists indicates a uniqueness conflict in storage.
	ErrAlreadyExists = errors.New("already exists")
	// ErrBusy is returned while an order creation or payment initialization is in flight.
	ErrBusy = errors.New("checkout busy")
	// ErrInvalidTransition is returned when the checkout cannot move to the requested step.
	ErrInvalidTransition = errors.New("illegal checkout transition")
	// ErrGatewayNotReady means the gateway public key has not been fetched yet.
	ErrGatewayNotReady = errors.New("payment gateway not ready")
	// ErrConfirmationRequired means an unpaid order exists and leaving needs explicit confirmation.
	ErrConfirmationRequired = errors.New("unpaid order exists, confirmation required")
	// ErrMissingOrderID is a sequencing bug: payment was initiated before an order existed.
	ErrMissingOrderID = errors.New("payment initiated without order id")
	// ErrNotPersisted means checkout progress could not be written to the durable store.
	ErrNotPersisted = errors.New("checkout progress could not be saved")
)

// ValidationError is a locally recoverable input problem. No network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// OrderCreationError wraps any failure of the order creation call.
type OrderCreationError struct {
	Cause error
}

func (e *OrderCreationError) Error() string {
	return fmt.Sprintf("create order: %v", e.Cause)
}

func (e *OrderCreationError) Unwrap() error { return e.Cause }

// PaymentInitError wraps a failed payment initialization for an existing order.
type PaymentInitError struct {
	OrderID string
	Cause   error
}

func (e *PaymentInitError) Error() string {
	return fmt.Sprintf("initialize payment for order %s: %v", e.OrderID, e.Cause)
}

func (e *PaymentInitError) Unwrap() error { return e.Cause }

// VerificationError reports a reference that could not be confirmed as settled.
type VerificationError struct {
	Reference string
	Status    string
	Cause     error
}

func (e *VerificationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("verify payment %s: %v", e.Reference, e.Cause)
	}
	return fmt.Sprintf("verify payment %s: status %q", e.Reference, e.Status)
}

func (e *VerificationError) Unwrap() error { return e.Cause }

// Retryable reports whether the user can simply try the same step again.
// Verification failures are deliberately not retryable.
func Retryable(err error) bool {
	var creation *OrderCreationError
	var init *PaymentInitError
	switch {
	case errors.As(err, &creation), errors.As(err, &init):
		return true
	case errors.Is(err, ErrBusy), errors.Is(err, ErrGatewayNotReady), errors.Is(err, ErrNotPersisted):
		return true
	default:
		return false
	}
}
