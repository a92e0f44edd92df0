package httpserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront-checkout/internal/domain"
	"storefront-checkout/internal/logging"
	"storefront-checkout/internal/service/checkout"
)

// statusFor maps service errors to HTTP status codes. A failed verification
// is a checkout state and never reaches here.
func statusFor(err error) int {
	var verr *domain.ValidationError
	var cerr *domain.OrderCreationError
	var perr *domain.PaymentInitError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrBusy),
		errors.Is(err, domain.ErrConfirmationRequired),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrGatewayNotReady), errors.Is(err, domain.ErrNotPersisted):
		return http.StatusServiceUnavailable
	case errors.As(err, &cerr), errors.As(err, &perr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error     string         `json:"error"`
	Retryable bool           `json:"retryable"`
	Session   *checkout.View `json:"session,omitempty"`
}

func respond(c *gin.Context, v checkout.View, err error) {
	if err == nil {
		c.JSON(http.StatusOK, sessionResponse{Session: v})
		return
	}
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logging.From(c).Error("checkout request failed", "error", err)
		msg = "internal error"
	}
	_ = c.Error(err)
	resp := errorResponse{Error: msg, Retryable: domain.Retryable(err)}
	if v.SessionKey != "" {
		resp.Session = &v
	}
	c.JSON(status, resp)
}
