package httpserver

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront-checkout/internal/backend"
	"storefront-checkout/internal/logging"
	"storefront-checkout/internal/service/checkout"
	"storefront-checkout/internal/service/order"
)

type checkoutService interface {
	GatewayKey(ctx context.Context) (string, error)
	Begin(ctx context.Context, in checkout.BeginInput) (checkout.View, error)
	View(ctx context.Context, key string) (checkout.View, error)
	SubmitShipping(ctx context.Context, key string, in order.ShippingInput) (checkout.View, error)
	Back(ctx context.Context, key string) (checkout.View, error)
	Pay(ctx context.Context, key string, in checkout.PayInput) (checkout.View, error)
	GatewayClosed(ctx context.Context, key, attemptID string) (checkout.View, error)
	GatewaySucceeded(ctx context.Context, key, attemptID, reference string) (checkout.View, error)
	Leave(ctx context.Context, key string, confirm bool) (checkout.View, error)
}

type checkoutHandler struct {
	svc checkoutService
}

type gatewayCloseRequest struct {
	AttemptID string `json:"attemptId" binding:"required"`
}

type gatewaySuccessRequest struct {
	AttemptID string `json:"attemptId" binding:"required"`
	Reference string `json:"reference"`
}

type leaveRequest struct {
	Confirm bool `json:"confirm"`
}

type sessionResponse struct {
	Session checkout.View `json:"session"`
}

// requestContext carries the request logger and the caller's bearer token
// into the services.
func requestContext(c *gin.Context) context.Context {
	ctx := logging.WithCtx(c.Request.Context(), logging.From(c))
	return backend.WithAuthorization(ctx, c.GetHeader("Authorization"))
}

func (h *checkoutHandler) gatewayKey(c *gin.Context) {
	key, err := h.svc.GatewayKey(requestContext(c))
	if err != nil {
		logging.From(c).Warn("gateway key unavailable", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment gateway not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"publicKey": key})
}

func (h *checkoutHandler) begin(c *gin.Context) {
	var req checkout.BeginInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	v, err := h.svc.Begin(requestContext(c), req)
	respond(c, v, err)
}

func (h *checkoutHandler) view(c *gin.Context) {
	v, err := h.svc.View(requestContext(c), c.Param("key"))
	respond(c, v, err)
}

func (h *checkoutHandler) shipping(c *gin.Context) {
	var req order.ShippingInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	v, err := h.svc.SubmitShipping(requestContext(c), c.Param("key"), req)
	respond(c, v, err)
}

func (h *checkoutHandler) back(c *gin.Context) {
	v, err := h.svc.Back(requestContext(c), c.Param("key"))
	respond(c, v, err)
}

func (h *checkoutHandler) pay(c *gin.Context) {
	var req checkout.PayInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	v, err := h.svc.Pay(requestContext(c), c.Param("key"), req)
	respond(c, v, err)
}

func (h *checkoutHandler) gatewayClose(c *gin.Context) {
	var req gatewayCloseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "attemptId is required"})
		return
	}
	v, err := h.svc.GatewayClosed(requestContext(c), c.Param("key"), req.AttemptID)
	respond(c, v, err)
}

func (h *checkoutHandler) gatewaySuccess(c *gin.Context) {
	var req gatewaySuccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "attemptId is required"})
		return
	}
	v, err := h.svc.GatewaySucceeded(requestContext(c), c.Param("key"), req.AttemptID, req.Reference)
	respond(c, v, err)
}

func (h *checkoutHandler) leave(c *gin.Context) {
	var req leaveRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	v, err := h.svc.Leave(requestContext(c), c.Param("key"), req.Confirm)
	respond(c, v, err)
}
