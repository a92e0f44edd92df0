package httpserver

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the collaborators the routes need.
type Deps struct {
	DB          Pinger
	Checkout    checkoutService
	CORSOrigins []string
}

// buildRouter wires routes for the API.
func buildRouter(logger *slog.Logger, deps Deps) (*gin.Engine, error) {
	if deps.Checkout == nil {
		return nil, errors.New("checkout service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), metricsMiddleware(), requestLogger(logger))
	if len(deps.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:  deps.CORSOrigins,
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", requestIDHeader},
			ExposeHeaders: []string{requestIDHeader},
			MaxAge:        12 * time.Hour,
		}))
	}

	router.GET("/healthz", healthHandler)
	router.GET("/readyz", readyHandler(deps.DB))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := &checkoutHandler{svc: deps.Checkout}
	co := router.Group("/checkout")
	co.GET("/gateway-key", h.gatewayKey)
	co.POST("/sessions", h.begin)

	sessions := co.Group("/sessions/:key")
	sessions.GET("", h.view)
	sessions.POST("/shipping", h.shipping)
	sessions.POST("/back", h.back)
	sessions.POST("/pay", h.pay)
	sessions.POST("/gateway/close", h.gatewayClose)
	sessions.POST("/gateway/success", h.gatewaySuccess)
	sessions.POST("/leave", h.leave)

	return router, nil
}
