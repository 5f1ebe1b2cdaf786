// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"paydesk/internal/domain/documents/payment"
	"paydesk/internal/domain/registers/application"
	"paydesk/internal/domain/wtax"
	"paydesk/internal/infrastructure/http/v1/handlers"
	"paydesk/internal/infrastructure/http/v1/middleware"
	"paydesk/internal/infrastructure/metrics"
	"paydesk/internal/infrastructure/storage/postgres"
	"paydesk/pkg/logger"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	// Logger for request logging
	Logger *logger.Logger

	// JWTValidator for token validation
	JWTValidator middleware.JWTValidator

	Payments     *payment.Service
	Applications *application.Service
	TaxTypes     *wtax.Service

	// Metrics is optional; nil disables /metrics and request metrics.
	Metrics *metrics.Metrics

	// Idempotency is nil when replay protection is disabled or the
	// service runs without a database.
	Idempotency middleware.IdempotencyStore

	// Pool is nil in memory mode.
	Pool         *postgres.Pool
	HealthChecks map[string]handlers.Pinger

	Version   string
	ShopName  string
	RemitRole string
	Debug     bool
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	if cfg.Metrics != nil {
		router.Use(middleware.Metrics(cfg.Metrics))
	}
	router.Use(middleware.ErrorHandler())

	// Health endpoints (no auth)
	healthHandler := handlers.NewHealthHandler(cfg.Version, cfg.Pool, cfg.HealthChecks)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Metrics.Registry(), promhttp.HandlerOpts{})))
	}

	// API v1
	v1 := router.Group("/api/v1")
	{
		protected := v1.Group("")
		protected.Use(middleware.Auth(cfg.JWTValidator))

		// Apply idempotency middleware for mutating operations
		if cfg.Idempotency != nil {
			protected.Use(middleware.Idempotency(cfg.Idempotency))
		}

		baseHandler := handlers.NewBaseHandler()

		RegisterPaymentRoutes(protected.Group("/payments"),
			handlers.NewPaymentHandler(baseHandler, cfg.Payments, cfg.Applications))
		RegisterRemittanceRoutes(protected.Group("/remittance"),
			handlers.NewRemittanceHandler(baseHandler, cfg.Applications, cfg.ShopName), cfg.RemitRole)

		wtaxHandler := handlers.NewWTaxHandler(baseHandler, cfg.TaxTypes)
		protected.GET("/wtax-types", wtaxHandler.List)
	}

	return router
}
