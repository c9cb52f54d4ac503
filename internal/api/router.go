// Package api provides the HTTP API for Clockwatch.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/clockwatch/clockwatch/internal/api/handler"
	"github.com/clockwatch/clockwatch/internal/api/middleware"
	"github.com/clockwatch/clockwatch/internal/auth"
	"github.com/clockwatch/clockwatch/internal/device"
	"github.com/clockwatch/clockwatch/internal/liveness"
	"github.com/clockwatch/clockwatch/internal/provider/resilience"
	"github.com/clockwatch/clockwatch/internal/provider/secullum"
	"github.com/clockwatch/clockwatch/internal/reconcile"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version       string
	BuildTime     string
	Logger        zerolog.Logger
	ServiceName   string
	Metrics       *middleware.Metrics
	AuthService   *auth.Service
	DeviceService *device.Service
	Evaluator     *liveness.Evaluator

	// Provider integration. All nil when Secullum is not configured.
	ProviderClient *secullum.Client
	Reconciler     *reconcile.Reconciler
	Providers      *resilience.Registry

	// Publisher is optional; it enables ?async=true on provider jobs.
	Publisher handler.JobPublisher

	// CORSOrigins lists dashboard origins. Empty disables CORS headers.
	CORSOrigins []string

	// RequireTLS rejects requests forwarded over plain HTTP.
	RequireTLS bool
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Set default service name if not provided
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "clockwatch-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"Location", "X-Request-Id"},
			MaxAge:         300,
		}))
	}
	r.Use(middleware.SecurityHeaders)            // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // TLS enforcement behind the load balancer
	r.Use(middleware.ContentTypeJSON)            // JSON content type
	r.Use(middleware.RequireJSON)                // JSON request bodies

	var ledger handler.LedgerReporter
	if cfg.ProviderClient != nil {
		ledger = cfg.ProviderClient.Session()
	}

	// Initialize handlers
	opsHandler := handler.NewOpsHandler(handler.OpsHandlerConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Registry:  cfg.DeviceService,
		Providers: cfg.Providers,
		Ledger:    ledger,
		Policy:    cfg.Evaluator.Policy().Name,
	})
	authHandler := handler.NewAuthHandler(cfg.AuthService)
	deviceHandler := handler.NewDeviceHandler(cfg.DeviceService, cfg.Evaluator, cfg.Logger)
	providerHandler := handler.NewProviderHandler(handler.ProviderHandlerConfig{
		Client:     cfg.ProviderClient,
		Reconciler: cfg.Reconciler,
		Repository: cfg.DeviceService.Repository(),
		Publisher:  cfg.Publisher,
		Logger:     cfg.Logger,
	})

	// Create auth middleware
	authMiddleware := middleware.Auth(cfg.AuthService)

	// Create rate limit middleware for different endpoint categories
	authRateLimit := middleware.RateLimitByIP(middleware.AuthRateLimit)           // 10 req/min
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)   // 100 req/min
	heartbeatRateLimit := middleware.RateLimitByIP(middleware.HeartbeatRateLimit) // 600 req/min
	operatorRateLimit := middleware.RateLimitByOperator(middleware.StandardRateLimit)

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		// Auth endpoints (public) - strict rate limiting
		r.Route("/auth", func(r chi.Router) {
			r.Use(authRateLimit)
			r.Post("/token", authHandler.IssueToken)
		})

		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			// Status endpoint requires authentication
			r.With(authMiddleware).Get("/status", opsHandler.SystemStatus)
		})

		// Heartbeats come from terminals, not operators
		r.With(heartbeatRateLimit).Post("/heartbeat", deviceHandler.Heartbeat)

		// Devices - reads are public, writes need an operator
		r.Route("/devices", func(r chi.Router) {
			r.With(standardRateLimit).Get("/", deviceHandler.ListDevices)
			r.With(authMiddleware, operatorRateLimit).Post("/", deviceHandler.ProvisionDevice)
			r.Route("/{serial}", func(r chi.Router) {
				r.With(standardRateLimit).Get("/", deviceHandler.GetDevice)
				r.With(authMiddleware, operatorRateLimit).Put("/", deviceHandler.UpdateDevice)
			})
		})

		// Debug endpoints (authenticated)
		r.Route("/debug", func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(operatorRateLimit)
			r.Get("/devices", deviceHandler.Diagnostics)
		})

		// Provider endpoints (authenticated) - each call reaches Secullum
		r.Route("/provider", func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(middleware.RateLimitByOperator(middleware.ProviderRateLimit)) // 30 req/min per operator

			r.Post("/sync", providerHandler.Sync)
			r.Route("/ledgers", func(r chi.Router) {
				r.Get("/", providerHandler.ListLedgers)
				r.Post("/{ledgerId}/select", providerHandler.SelectLedger)
				r.Post("/{ledgerId}/import", providerHandler.Import)
			})
			r.Route("/equipment", func(r chi.Router) {
				r.Get("/", providerHandler.ListEquipment)
				r.Get("/{equipmentId}/activity", providerHandler.EquipmentActivity)
				r.Get("/{equipmentId}/punches", providerHandler.EquipmentPunches)
			})
		})
	})

	return r
}
