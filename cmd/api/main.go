// Package main provides the entrypoint for the Clockwatch API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata" // provider timestamps are interpreted in America/Sao_Paulo

	"github.com/rs/zerolog"

	"github.com/clockwatch/clockwatch/internal/api"
	"github.com/clockwatch/clockwatch/internal/api/middleware"
	"github.com/clockwatch/clockwatch/internal/app"
	"github.com/clockwatch/clockwatch/internal/auth"
	"github.com/clockwatch/clockwatch/internal/database"
	"github.com/clockwatch/clockwatch/internal/device"
	"github.com/clockwatch/clockwatch/internal/liveness"
	"github.com/clockwatch/clockwatch/internal/provider/secullum"
	"github.com/clockwatch/clockwatch/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "clockwatch-api"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting Clockwatch API")

	// Get configuration from environment
	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	// Initialize OpenTelemetry
	ctx := context.Background()
	telemetryConfig := telemetry.ConfigFromEnv(serviceName, Version)

	tp, err := telemetry.Init(ctx, telemetryConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if telemetryConfig.Enabled {
		log.Info().
			Str("otlp_endpoint", telemetryConfig.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	// Open the device registry
	repo, closeRegistry, err := app.OpenRegistry(ctx, database.ConfigFromEnv(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open device registry")
	}
	defer closeRegistry()

	deviceService := device.NewService(device.ServiceConfig{
		Repository: repo,
		Logger:     log,
	})

	// Initialize JWT service (get signing key from environment)
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		jwtSigningKey = "local-dev-signing-key-change-in-production"
		log.Warn().Msg("using default JWT signing key - not secure for production")
	}

	jwtService := auth.NewJWTService(auth.JWTConfig{
		SigningKey: jwtSigningKey,
		Issuer:     getEnvOrDefault("JWT_ISSUER", "https://clockwatch.local"),
		Audience:   getEnvOrDefault("JWT_AUDIENCE", "clockwatch-api"),
	})

	operatorKeys, err := auth.ParseOperatorKeys(os.Getenv("OPERATOR_API_KEYS"))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid OPERATOR_API_KEYS")
	}
	if len(operatorKeys) == 0 {
		log.Warn().Msg("no operator API keys configured - operator endpoints are unreachable")
	}

	authService := auth.NewService(auth.ServiceConfig{
		JWTService: jwtService,
		Keys:       operatorKeys,
	})
	log.Info().Int("operators", len(operatorKeys)).Msg("auth service initialized")

	// Provider integration is optional
	provider, err := app.NewProvider(secullum.ConfigFromEnv(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize provider")
	}

	policy, err := liveness.PolicyFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid liveness policy")
	}
	evaluator := app.NewEvaluator(policy, provider, repo, log)
	reconciler := app.NewReconciler(provider, repo, log)

	publisher, err := app.NewJobPublisher(ctx, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize job publisher")
	}
	if publisher != nil {
		defer func() {
			if closeErr := publisher.Close(); closeErr != nil {
				log.Error().Err(closeErr).Msg("failed to close job publisher")
			}
		}()
	}

	routerConfig := api.RouterConfig{
		Version:       Version,
		BuildTime:     BuildTime,
		Logger:        log,
		ServiceName:   serviceName,
		Metrics:       metrics,
		AuthService:   authService,
		DeviceService: deviceService,
		Evaluator:     evaluator,
		CORSOrigins:   splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		RequireTLS:    os.Getenv("REQUIRE_TLS") == "true",
	}
	if provider != nil {
		routerConfig.ProviderClient = provider.Client
		routerConfig.Providers = provider.Registry
		routerConfig.Reconciler = reconciler
	}
	if publisher != nil {
		routerConfig.Publisher = publisher
	}

	// Create router with configuration
	router := api.NewRouter(routerConfig)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
