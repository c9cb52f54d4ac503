// Package main provides the entrypoint for the Clockwatch background worker.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // provider timestamps are interpreted in America/Sao_Paulo

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/clockwatch/clockwatch/internal/app"
	"github.com/clockwatch/clockwatch/internal/database"
	"github.com/clockwatch/clockwatch/internal/device"
	"github.com/clockwatch/clockwatch/internal/liveness"
	"github.com/clockwatch/clockwatch/internal/provider/secullum"
	"github.com/clockwatch/clockwatch/internal/telemetry"
	"github.com/clockwatch/clockwatch/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// jobConsumer is a job transport subscription.
type jobConsumer interface {
	Start(ctx context.Context) error
	Close() error
}

func main() {
	const serviceName = "clockwatch-worker"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting Clockwatch worker")

	// Worker also exposes health endpoint for Cloud Run
	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := telemetry.Init(ctx, telemetry.ConfigFromEnv(serviceName, Version))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	repo, closeRegistry, err := app.OpenRegistry(ctx, database.ConfigFromEnv(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open device registry")
	}
	defer closeRegistry()

	provider, err := app.NewProvider(secullum.ConfigFromEnv(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize provider")
	}

	policy, err := liveness.PolicyFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid liveness policy")
	}

	sweepConfig, err := worker.SweepConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid sweep configuration")
	}

	sweepCfg := worker.SweepJobConfig{
		Config:     sweepConfig,
		Logger:     log,
		Repository: repo,
		Evaluator:  app.NewEvaluator(policy, provider, repo, log),
	}
	dispatcherCfg := worker.DispatcherConfig{
		Devices: device.NewService(device.ServiceConfig{Repository: repo, Logger: log}),
		Logger:  log,
	}
	if reconciler := app.NewReconciler(provider, repo, log); reconciler != nil {
		sweepCfg.Reconciler = reconciler
		dispatcherCfg.Reconciler = reconciler
	}

	sweep := worker.NewSweepJob(sweepCfg)
	dispatcherCfg.Sweep = sweep
	dispatcher := worker.NewDispatcher(dispatcherCfg)

	// Create HTTP server for health checks and metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "healthy",
			"version": Version,
			"sweep":   sweep.MetricsSnapshot(),
		})
	})
	mux.Handle("/metrics", promhttp.HandlerFor(worker.NewMetricsRegistry(sweep), promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	// Start health check server
	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	// Start the liveness sweep loop
	if os.Getenv("WORKER_SWEEP_ENABLED") != "false" {
		go sweep.Start(ctx)
	} else {
		log.Info().Msg("liveness sweep loop disabled")
	}

	// Start the job consumer, if a transport is configured
	consumer, err := newConsumer(ctx, dispatcher, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize job consumer")
	}
	if consumer != nil {
		defer func() {
			if closeErr := consumer.Close(); closeErr != nil {
				log.Error().Err(closeErr).Msg("failed to close job consumer")
			}
		}()
		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("job consumer stopped")
			}
		}()
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}

// newConsumer prefers NATS when NATS_URL is set, then Pub/Sub.
func newConsumer(ctx context.Context, dispatcher *worker.Dispatcher, log zerolog.Logger) (jobConsumer, error) {
	if ns := worker.NATSSettingsFromEnv(); ns.Enabled() {
		return worker.NewNATSHandler(worker.NATSConfig{
			Settings:   ns,
			Dispatcher: dispatcher,
			Logger:     log,
		})
	}

	if ps := worker.PubSubSettingsFromEnv(); ps.Enabled() {
		return worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        ps.ProjectID,
			SubscriptionName: ps.SubscriptionName,
			Dispatcher:       dispatcher,
			Logger:           log,
		})
	}

	log.Info().Msg("no job transport configured - running sweep loop only")
	return nil, nil
}
