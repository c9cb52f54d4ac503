// Package app assembles the components shared by the API server and the worker.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/clockwatch/clockwatch/internal/database"
	"github.com/clockwatch/clockwatch/internal/device"
	"github.com/clockwatch/clockwatch/internal/liveness"
	"github.com/clockwatch/clockwatch/internal/probe"
	"github.com/clockwatch/clockwatch/internal/provider/resilience"
	"github.com/clockwatch/clockwatch/internal/provider/secullum"
	"github.com/clockwatch/clockwatch/internal/reconcile"
	"github.com/clockwatch/clockwatch/internal/telemetry"
	"github.com/clockwatch/clockwatch/internal/worker"
)

// OpenRegistry opens the device store selected by cfg.Driver and applies its schema.
// The returned func releases the store.
func OpenRegistry(ctx context.Context, cfg database.Config, log zerolog.Logger) (device.Repository, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	switch cfg.Driver {
	case database.DriverMemory:
		log.Warn().Msg("using in-memory device registry - data is lost on restart")
		return device.NewInMemoryRepository(), func() {}, nil

	case database.DriverSQLite:
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		repo := device.NewGormRepository(db)
		if err := repo.AutoMigrate(); err != nil {
			return nil, nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("sqlite registry opened")
		closer := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		return repo, closer, nil

	default:
		pool, err := database.Connect(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info().
			Str("host", cfg.Host).
			Int("port", cfg.Port).
			Str("database", cfg.Database).
			Msg("database connected")
		return device.NewPostgresRepository(pool), pool.Close, nil
	}
}

// Provider bundles the Secullum integration.
type Provider struct {
	Session  *secullum.Session
	Client   *secullum.Client
	Registry *resilience.Registry
}

// NewProvider builds the Secullum session and client behind a circuit breaker.
// It returns nil when no credentials are configured.
func NewProvider(cfg secullum.Config, log zerolog.Logger) (*Provider, error) {
	if !cfg.Enabled() {
		log.Warn().Msg("secullum credentials not configured - provider integration disabled")
		return nil, nil
	}

	metrics, err := telemetry.NewProviderMetrics(secullum.ProviderName)
	if err != nil {
		return nil, fmt.Errorf("provider metrics: %w", err)
	}

	registry := resilience.NewRegistry()
	breaker := resilience.BreakerConfigFromEnv(secullum.ProviderName)
	httpClient := resilience.NewClient(resilience.ClientConfig{
		Name:           secullum.ProviderName,
		Timeout:        cfg.Timeout,
		DisableRetries: true,
		Breaker:        &breaker,
		Registry:       registry,
		Logger:         log,
	})

	session := secullum.NewSession(secullum.SessionConfig{
		AuthBaseURL: cfg.AuthBaseURL,
		Username:    cfg.Username,
		Password:    cfg.Password,
		ClientID:    cfg.ClientID,
		HTTPClient:  httpClient,
		Metrics:     metrics,
		Logger:      log,
	})
	if cfg.LedgerID != "" {
		session.SelectLedger(cfg.LedgerID)
	}

	client := secullum.NewClient(secullum.ClientConfig{
		BaseURL:    cfg.APIBaseURL,
		Session:    session,
		HTTPClient: httpClient,
		Location:   cfg.Location,
		Metrics:    metrics,
		Logger:     log,
	})

	log.Info().
		Str("ledger_id", cfg.LedgerID).
		Str("timezone", cfg.Location.String()).
		Msg("secullum provider initialized")

	return &Provider{Session: session, Client: client, Registry: registry}, nil
}

// NewReconciler returns nil when the provider is disabled.
func NewReconciler(p *Provider, repo device.Repository, log zerolog.Logger) *reconcile.Reconciler {
	if p == nil {
		return nil
	}
	return reconcile.New(reconcile.Config{
		Catalog:    p.Client,
		Ledgers:    p.Session,
		Repository: repo,
		Logger:     log,
	})
}

// NewEvaluator wires provider telemetry and probing into a liveness evaluator.
func NewEvaluator(policy liveness.Policy, p *Provider, repo device.Repository, log zerolog.Logger) *liveness.Evaluator {
	cfg := liveness.EvaluatorConfig{
		Policy:     policy,
		Repository: repo,
		Logger:     log,
	}
	if p != nil {
		cfg.Activity = p.Client
	}
	if policy.ProbeEnabled {
		probeCfg := probe.ConfigFromEnv()
		probeCfg.Logger = log
		cfg.Prober = probe.New(probeCfg)
	}

	log.Info().
		Str("policy", policy.Name).
		Dur("online_within", policy.OnlineWithin).
		Dur("unstable_within", policy.UnstableWithin).
		Bool("probe_enabled", policy.ProbeEnabled).
		Msg("liveness evaluator initialized")

	return liveness.NewEvaluator(cfg)
}

// JobPublisher hands jobs to the worker and releases its connection on Close.
type JobPublisher interface {
	Publish(ctx context.Context, job worker.JobMessage) (string, error)
	Close() error
}

// NewJobPublisher connects to NATS when NATS_URL is set, otherwise to Pub/Sub
// when PUBSUB_PROJECT_ID is set. It returns nil when neither is configured.
func NewJobPublisher(ctx context.Context, log zerolog.Logger) (JobPublisher, error) {
	if ns := worker.NATSSettingsFromEnv(); ns.Enabled() {
		p, err := worker.NewNATSPublisher(ns, log)
		if err != nil {
			return nil, err
		}
		log.Info().Str("subject", ns.Subject).Msg("nats job publisher initialized")
		return p, nil
	}

	if ps := worker.PubSubSettingsFromEnv(); ps.Enabled() {
		p, err := worker.NewPublisher(ctx, ps.ProjectID, ps.Topic)
		if err != nil {
			return nil, err
		}
		log.Info().Str("topic", ps.Topic).Msg("pubsub job publisher initialized")
		return p, nil
	}

	return nil, nil
}
