// Package worker provides background job processing for Clockwatch.
package worker

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// SweepConfig holds configuration for the periodic liveness sweep.
type SweepConfig struct {
	// Interval is the time between sweeps.
	// Default: 60 seconds
	Interval time.Duration

	// ReconcileEvery runs provider reconciliation before every Nth sweep.
	// Zero disables reconciliation in the sweep.
	// Default: 10
	ReconcileEvery int

	// Timeout bounds a single sweep including reconciliation.
	// Default: 45 seconds
	Timeout time.Duration
}

// DefaultSweepConfig returns the default sweep configuration.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Interval:       60 * time.Second,
		ReconcileEvery: 10,
		Timeout:        45 * time.Second,
	}
}

// SweepConfigFromEnv applies WORKER_* overrides to the defaults.
func SweepConfigFromEnv() (SweepConfig, error) {
	cfg := DefaultSweepConfig()

	if v := os.Getenv("WORKER_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("parse WORKER_SWEEP_INTERVAL: %w", err)
		}
		cfg.Interval = d
	}
	if v := os.Getenv("WORKER_SWEEP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("parse WORKER_SWEEP_TIMEOUT: %w", err)
		}
		cfg.Timeout = d
	}
	if v := os.Getenv("WORKER_RECONCILE_EVERY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("parse WORKER_RECONCILE_EVERY: %q", v)
		}
		cfg.ReconcileEvery = n
	}

	if cfg.Interval <= 0 {
		return cfg, fmt.Errorf("sweep interval must be positive")
	}
	return cfg, nil
}

// ShouldReconcile reports whether sweep number run (starting at 1) reconciles first.
func (c SweepConfig) ShouldReconcile(run int64) bool {
	if c.ReconcileEvery <= 0 {
		return false
	}
	return run == 1 || run%int64(c.ReconcileEvery) == 0
}

// PubSubSettings names the Pub/Sub resources used for jobs.
type PubSubSettings struct {
	ProjectID        string
	Topic            string
	SubscriptionName string
}

// PubSubSettingsFromEnv reads PUBSUB_PROJECT_ID, PUBSUB_TOPIC and PUBSUB_SUBSCRIPTION.
func PubSubSettingsFromEnv() PubSubSettings {
	return PubSubSettings{
		ProjectID:        os.Getenv("PUBSUB_PROJECT_ID"),
		Topic:            getEnvOrDefault("PUBSUB_TOPIC", "clockwatch-jobs"),
		SubscriptionName: getEnvOrDefault("PUBSUB_SUBSCRIPTION", "clockwatch-jobs-worker"),
	}
}

// Enabled reports whether a project is configured.
func (s PubSubSettings) Enabled() bool {
	return s.ProjectID != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// NATSSettings names the JetStream resources used for jobs.
type NATSSettings struct {
	URL     string
	Stream  string
	Subject string
	Durable string
}

// NATSSettingsFromEnv reads NATS_URL, NATS_STREAM, NATS_SUBJECT and NATS_DURABLE.
func NATSSettingsFromEnv() NATSSettings {
	return NATSSettings{
		URL:     os.Getenv("NATS_URL"),
		Stream:  getEnvOrDefault("NATS_STREAM", "CLOCKWATCH_JOBS"),
		Subject: getEnvOrDefault("NATS_SUBJECT", "clockwatch.jobs"),
		Durable: getEnvOrDefault("NATS_DURABLE", "clockwatch-worker"),
	}
}

// Enabled reports whether a server URL is configured.
func (s NATSSettings) Enabled() bool {
	return s.URL != ""
}
