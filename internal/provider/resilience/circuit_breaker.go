// Package resilience guards outbound provider HTTP calls with a circuit breaker,
// a per-call timeout and optional retries, and tracks provider health for the
// ops status endpoint.
package resilience

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig configures the circuit breaker in front of a provider.
type BreakerConfig struct {
	Name string

	// MaxRequests is the number of probe calls allowed while half-open.
	// Default: 1
	MaxRequests uint32

	// Interval clears the closed-state counts periodically. Zero keeps them
	// until the next state change.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing again.
	// Default: 30 seconds
	Timeout time.Duration

	// ConsecutiveFailures trips the breaker after this many failed calls in a row.
	// Default: 5
	ConsecutiveFailures uint32

	// OnStateChange is called after every transition.
	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)
}

// DefaultBreakerConfig returns the breaker settings used for provider clients.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:                name,
		MaxRequests:         1,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// BreakerConfigFromEnv reads PROVIDER_BREAKER_TIMEOUT and PROVIDER_BREAKER_FAILURES
// on top of the defaults. Invalid values are ignored.
func BreakerConfigFromEnv(name string) BreakerConfig {
	cfg := DefaultBreakerConfig(name)
	if v := os.Getenv("PROVIDER_BREAKER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Timeout = d
		}
	}
	if v := os.Getenv("PROVIDER_BREAKER_FAILURES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil && n > 0 {
			cfg.ConsecutiveFailures = uint32(n)
		}
	}
	return cfg
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig(c.Name)
	if c.MaxRequests == 0 {
		c.MaxRequests = d.MaxRequests
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = d.ConsecutiveFailures
	}
	return c
}

func newBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker[*http.Response] {
	cfg = cfg.withDefaults()
	threshold := cfg.ConsecutiveFailures

	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{ //nolint:bodyclose // type param, not response
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful:  countsAsSuccess,
		OnStateChange: cfg.OnStateChange,
	})
}

// countsAsSuccess keeps caller cancellations from tripping the breaker.
func countsAsSuccess(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}
