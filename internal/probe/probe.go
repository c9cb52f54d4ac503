// Package probe checks whether a terminal answers ICMP echo at its network address.
package probe

import (
	"context"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 1500 * time.Millisecond

// RunFunc performs one reachability attempt. It may ignore ctx; the prober
// stops waiting when the deadline passes regardless.
type RunFunc func(ctx context.Context, address string, timeout time.Duration) (bool, error)

// Config holds configuration for the prober.
type Config struct {
	// Timeout is used when Probe is called with a zero timeout.
	Timeout time.Duration

	// Privileged selects raw ICMP sockets instead of unprivileged UDP pings.
	Privileged bool

	// Run overrides the ICMP implementation. Used in tests.
	Run RunFunc

	Logger zerolog.Logger
}

// ConfigFromEnv creates a Config from environment variables.
func ConfigFromEnv() Config {
	timeout, err := time.ParseDuration(getEnvOrDefault("PROBE_TIMEOUT", DefaultTimeout.String()))
	if err != nil || timeout <= 0 {
		timeout = DefaultTimeout
	}
	privileged, _ := strconv.ParseBool(getEnvOrDefault("PROBE_PRIVILEGED", "false"))

	return Config{
		Timeout:    timeout,
		Privileged: privileged,
	}
}

// Prober performs bounded reachability checks.
type Prober struct {
	timeout time.Duration
	run     RunFunc
	log     zerolog.Logger
}

// New creates a new Prober.
func New(cfg Config) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Run == nil {
		cfg.Run = icmpRunner(cfg.Privileged)
	}
	return &Prober{
		timeout: cfg.Timeout,
		run:     cfg.Run,
		log:     cfg.Logger.With().Str("component", "probe").Logger(),
	}
}

// Probe reports whether address answered within timeout. It never fails:
// unreachable hosts, timeouts, malformed addresses and probe errors all
// yield false.
func (p *Prober) Probe(ctx context.Context, address string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = p.timeout
	}

	address = strings.TrimSpace(address)
	if !validAddress(address) {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)

	go func() {
		ok, err := p.run(ctx, address, timeout)
		done <- result{ok: ok, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			p.log.Debug().Err(r.err).Str("address", address).Msg("probe failed")
			return false
		}
		return r.ok
	case <-ctx.Done():
		p.log.Debug().Str("address", address).Dur("timeout", timeout).Msg("probe deadline exceeded")
		return false
	}
}

// validAddress accepts IP literals and plausible host names.
func validAddress(address string) bool {
	if address == "" || len(address) > 253 {
		return false
	}
	if ip := net.ParseIP(address); ip != nil {
		return !ip.IsUnspecified()
	}
	for _, label := range strings.Split(address, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		for _, r := range label {
			if !(r == '-' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
				return false
			}
		}
	}
	return true
}

func icmpRunner(privileged bool) RunFunc {
	return func(ctx context.Context, address string, timeout time.Duration) (bool, error) {
		pinger, err := probing.NewPinger(address)
		if err != nil {
			return false, err
		}
		pinger.Count = 1
		pinger.Timeout = timeout
		pinger.SetPrivileged(privileged)

		if err := pinger.RunWithContext(ctx); err != nil {
			return false, err
		}
		return pinger.Statistics().PacketsRecv > 0, nil
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
