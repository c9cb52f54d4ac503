// Package liveness derives ONLINE / UNSTABLE / OFFLINE status for terminals
// from provider telemetry, reachability probes and stored heartbeats.
package liveness

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Status is the computed liveness of a device.
type Status string

// Status values.
const (
	StatusOnline   Status = "ONLINE"
	StatusUnstable Status = "UNSTABLE"
	StatusOffline  Status = "OFFLINE"
)

// Policy names.
const (
	PolicyTimestamp  = "timestamp"
	PolicyProbeFirst = "probe-first"
)

// Policy holds the thresholds and signal precedence used by the evaluator.
type Policy struct {
	// Name identifies the preset the policy was derived from.
	Name string

	// OnlineWithin is the largest activity age classified ONLINE.
	OnlineWithin time.Duration

	// UnstableWithin is the largest activity age classified UNSTABLE.
	UnstableWithin time.Duration

	// ProbeEnabled allows active reachability probes.
	ProbeEnabled bool

	// ProbeOverride makes a successful probe ONLINE regardless of windows,
	// and lets the probe run even when provider telemetry produced a candidate.
	ProbeOverride bool

	// ProbeTimeout bounds each probe.
	ProbeTimeout time.Duration

	// ProviderLookback is how far back the activity feed is queried.
	ProviderLookback time.Duration

	// Concurrency is the number of devices evaluated in parallel.
	Concurrency int
}

// TimestampPolicy classifies by activity age: 20s ONLINE, 120s UNSTABLE.
func TimestampPolicy() Policy {
	return Policy{
		Name:             PolicyTimestamp,
		OnlineWithin:     20 * time.Second,
		UnstableWithin:   120 * time.Second,
		ProbeEnabled:     true,
		ProbeTimeout:     1500 * time.Millisecond,
		ProviderLookback: 24 * time.Hour,
		Concurrency:      8,
	}
}

// ProbeFirstPolicy treats a successful probe as ONLINE and otherwise keeps
// a device UNSTABLE for 300s after its last activity.
func ProbeFirstPolicy() Policy {
	return Policy{
		Name:             PolicyProbeFirst,
		OnlineWithin:     0,
		UnstableWithin:   300 * time.Second,
		ProbeEnabled:     true,
		ProbeOverride:    true,
		ProbeTimeout:     1500 * time.Millisecond,
		ProviderLookback: 24 * time.Hour,
		Concurrency:      8,
	}
}

// PolicyByName returns the named preset.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", PolicyTimestamp:
		return TimestampPolicy(), nil
	case PolicyProbeFirst:
		return ProbeFirstPolicy(), nil
	default:
		return Policy{}, fmt.Errorf("unknown liveness policy %q", name)
	}
}

// PolicyFromEnv selects a preset with LIVENESS_POLICY and applies
// per-field overrides from the environment.
func PolicyFromEnv() (Policy, error) {
	p, err := PolicyByName(os.Getenv("LIVENESS_POLICY"))
	if err != nil {
		return Policy{}, err
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"LIVENESS_ONLINE_WITHIN", &p.OnlineWithin},
		{"LIVENESS_UNSTABLE_WITHIN", &p.UnstableWithin},
		{"LIVENESS_PROBE_TIMEOUT", &p.ProbeTimeout},
		{"LIVENESS_PROVIDER_LOOKBACK", &p.ProviderLookback},
	}
	for _, d := range durations {
		if v := os.Getenv(d.key); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return Policy{}, fmt.Errorf("parse %s: %w", d.key, err)
			}
			*d.dst = parsed
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"LIVENESS_PROBE_ENABLED", &p.ProbeEnabled},
		{"LIVENESS_PROBE_OVERRIDE", &p.ProbeOverride},
	}
	for _, b := range bools {
		if v := os.Getenv(b.key); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return Policy{}, fmt.Errorf("parse %s: %w", b.key, err)
			}
			*b.dst = parsed
		}
	}

	if v := os.Getenv("LIVENESS_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Policy{}, fmt.Errorf("parse LIVENESS_CONCURRENCY: %w", err)
		}
		p.Concurrency = n
	}

	return p, p.Validate()
}

// Validate checks that the windows are ordered and bounds are positive.
func (p Policy) Validate() error {
	if p.OnlineWithin < 0 || p.UnstableWithin < 0 {
		return fmt.Errorf("liveness windows must not be negative")
	}
	if p.UnstableWithin < p.OnlineWithin {
		return fmt.Errorf("unstable window %s is shorter than online window %s", p.UnstableWithin, p.OnlineWithin)
	}
	if p.Concurrency < 1 {
		return fmt.Errorf("liveness concurrency must be at least 1")
	}
	return nil
}

// Classify maps the last activity instant to a status. A nil instant is OFFLINE.
func (p Policy) Classify(lastSeen *time.Time, now time.Time) Status {
	if lastSeen == nil {
		return StatusOffline
	}

	age := now.Sub(*lastSeen)
	switch {
	case age <= p.OnlineWithin:
		return StatusOnline
	case age <= p.UnstableWithin:
		return StatusUnstable
	default:
		return StatusOffline
	}
}
