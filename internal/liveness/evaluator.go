package liveness

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clockwatch/clockwatch/internal/device"
)

// Source names the signal that produced an evaluation's candidate observation.
type Source string

// Source values.
const (
	SourceProvider Source = "provider"
	SourceProbe    Source = "probe"
	SourceStored   Source = "stored"
	SourceNone     Source = "none"
)

// ActivitySource reports the latest provider-side activity for an equipment.
type ActivitySource interface {
	LatestActivity(ctx context.Context, equipmentID int64, since time.Time) (time.Time, bool, error)
}

// Prober checks reachability of a network address.
type Prober interface {
	Probe(ctx context.Context, address string, timeout time.Duration) bool
}

// Evaluation is the outcome of evaluating one device.
type Evaluation struct {
	// Device carries the effective LastSeenAt.
	Device *device.Device

	Status Status
	Source Source

	// Advanced is true when LastSeenAt moved forward in this evaluation.
	Advanced bool

	// ProbeOK is true when a probe ran and succeeded.
	ProbeOK bool

	// ProviderErr holds the provider failure that was absorbed, if any.
	ProviderErr error
}

// EvaluatorConfig holds configuration for the Evaluator.
type EvaluatorConfig struct {
	Policy Policy

	// Activity supplies provider telemetry. Optional.
	Activity ActivitySource

	// Prober performs reachability checks. Optional.
	Prober Prober

	// Repository receives the batched last-seen commit.
	Repository device.Repository

	Logger zerolog.Logger

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Evaluator computes device liveness.
type Evaluator struct {
	policy   Policy
	activity ActivitySource
	prober   Prober
	repo     device.Repository
	log      zerolog.Logger
	now      func() time.Time
}

// NewEvaluator creates a new Evaluator.
func NewEvaluator(cfg EvaluatorConfig) *Evaluator {
	if cfg.Policy.Concurrency < 1 {
		cfg.Policy.Concurrency = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Evaluator{
		policy:   cfg.Policy,
		activity: cfg.Activity,
		prober:   cfg.Prober,
		repo:     cfg.Repository,
		log:      cfg.Logger.With().Str("component", "liveness").Logger(),
		now:      cfg.Now,
	}
}

// Policy returns the active policy.
func (e *Evaluator) Policy() Policy {
	return e.policy
}

// Evaluate computes the status of a single device without persisting anything.
func (e *Evaluator) Evaluate(ctx context.Context, d *device.Device) Evaluation {
	now := e.now()
	d = d.Clone()
	ev := Evaluation{Device: d}

	var candidate *time.Time

	if d.IsProviderManaged() && e.activity != nil {
		since := now.Add(-e.policy.ProviderLookback)
		at, ok, err := e.activity.LatestActivity(ctx, *d.ExternalEquipmentID, since)
		switch {
		case err != nil:
			ev.ProviderErr = err
			e.log.Warn().
				Err(err).
				Str("serial", d.Serial).
				Int64("equipment_id", *d.ExternalEquipmentID).
				Msg("provider telemetry unavailable, falling back")
		case ok:
			// Provider clock skew must not push last-seen into the future
			if at.After(now) {
				at = now
			}
			candidate = &at
			ev.Source = SourceProvider
		}
	}

	runProbe := e.policy.ProbeEnabled && e.prober != nil && d.HasProbeableAddress() &&
		(candidate == nil || e.policy.ProbeOverride)
	if runProbe && e.prober.Probe(ctx, d.NetworkAddress, e.policy.ProbeTimeout) {
		ev.ProbeOK = true
		at := now
		candidate = &at
		ev.Source = SourceProbe
	}

	switch {
	case candidate != nil && (d.LastSeenAt == nil || candidate.After(*d.LastSeenAt)):
		d.LastSeenAt = candidate
		ev.Advanced = true
	case candidate == nil && d.LastSeenAt != nil:
		ev.Source = SourceStored
	case candidate == nil:
		ev.Source = SourceNone
	}

	if ev.ProbeOK && e.policy.ProbeOverride {
		ev.Status = StatusOnline
	} else {
		ev.Status = e.policy.Classify(d.LastSeenAt, now)
	}

	return ev
}

// Preview evaluates devices through the same bounded pool as EvaluateAll but
// persists nothing. Evaluations are returned in input order.
func (e *Evaluator) Preview(ctx context.Context, devices []*device.Device) []Evaluation {
	results := make([]Evaluation, len(devices))

	// Evaluate never fails, so the group only bounds concurrency
	var g errgroup.Group
	g.SetLimit(e.policy.Concurrency)
	for i, d := range devices {
		g.Go(func() error {
			results[i] = e.Evaluate(ctx, d)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// EvaluateAll evaluates devices concurrently and then commits every
// last-seen advance in a single registry call. Evaluations are returned in
// input order. The error reports only a failed commit; the evaluations are
// still valid and returned alongside it.
func (e *Evaluator) EvaluateAll(ctx context.Context, devices []*device.Device) ([]Evaluation, error) {
	results := e.Preview(ctx, devices)
	if len(results) == 0 {
		return results, nil
	}

	var updates []device.LastSeenUpdate
	providerFailures := 0
	for _, ev := range results {
		if ev.Advanced {
			updates = append(updates, device.LastSeenUpdate{DeviceID: ev.Device.ID, At: *ev.Device.LastSeenAt})
		}
		if ev.ProviderErr != nil {
			providerFailures++
		}
	}

	e.log.Debug().
		Int("devices", len(devices)).
		Int("advanced", len(updates)).
		Int("provider_failures", providerFailures).
		Msg("liveness pass evaluated")

	if len(updates) == 0 || e.repo == nil {
		return results, nil
	}
	if err := e.repo.SaveLastSeen(ctx, updates); err != nil {
		return results, fmt.Errorf("commit last seen: %w", err)
	}
	return results, nil
}
