package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/clockwatch/clockwatch/internal/device"
	"github.com/clockwatch/clockwatch/internal/liveness"
	"github.com/clockwatch/clockwatch/internal/reconcile"
)

// LivenessEvaluator evaluates and commits a liveness pass.
type LivenessEvaluator interface {
	EvaluateAll(ctx context.Context, devices []*device.Device) ([]liveness.Evaluation, error)
}

// Reconciler merges provider equipment into the registry.
type Reconciler interface {
	ReconcileExisting(ctx context.Context) (*reconcile.ReconcileResult, error)
	ImportUnlinked(ctx context.Context, ledgerID string) (*reconcile.ImportResult, error)
}

// SweepJob periodically refreshes device liveness.
type SweepJob struct {
	config     SweepConfig
	logger     zerolog.Logger
	repo       device.Repository
	evaluator  LivenessEvaluator
	reconciler Reconciler

	runs    atomic.Int64
	metrics *SweepMetrics
}

// SweepMetrics tracks sweep statistics.
type SweepMetrics struct {
	mu sync.RWMutex

	// Counters
	TotalSweeps     int64
	FailedSweeps    int64
	Reconciliations int64
	Advanced        int64
	ProviderErrors  int64

	// Timings
	LastSweepAt       time.Time
	LastSweepDuration time.Duration
	TotalDuration     time.Duration
}

// SweepJobConfig holds configuration for creating a SweepJob.
type SweepJobConfig struct {
	Config     SweepConfig
	Logger     zerolog.Logger
	Repository device.Repository
	Evaluator  LivenessEvaluator

	// Reconciler is optional; nil disables reconciliation.
	Reconciler Reconciler
}

// NewSweepJob creates a new sweep job.
func NewSweepJob(cfg SweepJobConfig) *SweepJob {
	config := cfg.Config
	if config.Interval <= 0 {
		config.Interval = DefaultSweepConfig().Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultSweepConfig().Timeout
	}

	return &SweepJob{
		config:     config,
		logger:     cfg.Logger,
		repo:       cfg.Repository,
		evaluator:  cfg.Evaluator,
		reconciler: cfg.Reconciler,
		metrics:    &SweepMetrics{},
	}
}

// SweepResult contains the result of a sweep.
type SweepResult struct {
	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	Devices        int
	Online         int
	Unstable       int
	Offline        int
	Advanced       int
	ProviderErrors int
	Reconciled     bool
	Reconcile      *reconcile.ReconcileResult
	Errors         []string
}

// Failed reports whether the sweep could not evaluate or commit.
func (r *SweepResult) Failed() bool {
	return len(r.Errors) > 0 && r.Devices == 0
}

// Start runs sweeps on the configured interval until ctx is cancelled.
func (j *SweepJob) Start(ctx context.Context) {
	j.logger.Info().
		Dur("interval", j.config.Interval).
		Int("reconcile_every", j.config.ReconcileEvery).
		Msg("starting liveness sweep loop")

	j.Run(ctx)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info().Msg("liveness sweep loop stopped")
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}

// Run executes one sweep: optional reconciliation, then a liveness pass over every device.
func (j *SweepJob) Run(ctx context.Context) *SweepResult {
	run := j.runs.Add(1)
	return j.run(ctx, j.config.ShouldReconcile(run))
}

// RunReconcile executes a sweep that always reconciles first.
func (j *SweepJob) RunReconcile(ctx context.Context) *SweepResult {
	j.runs.Add(1)
	return j.run(ctx, true)
}

func (j *SweepJob) run(ctx context.Context, reconcileFirst bool) *SweepResult {
	startTime := time.Now()
	result := &SweepResult{StartTime: startTime}

	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	if reconcileFirst && j.reconciler != nil {
		rec, err := j.reconciler.ReconcileExisting(ctx)
		if err != nil {
			// The pass below still runs on the registry as last observed
			j.logger.Warn().Err(err).Msg("provider reconciliation failed")
			result.Errors = append(result.Errors, err.Error())
		} else {
			result.Reconciled = true
			result.Reconcile = rec
		}
	}

	devices, err := j.repo.List(ctx, device.ListOptions{})
	if err != nil {
		j.logger.Error().Err(err).Msg("failed to list devices")
		result.Errors = append(result.Errors, err.Error())
		j.finish(result)
		return result
	}

	evs, err := j.evaluator.EvaluateAll(ctx, devices)
	if err != nil {
		j.logger.Error().Err(err).Msg("failed to commit liveness pass")
		result.Errors = append(result.Errors, err.Error())
	}

	result.Devices = len(evs)
	for _, ev := range evs {
		switch ev.Status {
		case liveness.StatusOnline:
			result.Online++
		case liveness.StatusUnstable:
			result.Unstable++
		default:
			result.Offline++
		}
		if ev.Advanced && err == nil {
			result.Advanced++
		}
		if ev.ProviderErr != nil {
			result.ProviderErrors++
		}
	}

	j.finish(result)
	return result
}

func (j *SweepJob) finish(result *SweepResult) {
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	j.updateMetrics(result)

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("devices", result.Devices).
		Int("online", result.Online).
		Int("unstable", result.Unstable).
		Int("offline", result.Offline).
		Int("advanced", result.Advanced).
		Int("provider_errors", result.ProviderErrors).
		Bool("reconciled", result.Reconciled).
		Msg("liveness sweep completed")
}

func (j *SweepJob) updateMetrics(result *SweepResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalSweeps++
	if len(result.Errors) > 0 {
		j.metrics.FailedSweeps++
	}
	if result.Reconciled {
		j.metrics.Reconciliations++
	}
	j.metrics.Advanced += int64(result.Advanced)
	j.metrics.ProviderErrors += int64(result.ProviderErrors)
	j.metrics.LastSweepAt = result.EndTime
	j.metrics.LastSweepDuration = result.Duration
	j.metrics.TotalDuration += result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *SweepJob) GetMetrics() SweepMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return SweepMetrics{
		TotalSweeps:       j.metrics.TotalSweeps,
		FailedSweeps:      j.metrics.FailedSweeps,
		Reconciliations:   j.metrics.Reconciliations,
		Advanced:          j.metrics.Advanced,
		ProviderErrors:    j.metrics.ProviderErrors,
		LastSweepAt:       j.metrics.LastSweepAt,
		LastSweepDuration: j.metrics.LastSweepDuration,
		TotalDuration:     j.metrics.TotalDuration,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *SweepJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_sweeps":        m.TotalSweeps,
		"failed_sweeps":       m.FailedSweeps,
		"reconciliations":     m.Reconciliations,
		"advanced":            m.Advanced,
		"provider_errors":     m.ProviderErrors,
		"last_sweep_at":       m.LastSweepAt,
		"last_sweep_duration": m.LastSweepDuration.String(),
		"total_duration":      m.TotalDuration.String(),
	}
}
