package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clockwatch/clockwatch/internal/device"
	"github.com/clockwatch/clockwatch/internal/liveness"
	"github.com/clockwatch/clockwatch/internal/reconcile"
	"github.com/clockwatch/clockwatch/internal/worker"
)

type fakeReconciler struct {
	reconcileCalls int
	importCalls    []string
	err            error
}

func (f *fakeReconciler) ReconcileExisting(context.Context) (*reconcile.ReconcileResult, error) {
	f.reconcileCalls++
	if f.err != nil {
		return nil, f.err
	}
	return &reconcile.ReconcileResult{Fetched: 1}, nil
}

func (f *fakeReconciler) ImportUnlinked(_ context.Context, ledgerID string) (*reconcile.ImportResult, error) {
	f.importCalls = append(f.importCalls, ledgerID)
	if f.err != nil {
		return nil, f.err
	}
	return &reconcile.ImportResult{LedgerID: ledgerID, Created: 2}, nil
}

func seededRepo(t *testing.T, now time.Time) *device.InMemoryRepository {
	t.Helper()
	repo := device.NewInMemoryRepository()
	recent := now.Add(-5 * time.Second)
	stale := now.Add(-time.Hour)
	require.NoError(t, repo.Create(context.Background(), &device.Device{Serial: "A", LastSeenAt: &recent}))
	require.NoError(t, repo.Create(context.Background(), &device.Device{Serial: "B", LastSeenAt: &stale}))
	require.NoError(t, repo.Create(context.Background(), &device.Device{Serial: "C"}))
	return repo
}

func newSweep(t *testing.T, cfg worker.SweepConfig, rec worker.Reconciler) *worker.SweepJob {
	t.Helper()
	now := time.Now()
	repo := seededRepo(t, now)
	policy := liveness.TimestampPolicy()
	policy.ProbeEnabled = false

	return worker.NewSweepJob(worker.SweepJobConfig{
		Config:     cfg,
		Logger:     zerolog.Nop(),
		Repository: repo,
		Evaluator: liveness.NewEvaluator(liveness.EvaluatorConfig{
			Policy:     policy,
			Repository: repo,
			Logger:     zerolog.Nop(),
		}),
		Reconciler: rec,
	})
}

func TestDefaultSweepConfig(t *testing.T) {
	cfg := worker.DefaultSweepConfig()

	assert.Equal(t, 60*time.Second, cfg.Interval)
	assert.Equal(t, 10, cfg.ReconcileEvery)
	assert.Equal(t, 45*time.Second, cfg.Timeout)
}

func TestSweepConfigFromEnv(t *testing.T) {
	t.Setenv("WORKER_SWEEP_INTERVAL", "15s")
	t.Setenv("WORKER_RECONCILE_EVERY", "0")

	cfg, err := worker.SweepConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.Interval)
	assert.False(t, cfg.ShouldReconcile(1))

	t.Setenv("WORKER_SWEEP_INTERVAL", "soon")
	_, err = worker.SweepConfigFromEnv()
	assert.Error(t, err)
}

func TestSweepConfig_ShouldReconcile(t *testing.T) {
	cfg := worker.SweepConfig{ReconcileEvery: 3}

	assert.True(t, cfg.ShouldReconcile(1))
	assert.False(t, cfg.ShouldReconcile(2))
	assert.True(t, cfg.ShouldReconcile(3))
	assert.True(t, cfg.ShouldReconcile(6))
}

func TestSweepJob_Run(t *testing.T) {
	rec := &fakeReconciler{}
	job := newSweep(t, worker.SweepConfig{Interval: time.Minute, ReconcileEvery: 3}, rec)

	result := job.Run(context.Background())

	assert.Equal(t, 3, result.Devices)
	assert.Equal(t, 1, result.Online)
	assert.Equal(t, 2, result.Offline)
	assert.True(t, result.Reconciled)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 1, rec.reconcileCalls)

	result = job.Run(context.Background())
	assert.False(t, result.Reconciled)
	assert.Equal(t, 1, rec.reconcileCalls)

	metrics := job.GetMetrics()
	assert.Equal(t, int64(2), metrics.TotalSweeps)
	assert.Equal(t, int64(1), metrics.Reconciliations)
	assert.Equal(t, int64(0), metrics.FailedSweeps)
}

func TestSweepJob_ReconcileFailureStillEvaluates(t *testing.T) {
	rec := &fakeReconciler{err: errors.New("provider down")}
	job := newSweep(t, worker.SweepConfig{Interval: time.Minute, ReconcileEvery: 1}, rec)

	result := job.Run(context.Background())

	assert.False(t, result.Reconciled)
	assert.Equal(t, 3, result.Devices)
	assert.Len(t, result.Errors, 1)
	assert.False(t, result.Failed())

	snapshot := job.MetricsSnapshot()
	assert.Equal(t, int64(1), snapshot["failed_sweeps"])
}

func TestSweepJob_StartStopsOnCancel(t *testing.T) {
	job := newSweep(t, worker.SweepConfig{Interval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return job.GetMetrics().TotalSweeps >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep loop did not stop")
	}
}

func TestTransportSettingsFromEnv(t *testing.T) {
	t.Setenv("PUBSUB_PROJECT_ID", "")
	t.Setenv("NATS_URL", "")

	ps := worker.PubSubSettingsFromEnv()
	assert.False(t, ps.Enabled())
	assert.Equal(t, "clockwatch-jobs", ps.Topic)
	assert.Equal(t, "clockwatch-jobs-worker", ps.SubscriptionName)

	ns := worker.NATSSettingsFromEnv()
	assert.False(t, ns.Enabled())
	assert.Equal(t, "CLOCKWATCH_JOBS", ns.Stream)
	assert.Equal(t, "clockwatch.jobs", ns.Subject)

	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("NATS_SUBJECT", "jobs.clock")
	ns = worker.NATSSettingsFromEnv()
	assert.True(t, ns.Enabled())
	assert.Equal(t, "jobs.clock", ns.Subject)
}
