package liveness_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clockwatch/clockwatch/internal/liveness"
)

func TestPolicyByName(t *testing.T) {
	p, err := liveness.PolicyByName("")
	require.NoError(t, err)
	assert.Equal(t, liveness.PolicyTimestamp, p.Name)
	assert.Equal(t, 20*time.Second, p.OnlineWithin)
	assert.Equal(t, 120*time.Second, p.UnstableWithin)
	assert.False(t, p.ProbeOverride)

	p, err = liveness.PolicyByName("probe-first")
	require.NoError(t, err)
	assert.Equal(t, 300*time.Second, p.UnstableWithin)
	assert.True(t, p.ProbeOverride)

	_, err = liveness.PolicyByName("magic")
	assert.Error(t, err)
}

func TestPolicyFromEnv(t *testing.T) {
	t.Setenv("LIVENESS_POLICY", "timestamp")
	t.Setenv("LIVENESS_ONLINE_WITHIN", "30s")
	t.Setenv("LIVENESS_UNSTABLE_WITHIN", "5m")
	t.Setenv("LIVENESS_PROBE_ENABLED", "false")
	t.Setenv("LIVENESS_CONCURRENCY", "4")

	p, err := liveness.PolicyFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, p.OnlineWithin)
	assert.Equal(t, 5*time.Minute, p.UnstableWithin)
	assert.False(t, p.ProbeEnabled)
	assert.Equal(t, 4, p.Concurrency)
}

func TestPolicyFromEnv_RejectsInvertedWindows(t *testing.T) {
	t.Setenv("LIVENESS_ONLINE_WITHIN", "10m")
	t.Setenv("LIVENESS_UNSTABLE_WITHIN", "1m")

	_, err := liveness.PolicyFromEnv()
	assert.Error(t, err)
}

func TestPolicy_ClassifyBoundaries(t *testing.T) {
	p := liveness.TimestampPolicy()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	exactly := func(d time.Duration) *time.Time {
		t := at.Add(-d)
		return &t
	}

	assert.Equal(t, liveness.StatusOnline, p.Classify(exactly(20*time.Second), at))
	assert.Equal(t, liveness.StatusUnstable, p.Classify(exactly(21*time.Second), at))
	assert.Equal(t, liveness.StatusUnstable, p.Classify(exactly(120*time.Second), at))
	assert.Equal(t, liveness.StatusOffline, p.Classify(exactly(121*time.Second), at))
	assert.Equal(t, liveness.StatusOffline, p.Classify(nil, at))
}
