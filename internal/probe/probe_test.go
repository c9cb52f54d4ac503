package probe_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/clockwatch/clockwatch/internal/probe"
)

func TestProbe_Reachable(t *testing.T) {
	p := probe.New(probe.Config{
		Logger: zerolog.Nop(),
		Run: func(_ context.Context, address string, _ time.Duration) (bool, error) {
			return address == "10.0.0.1", nil
		},
	})

	assert.True(t, p.Probe(context.Background(), "10.0.0.1", time.Second))
	assert.False(t, p.Probe(context.Background(), "10.0.0.2", time.Second))
}

func TestProbe_ErrorIsUnreachable(t *testing.T) {
	p := probe.New(probe.Config{
		Logger: zerolog.Nop(),
		Run: func(context.Context, string, time.Duration) (bool, error) {
			return true, errors.New("socket: operation not permitted")
		},
	})

	assert.False(t, p.Probe(context.Background(), "10.0.0.1", time.Second))
}

func TestProbe_HardDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	p := probe.New(probe.Config{
		Logger: zerolog.Nop(),
		Run: func(context.Context, string, time.Duration) (bool, error) {
			// Ignores its context, like a wedged probe tool
			<-release
			return true, nil
		},
	})

	start := time.Now()
	ok := p.Probe(context.Background(), "10.0.0.1", 50*time.Millisecond)

	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestProbe_MalformedAddress(t *testing.T) {
	var calls atomic.Int32
	p := probe.New(probe.Config{
		Logger: zerolog.Nop(),
		Run: func(context.Context, string, time.Duration) (bool, error) {
			calls.Add(1)
			return true, nil
		},
	})

	for _, addr := range []string{"", "   ", "0.0.0.0", "bad host", "http://10.0.0.1", "a..b"} {
		assert.False(t, p.Probe(context.Background(), addr, time.Second), addr)
	}
	assert.Equal(t, int32(0), calls.Load(), "malformed addresses are never probed")

	assert.True(t, p.Probe(context.Background(), "relogio-01.local", time.Second))
}

func TestProbe_DefaultTimeout(t *testing.T) {
	var got time.Duration
	p := probe.New(probe.Config{
		Timeout: 200 * time.Millisecond,
		Logger:  zerolog.Nop(),
		Run: func(_ context.Context, _ string, timeout time.Duration) (bool, error) {
			got = timeout
			return true, nil
		},
	})

	assert.True(t, p.Probe(context.Background(), "10.0.0.1", 0))
	assert.Equal(t, 200*time.Millisecond, got)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PROBE_TIMEOUT", "750ms")
	t.Setenv("PROBE_PRIVILEGED", "true")

	cfg := probe.ConfigFromEnv()
	assert.Equal(t, 750*time.Millisecond, cfg.Timeout)
	assert.True(t, cfg.Privileged)
}
