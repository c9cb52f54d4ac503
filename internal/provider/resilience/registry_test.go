package resilience_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clockwatch/clockwatch/internal/provider/resilience"
)

func TestRegistry_NamesAndSnapshotAreSorted(t *testing.T) {
	registry := resilience.NewRegistry()
	for _, name := range []string{"secullum", "controlid", "henry"} {
		resilience.NewClient(resilience.ClientConfig{Name: name, Registry: registry})
	}

	assert.Equal(t, []string{"controlid", "henry", "secullum"}, registry.Names())

	snap := registry.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "controlid", snap[0].Name)
	assert.Equal(t, "secullum", snap[2].Name)
	for _, h := range snap {
		assert.Equal(t, resilience.StateOK, h.State, "untouched providers are ok")
	}
}

func TestRegistry_UnknownProvider(t *testing.T) {
	_, ok := resilience.NewRegistry().Health("secullum")
	assert.False(t, ok)
}

func TestRegistry_RecoversAfterSuccess(t *testing.T) {
	srv, _ := flakyServer(t, 1, http.StatusInternalServerError)
	registry := resilience.NewRegistry()
	c := resilience.NewClient(resilience.ClientConfig{
		Name:           "secullum",
		DisableRetries: true,
		Registry:       registry,
		Logger:         zerolog.Nop(),
	})

	_, err := get(t, context.Background(), c, srv.URL)
	require.NoError(t, err)
	h, _ := registry.Health("secullum")
	assert.Equal(t, resilience.StateDegraded, h.State)

	_, err = get(t, context.Background(), c, srv.URL)
	require.NoError(t, err)
	h, _ = registry.Health("secullum")
	assert.Equal(t, resilience.StateOK, h.State)
	assert.NotEmpty(t, h.LastError, "the last error is kept for operators")
}

func TestBreakerConfigFromEnv(t *testing.T) {
	t.Setenv("PROVIDER_BREAKER_TIMEOUT", "45s")
	t.Setenv("PROVIDER_BREAKER_FAILURES", "3")

	cfg := resilience.BreakerConfigFromEnv("secullum")
	assert.Equal(t, "secullum", cfg.Name)
	assert.Equal(t, 45*time.Second, cfg.Timeout)
	assert.Equal(t, uint32(3), cfg.ConsecutiveFailures)
	assert.Equal(t, uint32(1), cfg.MaxRequests)
}

func TestBreakerConfigFromEnv_IgnoresInvalid(t *testing.T) {
	t.Setenv("PROVIDER_BREAKER_TIMEOUT", "soon")
	t.Setenv("PROVIDER_BREAKER_FAILURES", "-1")

	cfg := resilience.BreakerConfigFromEnv("secullum")
	assert.Equal(t, resilience.DefaultBreakerConfig("secullum"), cfg)
}
