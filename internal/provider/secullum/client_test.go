package secullum_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clockwatch/clockwatch/internal/provider/resilience"
	"github.com/clockwatch/clockwatch/internal/provider/secullum"
)

func newDataClient(t *testing.T, handler http.HandlerFunc) (*secullum.Client, *fakeClock) {
	t.Helper()

	auth := newAuthServer(t)
	clock := newFakeClock()
	session := newSession(auth, clock)
	session.SelectLedger("101")

	api := httptest.NewServer(handler)
	t.Cleanup(api.Close)

	return secullum.NewClient(secullum.ClientConfig{
		BaseURL:    api.URL,
		Session:    session,
		HTTPClient: api.Client(),
		Location:   time.UTC,
		Logger:     zerolog.Nop(),
		Now:        clock.Now,
	}), clock
}

func TestClient_Equipment(t *testing.T) {
	client, _ := newDataClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Equipamentos", r.URL.Path)
		assert.Equal(t, "101", r.Header.Get("secullumidbancoselecionado"))
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[
			{"Id": 1, "Descricao": "Portaria", "EnderecoIP": "10.1.1.10"},
			{"Descricao": "sem id"},
			{"Id": "2", "Descricao": " Refeitorio ", "EnderecoIP": ""},
			{"Id": "abc"}
		]`))
	})

	catalog, err := client.Equipment(context.Background())
	require.NoError(t, err)

	require.Len(t, catalog.Items, 2)
	assert.Equal(t, 2, catalog.Malformed)
	assert.Equal(t, secullum.Equipment{ID: 1, Description: "Portaria", Address: "10.1.1.10"}, catalog.Items[0])
	assert.Equal(t, secullum.Equipment{ID: 2, Description: "Refeitorio"}, catalog.Items[1])
}

func TestClient_ServerErrorIsProviderQueryError(t *testing.T) {
	client, _ := newDataClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})

	_, err := client.Equipment(context.Background())

	var queryErr *secullum.ProviderQueryError
	require.ErrorAs(t, err, &queryErr)
	assert.Equal(t, "Equipamentos", queryErr.Endpoint)
	assert.Equal(t, http.StatusInternalServerError, queryErr.StatusCode)
	assert.Equal(t, "boom", queryErr.Body)
}

func TestClient_NoLedgerSelected(t *testing.T) {
	auth := newAuthServer(t)
	session := newSession(auth, newFakeClock())
	client := secullum.NewClient(secullum.ClientConfig{
		BaseURL:    "http://127.0.0.1:0",
		Session:    session,
		HTTPClient: http.DefaultClient,
		Logger:     zerolog.Nop(),
	})

	_, err := client.Equipment(context.Background())
	assert.ErrorIs(t, err, secullum.ErrNoLedgerSelected)
}

func TestClient_ActivityFeedSkipsMalformedRows(t *testing.T) {
	client, _ := newDataClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/FonteDados", r.URL.Path)
		assert.Equal(t, "2024-05-09", r.URL.Query().Get("dataInicio"))
		assert.Equal(t, "2024-05-10", r.URL.Query().Get("dataFim"))
		assert.Equal(t, "7", r.URL.Query().Get("equipamentoId"))
		_, _ = w.Write([]byte(`[
			{"EquipamentoId": 7, "Data": "2024-05-10", "Hora": "08:15"},
			{"EquipamentoId": 7, "Hora": "08:59"},
			{"EquipamentoId": 7, "Data": "2024-05-10T00:00:00", "Hora": "08:42:10"},
			{"EquipamentoId": 7, "Data": "10/05/2024", "Hora": "07:00"},
			{"EquipamentoId": 7, "Data": "not a date", "Hora": "09:00"},
			{"EquipamentoId": 7, "Data": "2024-05-10", "Hora": "25:99"}
		]`))
	})

	at, ok, err := client.LatestActivity(context.Background(), 7, time.Date(2024, 5, 9, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 5, 10, 8, 42, 10, 0, time.UTC), at)
}

func TestClient_ActivityFeedCounts(t *testing.T) {
	client, clock := newDataClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
			{"EquipamentoId": 7, "Data": "2024-05-10", "Hora": "08:15"},
			{"EquipamentoId": 7, "Data": "", "Hora": "08:15"}
		]`))
	})

	feed, err := client.ActivityFeed(context.Background(), secullum.EventQuery{
		Start: clock.Now().AddDate(0, 0, -7),
		End:   clock.Now(),
	})
	require.NoError(t, err)
	assert.Len(t, feed.Events, 1)
	assert.Equal(t, 1, feed.Malformed)
	require.NotNil(t, feed.Events[0].EquipmentID)
	assert.Equal(t, int64(7), *feed.Events[0].EquipmentID)
}

func TestClient_LatestActivityEmptyFeed(t *testing.T) {
	client, clock := newDataClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	_, ok, err := client.LatestActivity(context.Background(), 7, clock.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_Punches(t *testing.T) {
	client, clock := newDataClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Batidas", r.URL.Path)
		assert.Empty(t, r.URL.Query().Get("equipamentoId"))
		_, _ = w.Write([]byte(`[{"EquipamentoId": "3", "Data": "2024-05-10", "Hora": "12:00"}]`))
	})

	feed, err := client.Punches(context.Background(), secullum.EventQuery{
		Start: clock.Now().AddDate(0, 0, -1),
		End:   clock.Now(),
	})
	require.NoError(t, err)
	require.Len(t, feed.Events, 1)
	assert.Equal(t, time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC), feed.Events[0].At)
}

func TestClient_ParsesInProviderTimezone(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)

	auth := newAuthServer(t)
	session := newSession(auth, newFakeClock())
	session.SelectLedger("101")

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"EquipamentoId": 1, "Data": "2024-05-10", "Hora": "08:00"}]`))
	}))
	defer api.Close()

	client := secullum.NewClient(secullum.ClientConfig{
		BaseURL:    api.URL,
		Session:    session,
		HTTPClient: api.Client(),
		Location:   loc,
		Logger:     zerolog.Nop(),
	})

	at, ok, err := client.LatestActivity(context.Background(), 1, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, at.Equal(time.Date(2024, 5, 10, 11, 0, 0, 0, time.UTC)))
}

func TestClient_NoRetryThroughResilientClient(t *testing.T) {
	var attempts atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer api.Close()

	auth := newAuthServer(t)
	session := newSession(auth, newFakeClock())
	session.SelectLedger("101")

	client := secullum.NewClient(secullum.ClientConfig{
		BaseURL: api.URL,
		Session: session,
		HTTPClient: resilience.NewClient(resilience.ClientConfig{
			Name:           secullum.ProviderName,
			Timeout:        2 * time.Second,
			DisableRetries: true,
		}),
		Location: time.UTC,
		Logger:   zerolog.Nop(),
	})

	_, err := client.Equipment(context.Background())

	var queryErr *secullum.ProviderQueryError
	require.ErrorAs(t, err, &queryErr)
	assert.Equal(t, http.StatusServiceUnavailable, queryErr.StatusCode)
	assert.Equal(t, int32(1), attempts.Load())
}
