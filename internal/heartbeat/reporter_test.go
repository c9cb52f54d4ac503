package heartbeat_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clockwatch/clockwatch/internal/heartbeat"
)

type fakeAPI struct {
	server *httptest.Server

	mu      sync.Mutex
	serials []string
	status  int
}

func (a *fakeAPI) setStatus(status int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = status
}

func (a *fakeAPI) received() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.serials...)
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{status: http.StatusOK}
	api.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/heartbeat" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body struct {
			Serial string `json:"serial"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		api.mu.Lock()
		api.serials = append(api.serials, body.Serial)
		status := api.status
		api.mu.Unlock()

		w.WriteHeader(status)
	}))
	t.Cleanup(api.server.Close)
	return api
}

func newTerminal(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/api/status", r.URL.Path)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newReporter(t *testing.T, apiURL, statusURL string) *heartbeat.Reporter {
	t.Helper()
	r, err := heartbeat.NewReporter(heartbeat.Config{
		APIURL:    apiURL + "/",
		Serial:    "CID-001",
		StatusURL: statusURL,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return r
}

func TestCheck_TerminalUpSendsHeartbeat(t *testing.T) {
	api := newFakeAPI(t)
	terminal, hits := newTerminal(t, http.StatusOK)

	r := newReporter(t, api.server.URL, terminal.URL+"/api/status")

	require.NoError(t, r.Check(context.Background()))
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, []string{"CID-001"}, api.received())
}

func TestCheck_TerminalDownSkipsHeartbeat(t *testing.T) {
	api := newFakeAPI(t)
	terminal, _ := newTerminal(t, http.StatusServiceUnavailable)

	r := newReporter(t, api.server.URL, terminal.URL+"/api/status")

	err := r.Check(context.Background())
	assert.ErrorIs(t, err, heartbeat.ErrTerminalDown)
	assert.Empty(t, api.received())
}

func TestCheck_TerminalUnreachable(t *testing.T) {
	api := newFakeAPI(t)
	terminal, _ := newTerminal(t, http.StatusOK)
	statusURL := terminal.URL + "/api/status"
	terminal.Close()

	r := newReporter(t, api.server.URL, statusURL)

	assert.ErrorIs(t, r.Check(context.Background()), heartbeat.ErrTerminalDown)
	assert.Empty(t, api.received())
}

func TestCheck_UnknownSerialIsAnError(t *testing.T) {
	api := newFakeAPI(t)
	api.setStatus(http.StatusNotFound)
	terminal, _ := newTerminal(t, http.StatusOK)

	r := newReporter(t, api.server.URL, terminal.URL+"/api/status")

	err := r.Check(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, heartbeat.ErrTerminalDown)
	assert.Contains(t, err.Error(), "404")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  heartbeat.Config
	}{
		{"missing api", heartbeat.Config{Serial: "A", StatusURL: "http://x"}},
		{"missing serial", heartbeat.Config{APIURL: "http://api", StatusURL: "http://x"}},
		{"missing status url", heartbeat.Config{APIURL: "http://api", Serial: "A"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := heartbeat.NewReporter(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestStatusURLFor(t *testing.T) {
	assert.Equal(t, "http://192.168.50.234/api/status", heartbeat.StatusURLFor("192.168.50.234"))
}
