package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clockwatch/clockwatch/internal/api/middleware"
	"github.com/clockwatch/clockwatch/internal/api/models"
	"github.com/clockwatch/clockwatch/internal/api/response"
)

// requestWithID returns a request whose context went through the RequestID middleware.
func requestWithID(t *testing.T, method, path string) *http.Request {
	t.Helper()
	var processed *http.Request
	handler := middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		processed = r
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(method, path, http.NoBody))
	require.NotNil(t, processed)
	return processed
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) models.Problem {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p models.Problem
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	return p
}

func TestJSON_IncludesRequestID(t *testing.T) {
	req := requestWithID(t, http.MethodGet, "/v1/devices")
	rec := httptest.NewRecorder()

	response.JSON(rec, req, http.StatusOK, map[string]string{"serial": "CID-001"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, middleware.GetRequestID(req.Context()), rec.Header().Get(middleware.RequestIDHeader))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"serial":"CID-001"}`, rec.Body.String())
}

func TestJSON_WithoutRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	response.JSON(rec, httptest.NewRequest(http.MethodGet, "/v1/devices", http.NoBody), http.StatusOK, nil)

	assert.Empty(t, rec.Header().Get(middleware.RequestIDHeader))
	assert.Empty(t, rec.Body.String())
}

func TestCreatedAndAccepted_SetLocation(t *testing.T) {
	req := requestWithID(t, http.MethodPost, "/v1/devices")

	rec := httptest.NewRecorder()
	response.Created(rec, req, "/v1/devices/CID-001", map[string]string{"serial": "CID-001"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/v1/devices/CID-001", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	response.Accepted(rec, req, "", map[string]string{"jobType": "provider_reconcile"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))
}

func TestBadRequest_CarriesFieldErrors(t *testing.T) {
	req := requestWithID(t, http.MethodPost, "/v1/heartbeat")
	rec := httptest.NewRecorder()

	response.BadRequest(rec, req, "validation error", []models.FieldError{
		{Field: "serial", Message: "serial is required", Code: "required"},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	p := decodeProblem(t, rec)
	assert.Equal(t, models.ProblemTypeValidation, p.Type)
	assert.Equal(t, "/v1/heartbeat", p.Instance)
	assert.Equal(t, middleware.GetRequestID(req.Context()), p.TraceID)
	require.Len(t, p.Errors, 1)
	assert.Equal(t, "serial", p.Errors[0].Field)
}

func TestProblemHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter, *http.Request)
		status int
		typ    string
	}{
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) { response.Unauthorized(w, r, "d") }, 401, models.ProblemTypeUnauthorized},
		{"not found", func(w http.ResponseWriter, r *http.Request) { response.NotFound(w, r, "d") }, 404, models.ProblemTypeNotFound},
		{"device not found", func(w http.ResponseWriter, r *http.Request) { response.DeviceNotFound(w, r, "CID-001") }, 404, models.ProblemTypeDeviceNotFound},
		{"conflict", func(w http.ResponseWriter, r *http.Request) { response.Conflict(w, r, "d") }, 409, models.ProblemTypeConflict},
		{"serial conflict", func(w http.ResponseWriter, r *http.Request) { response.SerialConflict(w, r, "d") }, 409, models.ProblemTypeSerialConflict},
		{"ledger required", func(w http.ResponseWriter, r *http.Request) { response.LedgerRequired(w, r, "d") }, 400, models.ProblemTypeLedgerRequired},
		{"internal", func(w http.ResponseWriter, r *http.Request) { response.InternalError(w, r, "d") }, 500, models.ProblemTypeInternal},
		{"unavailable", func(w http.ResponseWriter, r *http.Request) { response.ServiceUnavailable(w, r, "d") }, 503, models.ProblemTypeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := requestWithID(t, http.MethodGet, "/v1/devices/CID-001")
			rec := httptest.NewRecorder()

			tt.write(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			p := decodeProblem(t, rec)
			assert.Equal(t, tt.typ, p.Type)
			assert.Equal(t, tt.status, p.Status)
			assert.Equal(t, "/v1/devices/CID-001", p.Instance)
			assert.NotEmpty(t, p.TraceID)
		})
	}
}

func TestProviderFailure(t *testing.T) {
	req := requestWithID(t, http.MethodPost, "/v1/provider/sync")
	rec := httptest.NewRecorder()

	response.ProviderFailure(rec, req, models.ProblemTypeProviderAuth, "secullum", http.StatusUnauthorized, "credentials rejected")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	p := decodeProblem(t, rec)
	assert.Equal(t, models.ProblemTypeProviderAuth, p.Type)
	assert.Equal(t, "secullum", p.Provider)
	assert.Equal(t, http.StatusUnauthorized, p.ProviderStatus)
	assert.Equal(t, "credentials rejected", p.Detail)
}

func TestProviderUnavailable_SetsRetryAfter(t *testing.T) {
	req := requestWithID(t, http.MethodGet, "/v1/provider/equipment")
	rec := httptest.NewRecorder()

	response.ProviderUnavailable(rec, req, "secullum", 30*time.Second)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	p := decodeProblem(t, rec)
	assert.Equal(t, models.ProblemTypeProviderUnavailable, p.Type)
	assert.Equal(t, "secullum", p.Provider)
	assert.Zero(t, p.ProviderStatus)

	rec = httptest.NewRecorder()
	response.ProviderUnavailable(rec, req, "secullum", 0)
	assert.Empty(t, rec.Header().Get("Retry-After"))
}
