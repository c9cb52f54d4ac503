// Package response writes JSON and problem responses for the API handlers.
package response

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/clockwatch/clockwatch/internal/api/middleware"
	"github.com/clockwatch/clockwatch/internal/api/models"
)

// JSON writes data with the given status code.
func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	write(w, r, status, "", data)
}

// Created writes a 201 response with a Location header.
func Created(w http.ResponseWriter, r *http.Request, location string, data interface{}) {
	write(w, r, http.StatusCreated, location, data)
}

// Accepted writes a 202 response for work handed to the background worker.
func Accepted(w http.ResponseWriter, r *http.Request, location string, data interface{}) {
	write(w, r, http.StatusAccepted, location, data)
}

func write(w http.ResponseWriter, r *http.Request, status int, location string, data interface{}) {
	if requestID := middleware.GetRequestID(r.Context()); requestID != "" {
		w.Header().Set(middleware.RequestIDHeader, requestID)
	}
	w.Header().Set("Content-Type", "application/json")
	if location != "" {
		w.Header().Set("Location", location)
	}
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Error writes problem, stamping the request path as its instance.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.Instance = r.URL.Path
	problem.Write(w)
}

func traceID(r *http.Request) string {
	return middleware.GetRequestID(r.Context())
}

// BadRequest writes a 400 response.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errors []models.FieldError) {
	Error(w, r, models.NewBadRequest(traceID(r), detail, errors))
}

// Unauthorized writes a 401 response.
func Unauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewUnauthorized(traceID(r), detail))
}

// NotFound writes a 404 response.
func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewNotFound(traceID(r), detail))
}

// DeviceNotFound writes a 404 response for an unknown serial.
func DeviceNotFound(w http.ResponseWriter, r *http.Request, serial string) {
	Error(w, r, models.NewDeviceNotFound(traceID(r), serial))
}

// Conflict writes a 409 response.
func Conflict(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewConflict(traceID(r), detail))
}

// SerialConflict writes a 409 response for a device identity already in use.
func SerialConflict(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewSerialConflict(traceID(r), detail))
}

// LedgerRequired writes a 400 response for provider calls without a ledger.
func LedgerRequired(w http.ResponseWriter, r *http.Request, detail string) {
	p := models.NewProblem(models.ProblemTypeLedgerRequired, "Ledger required", http.StatusBadRequest, traceID(r))
	p.Detail = detail
	Error(w, r, p)
}

// InternalError writes a 500 response.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewInternalError(traceID(r), detail))
}

// ServiceUnavailable writes a 503 response.
func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewServiceUnavailable(traceID(r), detail))
}

// ProviderFailure writes a 502 response for a provider that answered badly or not at all.
func ProviderFailure(w http.ResponseWriter, r *http.Request, problemType, provider string, upstreamStatus int, detail string) {
	Error(w, r, models.NewProviderError(traceID(r), problemType, provider, http.StatusBadGateway, upstreamStatus, detail))
}

// ProviderUnavailable writes a 503 response while the provider circuit is open.
func ProviderUnavailable(w http.ResponseWriter, r *http.Request, provider string, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	}
	Error(w, r, models.NewProviderError(traceID(r), models.ProblemTypeProviderUnavailable, provider,
		http.StatusServiceUnavailable, 0, "provider calls are paused after repeated failures"))
}
