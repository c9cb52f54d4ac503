package models

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 error document, served as application/problem+json.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// TraceID matches the X-Request-Id header.
	TraceID string `json:"traceId"`

	Errors []FieldError `json:"errors,omitempty"`

	// Provider and ProviderStatus describe an upstream failure.
	Provider       string `json:"provider,omitempty"`
	ProviderStatus int    `json:"providerStatus,omitempty"`
}

// FieldError represents a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

const problemBase = "https://clockwatch.dev/problems/"

// Problem types.
const (
	ProblemTypeValidation          = problemBase + "validation-error"
	ProblemTypeUnauthorized        = problemBase + "unauthorized"
	ProblemTypeNotFound            = problemBase + "not-found"
	ProblemTypeDeviceNotFound      = problemBase + "device-not-found"
	ProblemTypeConflict            = problemBase + "conflict"
	ProblemTypeSerialConflict      = problemBase + "serial-conflict"
	ProblemTypeLedgerRequired      = problemBase + "ledger-required"
	ProblemTypeTooManyRequests     = problemBase + "too-many-requests"
	ProblemTypeInternal            = problemBase + "internal-error"
	ProblemTypeUnavailable         = problemBase + "service-unavailable"
	ProblemTypeProviderAuth        = problemBase + "provider-authentication"
	ProblemTypeProviderQuery       = problemBase + "provider-error"
	ProblemTypeProviderUnavailable = problemBase + "provider-unavailable"
	ProblemTypeTLSRequired         = problemBase + "tls-required"
	ProblemTypeUnsupportedMedia    = problemBase + "unsupported-media-type"
)

// NewProblem creates a new Problem with the given parameters.
func NewProblem(problemType, title string, status int, traceID string) *Problem {
	return &Problem{
		Type:    problemType,
		Title:   title,
		Status:  status,
		TraceID: traceID,
	}
}

// Write writes the Problem as JSON to the ResponseWriter.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	if p.TraceID != "" {
		w.Header().Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func newProblem(problemType, title string, status int, traceID, detail string) *Problem {
	p := NewProblem(problemType, title, status, traceID)
	p.Detail = detail
	return p
}

// NewBadRequest creates a 400 problem carrying field errors.
func NewBadRequest(traceID, detail string, errors []FieldError) *Problem {
	p := newProblem(ProblemTypeValidation, "Validation error", http.StatusBadRequest, traceID, detail)
	p.Errors = errors
	return p
}

// NewUnauthorized creates a 401 problem.
func NewUnauthorized(traceID, detail string) *Problem {
	return newProblem(ProblemTypeUnauthorized, "Unauthorized", http.StatusUnauthorized, traceID, detail)
}

// NewNotFound creates a 404 problem.
func NewNotFound(traceID, detail string) *Problem {
	return newProblem(ProblemTypeNotFound, "Not found", http.StatusNotFound, traceID, detail)
}

// NewDeviceNotFound creates a 404 problem for an unknown serial.
func NewDeviceNotFound(traceID, serial string) *Problem {
	detail := "device not found"
	if serial != "" {
		detail = "no device registered with serial " + serial
	}
	return newProblem(ProblemTypeDeviceNotFound, "Device not found", http.StatusNotFound, traceID, detail)
}

// NewConflict creates a 409 problem.
func NewConflict(traceID, detail string) *Problem {
	return newProblem(ProblemTypeConflict, "Conflict", http.StatusConflict, traceID, detail)
}

// NewSerialConflict creates a 409 problem for a serial or equipment link already in use.
func NewSerialConflict(traceID, detail string) *Problem {
	return newProblem(ProblemTypeSerialConflict, "Device identity in use", http.StatusConflict, traceID, detail)
}

// NewTooManyRequests creates a 429 problem.
func NewTooManyRequests(traceID, detail string) *Problem {
	return newProblem(ProblemTypeTooManyRequests, "Too many requests", http.StatusTooManyRequests, traceID, detail)
}

// NewInternalError creates a 500 problem.
func NewInternalError(traceID, detail string) *Problem {
	return newProblem(ProblemTypeInternal, "Internal server error", http.StatusInternalServerError, traceID, detail)
}

// NewServiceUnavailable creates a 503 problem.
func NewServiceUnavailable(traceID, detail string) *Problem {
	return newProblem(ProblemTypeUnavailable, "Service unavailable", http.StatusServiceUnavailable, traceID, detail)
}

// NewProviderError creates a problem for a failed upstream call. upstreamStatus
// is the provider's HTTP status, or zero for transport failures.
func NewProviderError(traceID, problemType, provider string, status, upstreamStatus int, detail string) *Problem {
	title := "Provider error"
	switch problemType {
	case ProblemTypeProviderAuth:
		title = "Provider authentication failed"
	case ProblemTypeProviderUnavailable:
		title = "Provider unavailable"
	}
	p := newProblem(problemType, title, status, traceID, detail)
	p.Provider = provider
	p.ProviderStatus = upstreamStatus
	return p
}
