// Package handler provides HTTP handlers for the Clockwatch API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/clockwatch/clockwatch/internal/api/models"
	"github.com/clockwatch/clockwatch/internal/api/response"
	"github.com/clockwatch/clockwatch/internal/provider/resilience"
)

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LedgerReporter reports the selected provider ledger.
type LedgerReporter interface {
	SelectedLedger() string
}

// OpsHandlerConfig holds dependencies for the OpsHandler.
type OpsHandlerConfig struct {
	Version   string
	BuildTime string
	Registry  Pinger

	// Providers is optional; nil reports no providers.
	Providers *resilience.Registry

	// Ledger is optional; nil when the provider is disabled.
	Ledger LedgerReporter

	Policy string
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	registry  Pinger
	providers *resilience.Registry
	ledger    LedgerReporter
	policy    string
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsHandlerConfig) *OpsHandler {
	return &OpsHandler{
		version:   cfg.Version,
		buildTime: cfg.BuildTime,
		registry:  cfg.Registry,
		providers: cfg.Providers,
		ledger:    cfg.Ledger,
		policy:    cfg.Policy,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
	}

	if err := h.pingRegistry(r.Context()); err != nil {
		health.Status = models.HealthStatusFail
		health.Details = map[string]interface{}{"registry": err.Error()}
		response.JSON(w, r, http.StatusServiceUnavailable, health)
		return
	}
	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status - registry and provider status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:         models.HealthStatusOK,
		Time:           models.Timestamp(time.Now()),
		LivenessPolicy: h.policy,
		Subsystems:     []models.SubsystemStatus{},
		Providers:      []models.ProviderStatus{},
	}

	registry := models.SubsystemStatus{Name: "registry", Status: models.HealthStatusOK}
	if err := h.pingRegistry(r.Context()); err != nil {
		detail := err.Error()
		registry.Status = models.HealthStatusFail
		registry.Detail = &detail
		status.Status = models.HealthStatusFail
	}
	status.Subsystems = append(status.Subsystems, registry)

	if h.ledger != nil {
		if id := h.ledger.SelectedLedger(); id != "" {
			status.SelectedLedger = &id
		}
	}

	if h.providers != nil {
		for _, p := range h.providers.Snapshot() {
			ps := toProviderStatus(p)
			if ps.Status != models.HealthStatusOK && status.Status == models.HealthStatusOK {
				status.Status = models.HealthStatusDegraded
			}
			status.Providers = append(status.Providers, ps)
		}
	}

	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) pingRegistry(ctx context.Context) error {
	if h.registry == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return h.registry.Ping(ctx)
}

func toProviderStatus(p resilience.Health) models.ProviderStatus {
	ps := models.ProviderStatus{
		Provider:         p.Name,
		Status:           models.HealthStatusOK,
		CircuitState:     p.Circuit.String(),
		LastSuccessAt:    models.NewTimestamp(p.LastSuccessAt),
		LastFailureAt:    models.NewTimestamp(p.LastFailureAt),
		LastTransitionAt: models.NewTimestamp(p.LastTransitionAt),
	}
	switch p.State {
	case resilience.StateDown:
		ps.Status = models.HealthStatusFail
	case resilience.StateDegraded:
		ps.Status = models.HealthStatusDegraded
	}
	if p.LastError != "" {
		msg := p.LastError
		ps.Message = &msg
	}
	return ps
}
