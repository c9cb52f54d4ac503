package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/clockwatch/clockwatch/internal/api/models"
	"github.com/clockwatch/clockwatch/internal/api/response"
	"github.com/clockwatch/clockwatch/internal/device"
	"github.com/clockwatch/clockwatch/internal/liveness"
)

// DeviceHandler handles device registry endpoints.
type DeviceHandler struct {
	devices   *device.Service
	evaluator *liveness.Evaluator
	logger    zerolog.Logger
}

// NewDeviceHandler creates a new DeviceHandler.
func NewDeviceHandler(devices *device.Service, evaluator *liveness.Evaluator, logger zerolog.Logger) *DeviceHandler {
	return &DeviceHandler{
		devices:   devices,
		evaluator: evaluator,
		logger:    logger,
	}
}

// ListDevices handles GET /v1/devices - list devices with computed status.
func (h *DeviceHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.devices.List(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	evs, err := h.evaluator.EvaluateAll(r.Context(), devices)
	if err != nil {
		// Statuses are still correct for this response; the next pass retries the commit
		h.logger.Error().Err(err).Msg("failed to persist liveness advances")
	}

	list := models.DeviceList{
		Items: make([]models.Device, 0, len(evs)),
		Meta:  summarize(evs, h.evaluator.Policy().Name),
	}
	for _, ev := range evs {
		list.Items = append(list.Items, toDeviceModel(ev))
	}

	response.JSON(w, r, http.StatusOK, list)
}

// GetDevice handles GET /v1/devices/{serial} - a single device with computed status.
func (h *DeviceHandler) GetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := h.devices.Get(r.Context(), chi.URLParam(r, "serial"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.JSON(w, r, http.StatusOK, toDeviceModel(h.evaluateOne(r, d)))
}

// evaluateOne evaluates d and commits any last-seen advance, so a response
// never reports a timestamp the registry does not hold.
func (h *DeviceHandler) evaluateOne(r *http.Request, d *device.Device) liveness.Evaluation {
	evs, err := h.evaluator.EvaluateAll(r.Context(), []*device.Device{d})
	if err != nil {
		h.logger.Error().Err(err).Str("serial", d.Serial).Msg("failed to persist liveness advance")
	}
	return evs[0]
}

// ProvisionDevice handles POST /v1/devices - manual provisioning.
// Provisioning an existing serial returns the stored device with 200.
func (h *DeviceHandler) ProvisionDevice(w http.ResponseWriter, r *http.Request) {
	var req models.ProvisionDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	d, created, err := h.devices.Provision(r.Context(), &device.ProvisionInput{
		ClientLabel:    req.ClientLabel,
		Serial:         req.Serial,
		NetworkAddress: req.NetworkAddress,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ev := h.evaluateOne(r, d)
	if !created {
		response.JSON(w, r, http.StatusOK, toDeviceModel(ev))
		return
	}
	response.Created(w, r, "/v1/devices/"+d.Serial, toDeviceModel(ev))
}

// UpdateDevice handles PUT /v1/devices/{serial} - identity edits.
func (h *DeviceHandler) UpdateDevice(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	d, err := h.devices.UpdateIdentity(r.Context(), chi.URLParam(r, "serial"), &device.IdentityUpdate{
		ClientLabel:    req.ClientLabel,
		NetworkAddress: req.NetworkAddress,
		Serial:         req.Serial,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.JSON(w, r, http.StatusOK, toDeviceModel(h.evaluateOne(r, d)))
}

// Heartbeat handles POST /v1/heartbeat - a terminal reports it is alive.
func (h *DeviceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req models.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if req.Serial == "" {
		response.BadRequest(w, r, "validation error", []models.FieldError{
			{Field: "serial", Message: "serial is required", Code: "required"},
		})
		return
	}

	d, err := h.devices.Heartbeat(r.Context(), req.Serial)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.HeartbeatResponse{
		Serial:     d.Serial,
		LastSeenAt: models.Timestamp(*d.LastSeenAt),
	})
}

// Diagnostics handles GET /v1/debug/devices - raw registry with signal details.
// Nothing is persisted.
func (h *DeviceHandler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	devices, err := h.devices.List(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	evs := h.evaluator.Preview(r.Context(), devices)
	items := make([]models.DeviceDiagnostics, 0, len(devices))
	for i, d := range devices {
		ev := evs[i]

		diag := models.DeviceDiagnostics{
			Device:   toDeviceModel(ev),
			Source:   string(ev.Source),
			Advanced: ev.Advanced,
			ProbeOK:  ev.ProbeOK,
		}
		// Stored value rather than the evaluated candidate
		diag.LastSeenAt = models.NewTimestamp(d.LastSeenAt)
		if ev.ProviderErr != nil {
			msg := ev.ProviderErr.Error()
			diag.ProviderError = &msg
		}
		items = append(items, diag)
	}

	response.JSON(w, r, http.StatusOK, models.DeviceDiagnosticsList{
		Items: items,
		Meta:  summarize(evs, h.evaluator.Policy().Name),
	})
}

func toDeviceModel(ev liveness.Evaluation) models.Device {
	d := ev.Device
	return models.Device{
		ID:                  d.ID,
		Serial:              d.Serial,
		ClientLabel:         d.ClientLabel,
		NetworkAddress:      d.NetworkAddress,
		Status:              string(ev.Status),
		LastSeenAt:          models.NewTimestamp(d.LastSeenAt),
		ExternalEquipmentID: d.ExternalEquipmentID,
		VendorTag:           d.VendorTag,
		CreatedAt:           models.Timestamp(d.CreatedAt),
		UpdatedAt:           models.Timestamp(d.UpdatedAt),
	}
}

func summarize(evs []liveness.Evaluation, policy string) models.DeviceListMeta {
	meta := models.DeviceListMeta{Total: len(evs), Policy: policy}
	for _, ev := range evs {
		switch ev.Status {
		case liveness.StatusOnline:
			meta.Online++
		case liveness.StatusUnstable:
			meta.Unstable++
		default:
			meta.Offline++
		}
		if ev.ProviderErr != nil {
			meta.ProviderErrors++
		}
	}
	return meta
}
