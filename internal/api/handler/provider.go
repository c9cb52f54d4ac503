package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/clockwatch/clockwatch/internal/api/models"
	"github.com/clockwatch/clockwatch/internal/api/response"
	"github.com/clockwatch/clockwatch/internal/device"
	"github.com/clockwatch/clockwatch/internal/provider/secullum"
	"github.com/clockwatch/clockwatch/internal/reconcile"
	"github.com/clockwatch/clockwatch/internal/worker"
)

// defaultFeedWindow bounds raw activity and punch feeds when no range is given.
const defaultFeedWindow = 7 * 24 * time.Hour

// JobPublisher hands jobs to the background worker.
type JobPublisher interface {
	Publish(ctx context.Context, job worker.JobMessage) (string, error)
}

// ProviderHandlerConfig holds dependencies for the ProviderHandler.
type ProviderHandlerConfig struct {
	Client     *secullum.Client
	Reconciler *reconcile.Reconciler
	Repository device.Repository

	// Publisher is optional; without it async requests run inline.
	Publisher JobPublisher

	Logger zerolog.Logger

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// ProviderHandler handles Secullum integration endpoints.
type ProviderHandler struct {
	client     *secullum.Client
	reconciler *reconcile.Reconciler
	repo       device.Repository
	publisher  JobPublisher
	logger     zerolog.Logger
	now        func() time.Time
}

// NewProviderHandler creates a new ProviderHandler.
func NewProviderHandler(cfg ProviderHandlerConfig) *ProviderHandler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ProviderHandler{
		client:     cfg.Client,
		reconciler: cfg.Reconciler,
		repo:       cfg.Repository,
		publisher:  cfg.Publisher,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
}

func (h *ProviderHandler) available(w http.ResponseWriter, r *http.Request) bool {
	if h.client == nil || h.reconciler == nil {
		response.ServiceUnavailable(w, r, "provider integration is not configured")
		return false
	}
	return true
}

// Sync handles POST /v1/provider/sync - refresh linked devices from the catalog.
func (h *ProviderHandler) Sync(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}

	if h.enqueue(w, r, worker.JobMessage{JobType: worker.JobProviderReconcile}) {
		return
	}

	result, err := h.reconciler.ReconcileExisting(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}

// Import handles POST /v1/provider/ledgers/{ledgerId}/import - import unlinked equipment.
func (h *ProviderHandler) Import(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ledgerID := chi.URLParam(r, "ledgerId")

	if h.enqueue(w, r, worker.JobMessage{JobType: worker.JobProviderImport, LedgerID: ledgerID}) {
		return
	}

	result, err := h.reconciler.ImportUnlinked(r.Context(), ledgerID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	status := http.StatusOK
	if result.Created > 0 {
		status = http.StatusCreated
	}
	response.JSON(w, r, status, result)
}

// enqueue publishes the job when the caller asked for async processing.
// It reports whether a response was written.
func (h *ProviderHandler) enqueue(w http.ResponseWriter, r *http.Request, job worker.JobMessage) bool {
	if h.publisher == nil || r.URL.Query().Get("async") != "true" {
		return false
	}

	id, err := h.publisher.Publish(r.Context(), job)
	if err != nil {
		h.logger.Error().Err(err).Str("job_type", job.JobType).Msg("failed to publish job")
		response.ServiceUnavailable(w, r, "job queue unavailable")
		return true
	}

	response.Accepted(w, r, "", models.JobAccepted{JobType: job.JobType, MessageID: id})
	return true
}

// ListLedgers handles GET /v1/provider/ledgers.
func (h *ProviderHandler) ListLedgers(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}

	session := h.client.Session()
	ledgers, err := session.ListLedgers(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	selected := session.SelectedLedger()
	list := models.LedgerList{Items: make([]models.Ledger, 0, len(ledgers)), Selected: selected}
	for _, l := range ledgers {
		list.Items = append(list.Items, models.Ledger{
			ID:       l.ID,
			ClientID: l.ClientID,
			Name:     l.Name,
			Selected: l.ID == selected,
		})
	}
	response.JSON(w, r, http.StatusOK, list)
}

// SelectLedger handles POST /v1/provider/ledgers/{ledgerId}/select.
func (h *ProviderHandler) SelectLedger(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}

	ledgerID := chi.URLParam(r, "ledgerId")
	h.client.Session().SelectLedger(ledgerID)
	response.JSON(w, r, http.StatusOK, models.SelectLedgerResponse{Selected: ledgerID})
}

// ListEquipment handles GET /v1/provider/equipment - the raw catalog.
func (h *ProviderHandler) ListEquipment(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}

	catalog, err := h.client.Equipment(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	list := models.EquipmentList{Items: make([]models.Equipment, 0, len(catalog.Items)), Malformed: catalog.Malformed}
	for _, eq := range catalog.Items {
		item := models.Equipment{ID: eq.ID, Description: eq.Description, Address: eq.Address}
		if h.repo != nil {
			if d, err := h.repo.GetByExternalID(r.Context(), eq.ID); err == nil {
				item.LinkedTo = &d.Serial
			}
		}
		list.Items = append(list.Items, item)
	}
	response.JSON(w, r, http.StatusOK, list)
}

// EquipmentActivity handles GET /v1/provider/equipment/{equipmentId}/activity.
func (h *ProviderHandler) EquipmentActivity(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	h.feed(w, r, h.client.ActivityFeed)
}

// EquipmentPunches handles GET /v1/provider/equipment/{equipmentId}/punches.
func (h *ProviderHandler) EquipmentPunches(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	h.feed(w, r, h.client.Punches)
}

type feedFunc func(ctx context.Context, q secullum.EventQuery) (*secullum.EventFeed, error)

func (h *ProviderHandler) feed(w http.ResponseWriter, r *http.Request, fetch feedFunc) {
	equipmentID, err := strconv.ParseInt(chi.URLParam(r, "equipmentId"), 10, 64)
	if err != nil {
		response.BadRequest(w, r, "equipmentId must be an integer", nil)
		return
	}

	q, fieldErrs := h.parseWindow(r)
	if len(fieldErrs) > 0 {
		response.BadRequest(w, r, "validation error", fieldErrs)
		return
	}
	q.EquipmentID = &equipmentID

	feed, err := fetch(r.Context(), q)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	list := models.EventList{Items: make([]models.Event, 0, len(feed.Events)), Malformed: feed.Malformed}
	for _, e := range feed.Events {
		list.Items = append(list.Items, models.Event{EquipmentID: e.EquipmentID, At: models.Timestamp(e.At)})
	}
	if latest, ok := feed.Latest(); ok {
		list.Latest = models.NewTimestamp(&latest)
	}
	response.JSON(w, r, http.StatusOK, list)
}

// parseWindow reads optional RFC3339 "from" and "to" query parameters.
func (h *ProviderHandler) parseWindow(r *http.Request) (secullum.EventQuery, []models.FieldError) {
	q := secullum.EventQuery{End: h.now()}
	var errs []models.FieldError

	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			errs = append(errs, models.FieldError{Field: "to", Message: "to must be an RFC3339 timestamp", Code: "invalid"})
		} else {
			q.End = t
		}
	}

	q.Start = q.End.Add(-defaultFeedWindow)
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			errs = append(errs, models.FieldError{Field: "from", Message: "from must be an RFC3339 timestamp", Code: "invalid"})
		} else {
			q.Start = t
		}
	}

	if len(errs) == 0 && q.Start.After(q.End) {
		errs = append(errs, models.FieldError{Field: "from", Message: "from must not be after to", Code: "invalid"})
	}
	return q, errs
}
