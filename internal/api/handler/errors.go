package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/clockwatch/clockwatch/internal/api/models"
	"github.com/clockwatch/clockwatch/internal/api/response"
	"github.com/clockwatch/clockwatch/internal/device"
	"github.com/clockwatch/clockwatch/internal/provider/resilience"
	"github.com/clockwatch/clockwatch/internal/provider/secullum"
	"github.com/clockwatch/clockwatch/internal/reconcile"
)

// providerRetryAfter is advertised while the provider circuit is open.
const providerRetryAfter = 30 * time.Second

// writeError maps service and provider errors to problem responses.
func writeError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error) {
	var validation *device.ValidationError
	var authErr *secullum.AuthenticationError
	var queryErr *secullum.ProviderQueryError

	switch {
	case errors.As(err, &validation):
		response.BadRequest(w, r, "validation error", toFieldErrors(validation.Errors))
	case errors.Is(err, reconcile.ErrLedgerRequired):
		response.LedgerRequired(w, r, err.Error())
	case errors.Is(err, device.ErrDeviceNotFound):
		response.DeviceNotFound(w, r, chi.URLParam(r, "serial"))
	case errors.Is(err, device.ErrSerialTaken), errors.Is(err, device.ErrExternalIDTaken):
		response.SerialConflict(w, r, err.Error())
	case errors.Is(err, secullum.ErrNoLedgerSelected):
		response.Conflict(w, r, "no provider ledger selected")
	case errors.Is(err, resilience.ErrCircuitOpen):
		logger.Warn().Str("provider", secullum.ProviderName).Msg("provider circuit open")
		response.ProviderUnavailable(w, r, secullum.ProviderName, providerRetryAfter)
	case errors.As(err, &authErr):
		logger.Warn().Err(err).Int("status_code", authErr.StatusCode).Msg("provider authentication failed")
		response.ProviderFailure(w, r, models.ProblemTypeProviderAuth, secullum.ProviderName,
			authErr.StatusCode, "provider authentication failed")
	case errors.As(err, &queryErr):
		logger.Warn().Err(err).Str("endpoint", queryErr.Endpoint).Int("status_code", queryErr.StatusCode).Msg("provider query failed")
		response.ProviderFailure(w, r, models.ProblemTypeProviderQuery, secullum.ProviderName,
			queryErr.StatusCode, "provider query failed: "+queryErr.Endpoint)
	default:
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		response.InternalError(w, r, "internal error")
	}
}

func toFieldErrors(errs []device.FieldError) []models.FieldError {
	out := make([]models.FieldError, len(errs))
	for i, e := range errs {
		out[i] = models.FieldError{
			Field:   e.Field,
			Message: e.Message,
			Code:    e.Code,
		}
	}
	return out
}
