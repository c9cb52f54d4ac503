package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clockwatch/clockwatch/internal/api/models"
	"github.com/clockwatch/clockwatch/internal/api/response"
	"github.com/clockwatch/clockwatch/internal/auth"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	authService *auth.Service
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *auth.Service) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

// IssueToken handles POST /v1/auth/token - exchange an operator API key for an access token.
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req auth.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	if errs := req.Validate(); len(errs) > 0 {
		fieldErrors := make([]models.FieldError, len(errs))
		for i, e := range errs {
			fieldErrors[i] = models.FieldError{
				Field:   e.Field,
				Message: e.Message,
				Code:    e.Code,
			}
		}
		response.BadRequest(w, r, "validation error", fieldErrors)
		return
	}

	tokenResp, err := h.authService.Exchange(r.Context(), &req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidAPIKey) {
			response.Unauthorized(w, r, "invalid api key")
			return
		}
		response.InternalError(w, r, "token issuance failed")
		return
	}

	response.JSON(w, r, http.StatusOK, tokenResp)
}
