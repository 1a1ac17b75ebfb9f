package verification_api

import (
	"encoding/json"
	"errors"
	"net/http"

	"ms-admission/internal/models"
	"ms-admission/internal/utils"
	"ms-admission/internal/verification"
)

type Handler struct {
	Service *verification.Service
}

func NewHandler(service *verification.Service) *Handler {
	return &Handler{Service: service}
}

// IssueCode handles POST /verification/issue
func (h *Handler) IssueCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject string `json:"subject"`
		Purpose string `json:"purpose"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	result, err := h.Service.Issue(r.Context(), req.Subject, req.Purpose)
	if err != nil {
		writeError(w, err)
		return
	}

	// The code itself never appears in the response, only delivery status.
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Verification code issued", map[string]interface{}{
		"expires_at": result.ExpiresAt,
		"delivered":  result.Delivered,
	}))
}

// CheckCode handles POST /verification/check
func (h *Handler) CheckCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject string `json:"subject"`
		Purpose string `json:"purpose"`
		Code    string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	if err := h.Service.Verify(r.Context(), req.Subject, req.Purpose, req.Code); err != nil {
		writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Verified", nil))
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNoChallenge):
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("No active verification code", err.Error()))
	case errors.Is(err, models.ErrExpired):
		utils.WriteJSON(w, http.StatusGone, utils.ErrorResponse("Verification code expired", err.Error()))
	case errors.Is(err, models.ErrMismatch):
		utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Verification failed", err.Error()))
	case errors.Is(err, models.ErrTooManyAttempts):
		utils.WriteJSON(w, http.StatusTooManyRequests, utils.ErrorResponse("Too many attempts", err.Error()))
	case errors.Is(err, models.ErrStoreUnavailable):
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Something went wrong", ""))
	default:
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Request failed", err.Error()))
	}
}
