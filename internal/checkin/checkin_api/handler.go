package checkin_api

import (
	"encoding/json"
	"errors"
	"net/http"

	"ms-admission/internal/auth"
	"ms-admission/internal/checkin"
	"ms-admission/internal/models"
	"ms-admission/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Service *checkin.Service
}

func NewHandler(service *checkin.Service) *Handler {
	return &Handler{Service: service}
}

// CheckIn handles POST /checkin. The scanner posts either the raw triple
// plus token, or the encrypted content of a scanned QR.
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventID        string `json:"event_id"`
		RegistrationID string `json:"registration_id"`
		ParticipantID  string `json:"participant_id"`
		Token          string `json:"token"`
		EncryptedQR    string `json:"encrypted_qr"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	var err error
	if req.EncryptedQR != "" {
		err = h.Service.CheckInByQR(r.Context(), req.EncryptedQR)
	} else {
		err = h.Service.CheckIn(r.Context(), req.EventID, req.RegistrationID, req.ParticipantID, req.Token)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Checked in", nil))
}

// AttendanceQR handles GET /registrations/{registrationID}/qr
func (h *Handler) AttendanceQR(w http.ResponseWriter, r *http.Request) {
	png, err := h.Service.AttendanceQR(r.Context(), chi.URLParam(r, "registrationID"), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// OverrideAttendance handles POST /registrations/{registrationID}/attendance/override
func (h *Handler) OverrideAttendance(w http.ResponseWriter, r *http.Request) {
	err := h.Service.OverrideAttendance(r.Context(), chi.URLParam(r, "registrationID"), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Attendance cleared", nil))
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Not found", err.Error()))
	case errors.Is(err, models.ErrForbidden):
		utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse("Not allowed", err.Error()))
	case errors.Is(err, models.ErrAlreadyChecked):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Already checked in", err.Error()))
	case errors.Is(err, models.ErrBadToken):
		utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Invalid token", err.Error()))
	case errors.Is(err, models.ErrBusy):
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("Busy, retry shortly", err.Error()))
	default:
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Something went wrong", ""))
	}
}
