package registration_api

import (
	"encoding/json"
	"errors"
	"net/http"

	"ms-admission/internal/auth"
	"ms-admission/internal/models"
	"ms-admission/internal/registration"
	"ms-admission/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Service *registration.Service
}

func NewHandler(service *registration.Service) *Handler {
	return &Handler{Service: service}
}

// CreateEvent handles POST /events
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req models.CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	event, err := h.Service.CreateEvent(r.Context(), auth.UserID(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Event created", event))
}

// GetEvent handles GET /events/{eventID}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.Service.GetEvent(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Event", event))
}

// SetEventOpen handles PUT /events/{eventID}/open
func (h *Handler) SetEventOpen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Open bool `json:"open"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	err := h.Service.SetEventOpen(r.Context(), chi.URLParam(r, "eventID"), auth.UserID(r.Context()), req.Open)
	if err != nil {
		writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Event admission state updated", nil))
}

// DeleteEvent handles DELETE /events/{eventID}
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	err := h.Service.DeleteEvent(r.Context(), chi.URLParam(r, "eventID"), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Event deleted", nil))
}

// Apply handles POST /registrations
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	var req models.ApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	if req.EventID == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("event_id is required", ""))
		return
	}

	reg, err := h.Service.Apply(r.Context(), req.EventID, auth.UserID(r.Context()), req.FormData, req.PaymentProof)
	if err != nil {
		writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Application received", reg))
}

// Approve handles POST /registrations/{registrationID}/approve
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	reg, err := h.Service.Approve(r.Context(), chi.URLParam(r, "registrationID"), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Registration approved", reg))
}

// Reject handles POST /registrations/{registrationID}/reject
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	err := h.Service.Reject(r.Context(), chi.URLParam(r, "registrationID"), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Registration rejected", nil))
}

// SubmitPayment handles POST /registrations/{registrationID}/payment
func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Proof string `json:"proof"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	err := h.Service.SubmitPayment(r.Context(), chi.URLParam(r, "registrationID"), auth.UserID(r.Context()), req.Proof)
	if err != nil {
		writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Payment proof submitted", nil))
}

// VerifyPayment handles POST /registrations/{registrationID}/payment/verify
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Outcome string `json:"outcome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	err := h.Service.VerifyPayment(r.Context(), chi.URLParam(r, "registrationID"), req.Outcome, auth.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Payment outcome recorded", nil))
}

// ListByEvent handles GET /events/{eventID}/registrations
func (h *Handler) ListByEvent(w http.ResponseWriter, r *http.Request) {
	regs, err := h.Service.ListByEvent(r.Context(), chi.URLParam(r, "eventID"), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Registrations", regs))
}

// ListMine handles GET /registrations
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	regs, err := h.Service.ListByParticipant(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Registrations", regs))
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Not found", err.Error()))
	case errors.Is(err, models.ErrForbidden):
		utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse("Not allowed", err.Error()))
	case errors.Is(err, models.ErrDuplicate):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Already registered", err.Error()))
	case errors.Is(err, models.ErrFull):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Event is full", err.Error()))
	case errors.Is(err, models.ErrNotPending), errors.Is(err, models.ErrPaymentState):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Invalid state for this change", err.Error()))
	case errors.Is(err, models.ErrNotOpen), errors.Is(err, models.ErrSelfRegistration):
		utils.WriteJSON(w, http.StatusUnprocessableEntity, utils.ErrorResponse("Application not accepted", err.Error()))
	case errors.Is(err, models.ErrBusy):
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("Busy, retry shortly", err.Error()))
	case errors.Is(err, models.ErrStoreUnavailable):
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Something went wrong", ""))
	default:
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Request failed", err.Error()))
	}
}
