package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pawledger/backend/internal/services"
)

type AdmissionHandler struct {
	service   *services.AdmissionService
	validator *services.ValidationHelper
}

func NewAdmissionHandler(service *services.AdmissionService) *AdmissionHandler {
	return &AdmissionHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// CheckIn admits a pet for today, debiting the credit balance
// @Summary Check in
// @Description Admit a pet, debiting the required credits. With force=true the admission proceeds even into a negative balance; the debit is still ledgered.
// @Tags checkins
// @Accept json
// @Produce json
// @Param request body object{account_id=string,date=string,units=int64,actor_id=string,idempotency_key=string,force=bool} true "Check-in request"
// @Success 201 {object} object{admission=models.AdmissionEvent,balance=int64}
// @Failure 402 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /checkins [post]
func (h *AdmissionHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID      string `json:"account_id" validate:"required"`
		Date           string `json:"date" validate:"omitempty,daydate"`
		Units          int64  `json:"units" validate:"omitempty,gt=0"`
		ActorID        string `json:"actor_id" validate:"required"`
		IdempotencyKey string `json:"idempotency_key"`
		Force          bool   `json:"force"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Date == "" {
		req.Date = time.Now().Format("2006-01-02")
	}
	if req.Units == 0 {
		req.Units = 1
	}

	admit := h.service.Admit
	if req.Force {
		admit = h.service.ForceAdmit
	}
	event, debit, err := admit(r.Context(), req.AccountID, req.Date, req.Units, req.ActorID, req.IdempotencyKey)
	if err != nil {
		log.Printf("[ADMISSION] Check-in refused for %s: %v", req.AccountID, err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"admission": event,
		"balance":   debit.NewBalance,
	})
}

// Release ends an admission, optionally crediting a caller-computed refund
// @Summary Release (check out)
// @Description End an admission. Default consumes the credit; refund_units applies a caller-computed prorated refund.
// @Tags checkins
// @Accept json
// @Produce json
// @Param admissionId path string true "Admission event ID"
// @Param request body object{actor_id=string,refund_units=int64} true "Release request"
// @Success 200 {object} object{released=bool}
// @Failure 404 {object} services.ErrorResponse
// @Router /checkins/{admissionId}/release [post]
func (h *AdmissionHandler) Release(w http.ResponseWriter, r *http.Request) {
	admissionID := chi.URLParam(r, "admissionId")

	var req struct {
		ActorID     string `json:"actor_id" validate:"required"`
		RefundUnits int64  `json:"refund_units" validate:"omitempty,gte=0"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	refund, err := h.service.Release(r.Context(), admissionID, req.RefundUnits, req.ActorID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := map[string]any{"released": true}
	if refund != nil {
		resp["refund_entry_id"] = refund.EntryID
		resp["balance"] = refund.NewBalance
	}
	writeJSON(w, http.StatusOK, resp)
}
