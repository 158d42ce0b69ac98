package handlers

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pawledger/backend/internal/services"
)

type BookingHandler struct {
	service   *services.BookingService
	validator *services.ValidationHelper
}

func NewBookingHandler(service *services.BookingService) *BookingHandler {
	return &BookingHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// Submit creates a Pending booking for a set of future dates
// @Summary Submit booking
// @Description Request admission across a set of dates; no credits are touched until approval
// @Tags bookings
// @Accept json
// @Produce json
// @Param request body object{account_id=string,dates=[]string,notes=string} true "Booking request"
// @Success 201 {object} models.Booking
// @Failure 400 {object} services.ErrorResponse
// @Router /bookings [post]
func (h *BookingHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string   `json:"account_id" validate:"required"`
		Dates     []string `json:"dates" validate:"required,min=1,dive,daydate"`
		Notes     string   `json:"notes" validate:"max=500"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	booking, err := h.service.Submit(r.Context(), req.AccountID, req.Dates, req.Notes)
	if err != nil {
		log.Printf("[BOOKING] Submit failed for %s: %v", req.AccountID, err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

// GetBooking fetches one booking
// @Summary Get booking
// @Tags bookings
// @Produce json
// @Param bookingId path string true "Booking ID"
// @Success 200 {object} models.Booking
// @Failure 404 {object} services.ErrorResponse
// @Router /bookings/{bookingId} [get]
func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := h.service.GetBooking(r.Context(), chi.URLParam(r, "bookingId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

type bookingActionRequest struct {
	ActorID string `json:"actor_id" validate:"required"`
	Notes   string `json:"notes" validate:"max=500"`
}

func (h *BookingHandler) decodeAction(w http.ResponseWriter, r *http.Request) (*bookingActionRequest, bool) {
	var req bookingActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return nil, false
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return nil, false
	}
	return &req, true
}

// Approve runs the atomic approval: capacity check, debit, admission rows
// @Summary Approve booking
// @Description Approve a pending booking. Either every step succeeds or no state changes are visible.
// @Tags bookings
// @Accept json
// @Produce json
// @Param bookingId path string true "Booking ID"
// @Param request body bookingActionRequest true "Approval"
// @Success 200 {object} models.Booking
// @Failure 409 {object} services.ErrorResponse
// @Router /bookings/{bookingId}/approve [post]
func (h *BookingHandler) Approve(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAction(w, r)
	if !ok {
		return
	}
	booking, err := h.service.Approve(r.Context(), chi.URLParam(r, "bookingId"), req.ActorID, req.Notes)
	if err != nil {
		log.Printf("[BOOKING] Approve failed: %v", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// Reject declines a pending booking; no credits were held
// @Summary Reject booking
// @Tags bookings
// @Accept json
// @Produce json
// @Param bookingId path string true "Booking ID"
// @Param request body bookingActionRequest true "Rejection"
// @Success 200 {object} models.Booking
// @Failure 409 {object} services.ErrorResponse
// @Router /bookings/{bookingId}/reject [post]
func (h *BookingHandler) Reject(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAction(w, r)
	if !ok {
		return
	}
	booking, err := h.service.Reject(r.Context(), chi.URLParam(r, "bookingId"), req.ActorID, req.Notes)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// Cancel terminates a booking, refunding approved future bookings in full
// @Summary Cancel booking
// @Tags bookings
// @Accept json
// @Produce json
// @Param bookingId path string true "Booking ID"
// @Param request body bookingActionRequest true "Cancellation"
// @Success 200 {object} models.Booking
// @Failure 409 {object} services.ErrorResponse
// @Router /bookings/{bookingId}/cancel [post]
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAction(w, r)
	if !ok {
		return
	}
	booking, err := h.service.Cancel(r.Context(), chi.URLParam(r, "bookingId"), req.ActorID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// Complete marks an approved booking as fully realized
// @Summary Complete booking
// @Tags bookings
// @Accept json
// @Produce json
// @Param bookingId path string true "Booking ID"
// @Param request body bookingActionRequest true "Completion"
// @Success 200 {object} models.Booking
// @Failure 409 {object} services.ErrorResponse
// @Router /bookings/{bookingId}/complete [post]
func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAction(w, r)
	if !ok {
		return
	}
	booking, err := h.service.Complete(r.Context(), chi.URLParam(r, "bookingId"), req.ActorID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}
