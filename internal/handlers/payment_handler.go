package handlers

import (
	"log"
	"net/http"

	"github.com/pawledger/backend/internal/services"
)

type PaymentHandler struct {
	service *services.PaymentIntakeService
}

func NewPaymentHandler(service *services.PaymentIntakeService) *PaymentHandler {
	return &PaymentHandler{service: service}
}

// HandleWebhook ingests a pre-verified payment-confirmation event
// @Summary Payment webhook
// @Description Apply a confirmed payment event as an idempotent credit grant. Redelivery of the same external id is a no-op. Unrecognized statuses are rejected with 400 so the processor keeps retrying instead of assuming success.
// @Tags payments
// @Accept json
// @Produce json
// @Param event body services.PaymentEvent true "Payment confirmation event"
// @Success 200 {object} models.PaymentRecord
// @Failure 400 {object} services.ErrorResponse
// @Router /webhooks/payments [post]
func (h *PaymentHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var event services.PaymentEvent
	if err := decodeJSON(w, r, &event); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	record, err := h.service.OnPaymentEvent(r.Context(), event)
	if err != nil {
		log.Printf("[PAYMENT] Webhook rejected event %s: %v", event.ExternalID, err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
