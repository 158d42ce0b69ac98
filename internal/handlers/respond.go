package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/pawledger/backend/internal/services"
)

// decodeJSON applies the shared request-body discipline: size cap,
// unknown fields rejected, exactly one JSON object.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("request body must only contain a single JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeServiceError maps the engine's error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var capacityErr *services.CapacityExceededError
	var compErr *services.CompensationFailureError
	var fieldErrs validator.ValidationErrors

	switch {
	case errors.As(err, &fieldErrs):
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, fieldErrs)
	case errors.Is(err, services.ErrAccountNotFound),
		errors.Is(err, services.ErrBookingNotFound),
		errors.Is(err, services.ErrAdmissionNotFound),
		errors.Is(err, services.ErrEntryNotFound):
		services.SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)

	case errors.Is(err, services.ErrInsufficientBalance),
		errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrBookingElapsed):
		services.SendErrorResponse(w, err.Error(), http.StatusConflict, nil)

	case errors.As(err, &capacityErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "daily capacity exceeded",
			"dates": capacityErr.Dates,
		})

	case errors.Is(err, services.ErrBusy):
		w.Header().Set("Retry-After", "1")
		services.SendErrorResponse(w, err.Error(), http.StatusServiceUnavailable, nil)

	case errors.Is(err, services.ErrUnknownPaymentStatus):
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)

	case errors.As(err, &compErr):
		// Ledger and dependent records may be out of sync; already
		// logged for reconciliation by the service.
		services.SendErrorResponse(w, "operation failed, pending reconciliation", http.StatusInternalServerError, nil)

	default:
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
	}
}
