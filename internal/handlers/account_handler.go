package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pawledger/backend/internal/services"
)

type AccountHandler struct {
	service   *services.AccountService
	validator *services.ValidationHelper
}

func NewAccountHandler(service *services.AccountService) *AccountHandler {
	return &AccountHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// Register creates a credit account for a newly enrolled pet
// @Summary Register account
// @Description Create a zero-balance credit account for a pet
// @Tags accounts
// @Accept json
// @Produce json
// @Param request body object{pet_name=string,owner_name=string} true "Registration request"
// @Success 201 {object} models.Account
// @Failure 400 {object} services.ErrorResponse
// @Router /accounts [post]
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PetName   string `json:"pet_name" validate:"required,max=100"`
		OwnerName string `json:"owner_name" validate:"required,max=100"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	account, err := h.service.Register(r.Context(), req.PetName, req.OwnerName)
	if err != nil {
		log.Printf("[ACCOUNT] Register failed: %v", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// GetBalance returns the current credit balance
// @Summary Balance enquiry
// @Description Point read of the materialized credit balance
// @Tags accounts
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} object{account_id=string,balance=int64}
// @Failure 404 {object} services.ErrorResponse
// @Router /accounts/{accountId}/balance [get]
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")

	balance, err := h.service.GetBalance(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": accountID,
		"balance":    balance,
	})
}

// GetLedger returns the account's ledger history, newest first
// @Summary Ledger history
// @Description Reverse-chronological ledger entries for audit and reporting
// @Tags accounts
// @Produce json
// @Param accountId path string true "Account ID"
// @Param limit query int false "Max entries (default 50, max 500)"
// @Success 200 {object} object{entries=[]models.LedgerEntry,count=int}
// @Router /accounts/{accountId}/ledger [get]
func (h *AccountHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}

	entries, err := h.service.GetHistory(r.Context(), accountID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
