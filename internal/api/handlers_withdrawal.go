package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ticketmarket/settlement-service/internal/app"
	"github.com/ticketmarket/settlement-service/internal/domain"
	"github.com/ticketmarket/settlement-service/internal/store"
)

// walletOwner resolves whose wallet a request addresses. Organizers always act on their
// own wallet; admins may name any owner and default to the platform wallet.
func walletOwner(principal Principal, requested string) (string, bool) {
	requested = strings.TrimSpace(requested)
	if principal.IsAdmin() {
		if requested == "" {
			return domain.PlatformWalletOwnerID, true
		}
		return requested, true
	}
	if requested != "" && requested != principal.UserID {
		return "", false
	}
	return principal.UserID, true
}

// GetWalletHandler returns the caller's wallet balance.
func (h *SettlementHandlers) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	ownerID, ok := walletOwner(principal, r.URL.Query().Get("ownerId"))
	if !ok {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	wallet, err := h.service.GetWallet(r.Context(), ownerID)
	if err != nil {
		if errors.Is(err, store.ErrWalletNotFound) {
			writeError(w, http.StatusNotFound, "Wallet not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_wallet outcome=failed owner_id=%s err=%v", ownerID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// RequestWithdrawalHandler records a pending withdrawal against the caller's wallet.
func (h *SettlementHandlers) RequestWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req domain.WithdrawRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ownerID, ok := walletOwner(principal, req.OwnerID)
	if !ok {
		writeError(w, http.StatusForbidden, "Only admins may withdraw from another wallet")
		return
	}

	var eventID *uuid.UUID
	if strings.TrimSpace(req.EventID) != "" {
		parsed, err := uuid.Parse(strings.TrimSpace(req.EventID))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid event ID format")
			return
		}
		eventID = &parsed
	}

	withdrawal, err := h.service.RequestWithdrawal(r.Context(), ownerID, eventID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "Amount must be greater than zero")
		case errors.Is(err, store.ErrInsufficientFunds):
			writeError(w, http.StatusUnprocessableEntity, "Insufficient balance")
		case errors.Is(err, store.ErrWalletNotFound):
			writeError(w, http.StatusNotFound, "Wallet not found")
		default:
			log.Printf("level=error component=api endpoint=request_withdrawal outcome=failed owner_id=%s err=%v", ownerID, err)
			writeError(w, http.StatusInternalServerError, "Could not create withdrawal request")
		}
		return
	}
	writeJSON(w, http.StatusCreated, withdrawal)
}

// ListWithdrawalsHandler returns the caller's withdrawal requests, newest first.
func (h *SettlementHandlers) ListWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	ownerID, ok := walletOwner(principal, r.URL.Query().Get("ownerId"))
	if !ok {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	withdrawals, err := h.service.ListWithdrawals(r.Context(), ownerID)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_withdrawals outcome=failed owner_id=%s err=%v", ownerID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if withdrawals == nil {
		withdrawals = []domain.WithdrawalRequest{}
	}
	writeJSON(w, http.StatusOK, withdrawals)
}

// PayWithdrawalHandler marks a pending withdrawal paid and debits the wallet.
func (h *SettlementHandlers) PayWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.PayWithdrawalRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	withdrawalID, err := uuid.Parse(strings.TrimSpace(req.WithdrawalID))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid withdrawal ID format")
		return
	}

	paid, err := h.service.PayWithdrawal(r.Context(), withdrawalID, req.Reference)
	if err != nil {
		h.writeWithdrawalError(w, "pay_withdrawal", withdrawalID, err)
		return
	}
	writeJSON(w, http.StatusOK, paid)
}

// RejectWithdrawalHandler closes a pending withdrawal without moving money.
func (h *SettlementHandlers) RejectWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.RejectWithdrawalRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	withdrawalID, err := uuid.Parse(strings.TrimSpace(req.WithdrawalID))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid withdrawal ID format")
		return
	}

	rejected, err := h.service.RejectWithdrawal(r.Context(), withdrawalID, req.Reason)
	if err != nil {
		h.writeWithdrawalError(w, "reject_withdrawal", withdrawalID, err)
		return
	}
	writeJSON(w, http.StatusOK, rejected)
}

func (h *SettlementHandlers) writeWithdrawalError(w http.ResponseWriter, endpoint string, withdrawalID uuid.UUID, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidPayoutReference):
		writeError(w, http.StatusBadRequest, "Payout reference is required")
	case errors.Is(err, store.ErrWithdrawalNotFound):
		writeError(w, http.StatusNotFound, "Withdrawal request not found")
	case errors.Is(err, store.ErrWithdrawalAlreadyFinalized):
		writeError(w, http.StatusConflict, "Withdrawal request is already finalized")
	case errors.Is(err, store.ErrInsufficientFunds):
		writeError(w, http.StatusUnprocessableEntity, "Wallet balance no longer covers this withdrawal")
	case errors.Is(err, store.ErrWalletNotFound):
		writeError(w, http.StatusNotFound, "Wallet not found")
	default:
		log.Printf("level=error component=api endpoint=%s outcome=failed withdrawal_id=%s err=%v", endpoint, withdrawalID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// ListReconciliationFlagsHandler returns unresolved reconciliation flags, oldest first.
func (h *SettlementHandlers) ListReconciliationFlagsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	flags, err := h.service.ListReconciliationFlags(r.Context(), limit)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_reconciliation_flags outcome=failed err=%v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if flags == nil {
		flags = []domain.ReconciliationFlag{}
	}
	writeJSON(w, http.StatusOK, flags)
}

// ResolveReconciliationFlagHandler confirms or releases a flagged settlement.
func (h *SettlementHandlers) ResolveReconciliationFlagHandler(w http.ResponseWriter, r *http.Request) {
	flagID, err := uuid.Parse(chi.URLParam(r, "flagID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid flag ID format")
		return
	}

	flag, err := h.service.ResolveReconciliationFlag(r.Context(), flagID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrReconciliationFlagNotFound):
			writeError(w, http.StatusNotFound, "Reconciliation flag not found")
		case errors.Is(err, store.ErrReconciliationFlagResolved):
			writeError(w, http.StatusConflict, "Reconciliation flag is already resolved")
		default:
			log.Printf("level=error component=api endpoint=resolve_reconciliation_flag outcome=failed flag_id=%s err=%v", flagID, err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}
	writeJSON(w, http.StatusOK, flag)
}
