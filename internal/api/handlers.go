/**
 * @description
 * This file contains the HTTP handlers for the settlement-service's purchase and ticket
 * endpoints. Handlers parse incoming requests, call the application service, and map its
 * sentinel errors onto HTTP statuses with generic user-visible messages.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ticketmarket/settlement-service/internal/app"
	"github.com/ticketmarket/settlement-service/internal/domain"
	"github.com/ticketmarket/settlement-service/internal/store"
)

const maxRequestBodyBytes = 1 << 20

// SettlementHandlers holds the application service that handlers will use.
type SettlementHandlers struct {
	service *app.Service
}

// NewSettlementHandlers creates a new instance of SettlementHandlers.
func NewSettlementHandlers(service *app.Service) *SettlementHandlers {
	return &SettlementHandlers{service: service}
}

// purchaseResponse mirrors what the checkout client reads after payment.
type purchaseResponse struct {
	Success          bool   `json:"success"`
	TicketID         string `json:"ticketId"`
	AlreadyProcessed bool   `json:"alreadyProcessed"`
}

// PurchaseHandler verifies a gateway payment and settles the ticket sale.
func (h *SettlementHandlers) PurchaseHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.Purchase(r.Context(), req, clientIP(r))
	if err != nil {
		h.writePurchaseError(w, req.Reference, err)
		return
	}

	writeJSON(w, http.StatusOK, purchaseResponse{
		Success:          true,
		TicketID:         result.Sale.ID.String(),
		AlreadyProcessed: result.AlreadyProcessed,
	})
}

func (h *SettlementHandlers) writePurchaseError(w http.ResponseWriter, reference string, err error) {
	var rateLimited *app.RateLimitError
	switch {
	case errors.Is(err, app.ErrInvalidPurchaseRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrReferenceNotFound), errors.Is(err, app.ErrVerificationFailed), errors.Is(err, app.ErrAmountMismatch):
		// Mismatch details stay in the server log.
		writeError(w, http.StatusBadRequest, "Payment could not be verified")
	case errors.Is(err, store.ErrEventNotFound):
		writeError(w, http.StatusBadRequest, "Event not found")
	case errors.Is(err, store.ErrPurchaseInProgress):
		writeError(w, http.StatusConflict, "This payment is already being processed")
	case errors.Is(err, store.ErrSettlementUnderReview):
		writeError(w, http.StatusConflict, "This payment is under review")
	case errors.As(err, &rateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(rateLimited.RetryAfterSeconds))
		writeError(w, http.StatusTooManyRequests, "Too many purchase attempts. Please try again later.")
	case errors.Is(err, app.ErrGatewayUnreachable):
		writeError(w, http.StatusBadGateway, "Payment provider is unavailable. Please retry.")
	default:
		log.Printf("level=error component=api endpoint=purchase outcome=failed reference=%s err=%v", reference, err)
		writeError(w, http.StatusInternalServerError, "Could not complete purchase")
	}
}

// RecordTicketUsageHandler marks a ticket as used at the venue.
func (h *SettlementHandlers) RecordTicketUsageHandler(w http.ResponseWriter, r *http.Request) {
	ticketID, err := uuid.Parse(chi.URLParam(r, "ticketID"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, domain.TicketUsageResult{Reason: domain.TicketUsageReasonNotFound})
		return
	}

	result, err := h.service.RecordTicketUsage(r.Context(), ticketID)
	if err != nil {
		log.Printf("level=error component=api endpoint=ticket_usage outcome=failed ticket_id=%s err=%v", ticketID, err)
		writeError(w, http.StatusInternalServerError, "Could not record ticket usage")
		return
	}

	status := http.StatusOK
	switch result.Reason {
	case domain.TicketUsageReasonNotFound:
		status = http.StatusNotFound
	case domain.TicketUsageReasonInvalid:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

// GetTicketHandler returns a ticket sale record.
func (h *SettlementHandlers) GetTicketHandler(w http.ResponseWriter, r *http.Request) {
	ticketID, err := uuid.Parse(chi.URLParam(r, "ticketID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Ticket not found")
		return
	}

	sale, err := h.service.GetTicketSale(r.Context(), ticketID)
	if err != nil {
		if errors.Is(err, store.ErrTicketSaleNotFound) {
			writeError(w, http.StatusNotFound, "Ticket not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_ticket outcome=failed ticket_id=%s err=%v", ticketID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

// clientIP returns the caller address. RemoteAddr has already been rewritten by
// middleware.RealIP when the service runs behind a proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
