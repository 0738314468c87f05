/**
 * @description
 * This file contains the HTTP handlers for the wallet-service's API
 * endpoints. Handlers parse incoming requests, call the application service,
 * and translate the core's typed errors to HTTP status codes. They are the
 * external collaborator surface of the wallet core: no business rule lives
 * here.
 *
 * @dependencies
 * - encoding/json, errors, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5, github.com/google/uuid.
 * - internal/app, internal/domain, internal/store: Service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chototpi/wallet-service/internal/app"
	"github.com/chototpi/wallet-service/internal/domain"
	"github.com/chototpi/wallet-service/internal/store"
	"github.com/chototpi/wallet-service/pkg/piclient"
)

// WalletHandlers holds the application service that handlers will use.
type WalletHandlers struct {
	service *app.Service
}

// NewWalletHandlers creates a new instance of WalletHandlers.
func NewWalletHandlers(service *app.Service) *WalletHandlers {
	return &WalletHandlers{service: service}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *WalletHandlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func (h *WalletHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}

// writeServiceError maps the core's typed errors to HTTP status codes.
func (h *WalletHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	var apiErr *piclient.APIError
	switch {
	case errors.Is(err, app.ErrInvalidInput), errors.Is(err, store.ErrInvalidAmount):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrInsufficientBalance):
		h.writeError(w, http.StatusUnprocessableEntity, "insufficient balance")
	case errors.Is(err, store.ErrAlreadyApplied), errors.Is(err, store.ErrAlreadyResolved), errors.Is(err, store.ErrPaymentFailed):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrWalletNotFound), errors.Is(err, store.ErrRequestNotFound), errors.Is(err, store.ErrPaymentNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &apiErr):
		h.writeError(w, http.StatusBadGateway, "payment platform rejected the request")
	case errors.Is(err, piclient.ErrUnavailable):
		h.writeError(w, http.StatusGatewayTimeout, "payment platform unavailable")
	case errors.Is(err, piclient.ErrMalformedResponse):
		h.writeError(w, http.StatusBadGateway, "payment platform returned an unreadable response")
	case errors.Is(err, app.ErrExternalSubmitFailed):
		h.writeError(w, http.StatusBadGateway, "settlement submission failed; request remains pending")
	case errors.Is(err, app.ErrLedgerDebitFailed):
		log.Printf("level=error component=api endpoint=%s msg=\"ledger debit failure surfaced\" err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "settlement submitted but ledger update failed; manual reconciliation required")
	default:
		log.Printf("level=error component=api endpoint=%s msg=\"unhandled error\" err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

type approvePaymentRequest struct {
	PaymentID string `json:"paymentId"`
}

// ApprovePaymentHandler handles the approve-phase callback for an inbound payment.
func (h *WalletHandlers) ApprovePaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req approvePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	payment, err := h.service.ApprovePayment(r.Context(), req.PaymentID)
	if err != nil {
		h.writeServiceError(w, "approve_payment", err)
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

type completePaymentRequest struct {
	PaymentID string `json:"paymentId"`
	TxID      string `json:"txid"`
	Owner     string `json:"owner,omitempty"`
	Amount    string `json:"amount,omitempty"`
}

// CompletePaymentHandler handles the complete-phase callback. A duplicate
// completion returns 200 without side effects.
func (h *WalletHandlers) CompletePaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req completePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	notif := domain.DepositNotification{
		PaymentID: req.PaymentID,
		TxID:      req.TxID,
		Owner:     req.Owner,
	}
	if req.Amount != "" {
		amount, err := parseAmount(req.Amount)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid amount")
			return
		}
		notif.Amount = amount
	}

	payment, err := h.service.CompletePayment(r.Context(), notif)
	if err != nil {
		h.writeServiceError(w, "complete_payment", err)
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

// GetWalletHandler returns one owner's balance and transaction history.
func (h *WalletHandlers) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	wallet, err := h.service.GetWallet(r.Context(), owner)
	if err != nil {
		h.writeServiceError(w, "get_wallet", err)
		return
	}
	h.writeJSON(w, http.StatusOK, wallet)
}

type createWithdrawalRequest struct {
	Owner              string `json:"owner"`
	Amount             string `json:"amount"`
	DestinationAddress string `json:"destinationAddress"`
}

// CreateWithdrawalHandler records a pending payout request.
func (h *WalletHandlers) CreateWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	var req createWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	withdrawal, err := h.service.CreateWithdrawal(r.Context(), domain.CreateWithdrawalRequest{
		Owner:              req.Owner,
		Amount:             amount,
		DestinationAddress: req.DestinationAddress,
	})
	if err != nil {
		h.writeServiceError(w, "create_withdrawal", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, withdrawal)
}

// ListPendingWithdrawalsHandler serves the administrator work queue.
func (h *WalletHandlers) ListPendingWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	pending, err := h.service.ListPendingWithdrawals(r.Context())
	if err != nil {
		h.writeServiceError(w, "list_pending_withdrawals", err)
		return
	}
	if pending == nil {
		pending = []domain.WithdrawalRequest{}
	}
	h.writeJSON(w, http.StatusOK, pending)
}

// ResolveWithdrawalHandler applies an administrator decision to one request.
func (h *WalletHandlers) ResolveWithdrawalHandler(decision domain.WithdrawalDecision) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request id")
			return
		}

		withdrawal, err := h.service.ResolveWithdrawal(r.Context(), id, decision)
		if err != nil {
			h.writeServiceError(w, "resolve_withdrawal", err)
			return
		}
		h.writeJSON(w, http.StatusOK, withdrawal)
	}
}
