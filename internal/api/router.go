/**
 * @description
 * This file sets up the HTTP router for the wallet-service. It defines the
 * API endpoints and applies the standard middleware stack.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/chototpi/wallet-service/internal/domain"
)

// WalletRoutes creates and returns the router for the wallet service.
func WalletRoutes(h *WalletHandlers) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Inbound payment confirmation callbacks
	r.Post("/payments/approve", h.ApprovePaymentHandler)
	r.Post("/payments/complete", h.CompletePaymentHandler)

	// Wallet reads
	r.Get("/wallet/{owner}", h.GetWalletHandler)

	// Withdrawal lifecycle
	r.Post("/withdrawals", h.CreateWithdrawalHandler)
	r.Get("/withdrawals/pending", h.ListPendingWithdrawalsHandler)
	r.Post("/withdrawals/{id}/approve", h.ResolveWithdrawalHandler(domain.DecisionApprove))
	r.Post("/withdrawals/{id}/reject", h.ResolveWithdrawalHandler(domain.DecisionReject))

	return r
}
