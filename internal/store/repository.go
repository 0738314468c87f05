/**
 * @description
 * This file defines the `Repository` interface, the contract for all ledger
 * persistence used by the wallet-service, together with the sentinel errors
 * the implementations return. Two implementations exist: PostgreSQL for
 * production and an in-memory store for the dev profile and tests. The
 * repository is the only component permitted to mutate wallet balances, and
 * every balance mutation is a single atomic check-and-mutate per owner.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/google/uuid: Withdrawal request identifiers.
 * - github.com/shopspring/decimal: Ledger amounts.
 * - internal/domain: The service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chototpi/wallet-service/internal/domain"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrPaymentNotFound     = errors.New("inbound payment not found")
	ErrRequestNotFound     = errors.New("withdrawal request not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadyApplied      = errors.New("deposit already applied")
	ErrAlreadyResolved     = errors.New("withdrawal request already resolved")
	ErrPaymentFailed       = errors.New("inbound payment is terminally failed")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// Repository defines the persistence operations for wallets, inbound payments
// and withdrawal requests.
type Repository interface {
	// Wallet methods. ApplyDeposit upserts the wallet, verifies externalRef is
	// absent from the history, appends a deposit entry and credits the balance
	// in one critical section; a duplicate ref returns ErrAlreadyApplied.
	// DebitWallet appends a debit entry and decrements the balance only if the
	// current balance covers the amount, otherwise ErrInsufficientBalance; the
	// balance is never left negative.
	GetWallet(ctx context.Context, owner string) (*domain.Wallet, error)
	ApplyDeposit(ctx context.Context, owner string, amount decimal.Decimal, externalRef string) (*domain.Wallet, error)
	DebitWallet(ctx context.Context, owner string, amount decimal.Decimal, externalRef string) (*domain.Wallet, error)

	// Inbound payment methods. EnsureInboundPayment inserts a `created` record
	// if none exists and returns the current record either way.
	// CompleteInboundPayment transitions created|approved -> completed exactly
	// once; a second call reports alreadyCompleted=true with no side effects.
	EnsureInboundPayment(ctx context.Context, paymentID string) (*domain.InboundPayment, error)
	GetInboundPayment(ctx context.Context, paymentID string) (*domain.InboundPayment, error)
	MarkPaymentApproved(ctx context.Context, paymentID string) error
	MarkPaymentFailed(ctx context.Context, paymentID string) error
	CompleteInboundPayment(ctx context.Context, paymentID, owner string, amount decimal.Decimal, txid string) (alreadyCompleted bool, err error)

	// Withdrawal request methods. The pending -> approved|rejected transitions
	// are compare-and-swap on status: re-resolving a non-pending request
	// returns ErrAlreadyResolved.
	CreateWithdrawal(ctx context.Context, req *domain.WithdrawalRequest) error
	GetWithdrawal(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error)
	ListPendingWithdrawals(ctx context.Context) ([]domain.WithdrawalRequest, error)
	MarkWithdrawalApproved(ctx context.Context, id uuid.UUID, txid string, approvedAt time.Time) error
	MarkWithdrawalRejected(ctx context.Context, id uuid.UUID) error
	RecordWithdrawalError(ctx context.Context, id uuid.UUID, lastError string) error
}
