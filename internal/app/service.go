/**
 * @description
 * This file contains the core business logic of the wallet-service. The
 * `Service` struct hosts the payment confirmation bridge (the two-phase
 * approve/complete handshake with the Pi platform), the deposit applier that
 * credits the ledger exactly once per completed payment, and the withdrawal
 * request manager with its pending -> approved|rejected state machine.
 * Settlement of approved withdrawals lives in settlement.go.
 *
 * Key properties:
 * - A payment reaching completed credits the wallet exactly once; replayed
 *   completion callbacks are acknowledged without a second credit, and a
 *   replay re-applies a credit lost to a failure right after the completed
 *   transition.
 * - Credited owner and amount come from the platform's completion response,
 *   not from the caller; caller-supplied values are a logged fallback.
 * - No external call is made while a wallet's exclusive section is held.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: Withdrawal request identifiers.
 * - github.com/shopspring/decimal: Ledger amounts.
 * - internal/domain, internal/store: Domain models and persistence.
 * - pkg/piclient, pkg/rabbitmq: External platform client and event producer.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chototpi/wallet-service/internal/domain"
	"github.com/chototpi/wallet-service/internal/store"
	"github.com/chototpi/wallet-service/pkg/piclient"
	"github.com/chototpi/wallet-service/pkg/rabbitmq"
)

const walletEventExchange = "wallet.events"

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrRateLimited          = errors.New("rate limited")
	ErrExternalSubmitFailed = errors.New("external settlement submission failed")
	ErrLedgerDebitFailed    = errors.New("ledger debit failed after external submission")
)

// PlatformClient is the subset of the Pi platform API the service depends on.
type PlatformClient interface {
	ApprovePayment(ctx context.Context, paymentID string) (*piclient.Payment, error)
	CompletePayment(ctx context.Context, paymentID, txid string) (*piclient.Payment, error)
	CreatePayment(ctx context.Context, req piclient.CreatePaymentRequest) (*piclient.Payment, error)
}

// RateLimiter throttles a scoped operation for a subject. A nil limiter
// disables throttling.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core wallet ledger and payment-settlement logic.
type Service struct {
	repo          store.Repository
	platform      PlatformClient
	strategy      SettlementStrategy
	eventProducer rabbitmq.Publisher

	rateLimiter             RateLimiter
	withdrawalRatePerMinute int

	settleGates *ownerGates
}

// NewService creates a new wallet service instance.
func NewService(repo store.Repository, platform PlatformClient, strategy SettlementStrategy, producer rabbitmq.Publisher) *Service {
	return &Service{
		repo:          repo,
		platform:      platform,
		strategy:      strategy,
		eventProducer: producer,
		settleGates:   newOwnerGates(),
	}
}

// SetWithdrawalRateLimiter enables throttling of withdrawal creation.
func (s *Service) SetWithdrawalRateLimiter(limiter RateLimiter, perMinute int) {
	s.rateLimiter = limiter
	s.withdrawalRatePerMinute = perMinute
}

func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.eventProducer == nil {
		return
	}
	if err := s.eventProducer.Publish(ctx, walletEventExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=service msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

// ApprovePayment drives the approve phase of an inbound payment. Repeating
// the call after a lost response is safe; the platform deduplicates by
// payment id. A platform rejection marks the local record failed; a transport
// failure leaves it untouched so the caller can retry.
func (s *Service) ApprovePayment(ctx context.Context, paymentID string) (*piclient.Payment, error) {
	if paymentID == "" {
		return nil, fmt.Errorf("%w: payment id is required", ErrInvalidInput)
	}

	if _, err := s.repo.EnsureInboundPayment(ctx, paymentID); err != nil {
		return nil, fmt.Errorf("failed to record inbound payment: %w", err)
	}

	payment, err := s.platform.ApprovePayment(ctx, paymentID)
	if err != nil {
		var apiErr *piclient.APIError
		if errors.As(err, &apiErr) {
			if failErr := s.repo.MarkPaymentFailed(ctx, paymentID); failErr != nil {
				log.Printf("level=error component=bridge msg=\"failed to mark payment failed\" payment_id=%s err=%v", paymentID, failErr)
			}
		}
		return nil, fmt.Errorf("platform approve failed: %w", err)
	}

	if err := s.repo.MarkPaymentApproved(ctx, paymentID); err != nil {
		log.Printf("level=error component=bridge msg=\"failed to mark payment approved\" payment_id=%s err=%v", paymentID, err)
	}

	log.Printf("level=info component=bridge msg=\"payment approved\" payment_id=%s", paymentID)
	return payment, nil
}

// CompletePayment drives the complete phase and, on the first observed
// transition to completed, credits the owner's wallet. The platform response
// is the source of truth for the credited owner and amount; the notification
// body is only a fallback. A replayed completion returns success without a
// second credit.
func (s *Service) CompletePayment(ctx context.Context, notif domain.DepositNotification) (*piclient.Payment, error) {
	if notif.PaymentID == "" || notif.TxID == "" {
		return nil, fmt.Errorf("%w: payment id and txid are required", ErrInvalidInput)
	}

	payment, err := s.repo.EnsureInboundPayment(ctx, notif.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to record inbound payment: %w", err)
	}
	if payment.State == domain.PaymentCreated {
		// The platform enforces approve-before-complete; locally we only log.
		log.Printf("level=warn component=bridge msg=\"complete requested before local approve\" payment_id=%s", notif.PaymentID)
	}

	platformPayment, err := s.platform.CompletePayment(ctx, notif.PaymentID, notif.TxID)
	if err != nil {
		var apiErr *piclient.APIError
		if errors.As(err, &apiErr) {
			if failErr := s.repo.MarkPaymentFailed(ctx, notif.PaymentID); failErr != nil {
				log.Printf("level=error component=bridge msg=\"failed to mark payment failed\" payment_id=%s err=%v", notif.PaymentID, failErr)
			}
		}
		return nil, fmt.Errorf("platform complete failed: %w", err)
	}

	owner := platformPayment.UserUID
	amount := platformPayment.Amount
	if owner == "" || amount.Cmp(decimal.Zero) <= 0 {
		log.Printf("level=warn component=bridge msg=\"platform response missing owner/amount; falling back to notification\" payment_id=%s", notif.PaymentID)
		owner = notif.Owner
		amount = notif.Amount
	}
	if owner == "" {
		return nil, fmt.Errorf("%w: cannot determine payment owner", ErrInvalidInput)
	}

	txid := notif.TxID
	if platformPayment.Transaction != nil && platformPayment.Transaction.TxID != "" {
		txid = platformPayment.Transaction.TxID
	}

	alreadyCompleted, err := s.repo.CompleteInboundPayment(ctx, notif.PaymentID, owner, amount, txid)
	if err != nil {
		return nil, fmt.Errorf("failed to complete inbound payment: %w", err)
	}

	// The credit runs on every observation of the completed state, replays
	// included: if an earlier delivery crashed between the completed
	// transition and the credit, the replay applies it. The external-ref
	// check makes the normal replay a no-op.
	if err := s.ApplyDeposit(ctx, owner, amount, notif.PaymentID); err != nil {
		if errors.Is(err, store.ErrAlreadyApplied) {
			log.Printf("level=info component=bridge msg=\"duplicate completion acknowledged\" payment_id=%s owner=%s", notif.PaymentID, owner)
			return platformPayment, nil
		}
		return nil, err
	}
	if alreadyCompleted {
		log.Printf("level=warn component=bridge msg=\"credit recovered on replayed completion\" payment_id=%s owner=%s amount=%s", notif.PaymentID, owner, amount)
	}

	s.publish(ctx, "wallet.deposit.credited", domain.DepositCreditedEvent{
		Owner:      owner,
		Amount:     amount,
		PaymentID:  notif.PaymentID,
		TxID:       txid,
		OccurredAt: time.Now().UTC(),
	})

	log.Printf("level=info component=bridge msg=\"payment completed and credited\" payment_id=%s owner=%s amount=%s", notif.PaymentID, owner, amount)
	return platformPayment, nil
}

// ApplyDeposit credits the owner's wallet with amount, keyed by externalRef.
// The check-and-append is one critical section in the store, so repeated
// delivery of the same ref returns store.ErrAlreadyApplied without a second
// credit.
func (s *Service) ApplyDeposit(ctx context.Context, owner string, amount decimal.Decimal, externalRef string) error {
	if owner == "" || externalRef == "" {
		return fmt.Errorf("%w: owner and external ref are required", ErrInvalidInput)
	}
	if amount.Cmp(decimal.Zero) <= 0 {
		return store.ErrInvalidAmount
	}
	if _, err := s.repo.ApplyDeposit(ctx, owner, amount, externalRef); err != nil {
		return err
	}
	return nil
}

// GetWallet returns the wallet for an owner.
func (s *Service) GetWallet(ctx context.Context, owner string) (*domain.Wallet, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	return s.repo.GetWallet(ctx, owner)
}

// CreateWithdrawal validates and records a pending payout request. The
// balance check here is advisory; settlement re-checks immediately before
// the debit.
func (s *Service) CreateWithdrawal(ctx context.Context, req domain.CreateWithdrawalRequest) (*domain.WithdrawalRequest, error) {
	if req.Owner == "" || req.DestinationAddress == "" {
		return nil, fmt.Errorf("%w: owner and destination address are required", ErrInvalidInput)
	}
	if req.Amount.Cmp(decimal.Zero) <= 0 {
		return nil, store.ErrInvalidAmount
	}

	if s.rateLimiter != nil && s.withdrawalRatePerMinute > 0 {
		count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, "withdrawal:create", req.Owner, s.withdrawalRatePerMinute, time.Minute)
		if err != nil {
			log.Printf("level=warn component=withdrawals msg=\"rate limiter unavailable; allowing request\" owner=%s err=%v", req.Owner, err)
		} else if count > s.withdrawalRatePerMinute {
			return nil, fmt.Errorf("%w: retry after %ds", ErrRateLimited, retryAfter)
		}
	}

	wallet, err := s.repo.GetWallet(ctx, req.Owner)
	if err != nil {
		if errors.Is(err, store.ErrWalletNotFound) {
			return nil, store.ErrInsufficientBalance
		}
		return nil, fmt.Errorf("failed to read wallet: %w", err)
	}
	if wallet.Balance.Cmp(req.Amount) < 0 {
		return nil, store.ErrInsufficientBalance
	}

	withdrawal := &domain.WithdrawalRequest{
		ID:                 uuid.New(),
		Owner:              req.Owner,
		Amount:             req.Amount,
		DestinationAddress: req.DestinationAddress,
		Status:             domain.WithdrawalPending,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.repo.CreateWithdrawal(ctx, withdrawal); err != nil {
		return nil, fmt.Errorf("failed to create withdrawal request: %w", err)
	}

	log.Printf("level=info component=withdrawals msg=\"withdrawal request created\" request_id=%s owner=%s amount=%s", withdrawal.ID, withdrawal.Owner, withdrawal.Amount)
	return withdrawal, nil
}

// ResolveWithdrawal applies an administrator decision to a pending request.
// Reject is a pure status transition; approve triggers settlement and only
// commits the approved status if settlement succeeds. Either way a request
// leaves pending at most once.
func (s *Service) ResolveWithdrawal(ctx context.Context, id uuid.UUID, decision domain.WithdrawalDecision) (*domain.WithdrawalRequest, error) {
	switch decision {
	case domain.DecisionReject:
		if err := s.repo.MarkWithdrawalRejected(ctx, id); err != nil {
			return nil, err
		}
		log.Printf("level=info component=withdrawals msg=\"withdrawal rejected\" request_id=%s", id)
		return s.repo.GetWithdrawal(ctx, id)
	case domain.DecisionApprove:
		return s.Settle(ctx, id)
	default:
		return nil, fmt.Errorf("%w: unknown decision %q", ErrInvalidInput, decision)
	}
}

// ListPendingWithdrawals returns the administrator's work queue.
func (s *Service) ListPendingWithdrawals(ctx context.Context) ([]domain.WithdrawalRequest, error) {
	return s.repo.ListPendingWithdrawals(ctx)
}
