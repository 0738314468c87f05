/**
 * @description
 * Payout settlement: submitting an approved withdrawal to the external
 * network and reconciling the outcome back into the ledger and the request
 * record. Two interchangeable strategies sit behind the SettlementStrategy
 * interface, selected by configuration:
 *
 * - PlatformSettlement: create a payout record on the Pi platform, broadcast
 *   a signed transfer to the returned recipient, then complete the platform
 *   record with the txid.
 * - DirectSettlement: a single signed transfer straight to the request's
 *   destination address.
 *
 * Settle's order is strict: re-validate, submit, then debit. The debit
 * happens only after confirmed external submission; a failed submission
 * leaves balance and request untouched apart from a recorded last-error.
 * Settlements for one owner are serialized through a per-owner gate that is
 * distinct from the wallet's balance lock, so deposits proceed concurrently
 * while a slow settlement is in flight.
 *
 * @dependencies
 * - context, errors, fmt, log, sync, time: Standard Go libraries.
 * - github.com/google/uuid, github.com/shopspring/decimal.
 * - internal/domain, internal/store, pkg/piclient.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chototpi/wallet-service/internal/domain"
	"github.com/chototpi/wallet-service/internal/store"
	"github.com/chototpi/wallet-service/pkg/piclient"
)

// NetworkClient broadcasts a signed transfer and returns the on-chain txid.
type NetworkClient interface {
	SubmitTransfer(ctx context.Context, destination string, amount decimal.Decimal, memo string) (string, error)
}

// SettlementStrategy submits one withdrawal to the external network.
type SettlementStrategy interface {
	Submit(ctx context.Context, req *domain.WithdrawalRequest) (txid string, err error)
}

// PlatformSettlement settles through a platform payout record plus a signed
// broadcast.
type PlatformSettlement struct {
	platform PlatformClient
	network  NetworkClient
}

func NewPlatformSettlement(platform PlatformClient, network NetworkClient) *PlatformSettlement {
	return &PlatformSettlement{platform: platform, network: network}
}

func (p *PlatformSettlement) Submit(ctx context.Context, req *domain.WithdrawalRequest) (string, error) {
	payment, err := p.platform.CreatePayment(ctx, piclient.CreatePaymentRequest{
		Amount: req.Amount,
		ToUID:  req.Owner,
		Memo:   "withdrawal " + req.ID.String(),
		Metadata: map[string]string{
			"request_id": req.ID.String(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("platform payout creation failed: %w", err)
	}

	destination := payment.ToAddress
	if destination == "" {
		destination = req.DestinationAddress
	}

	txid, err := p.network.SubmitTransfer(ctx, destination, req.Amount, payment.Identifier)
	if err != nil {
		return "", fmt.Errorf("transfer broadcast failed: %w", err)
	}

	// The funds are on-chain at this point; completing the platform record is
	// bookkeeping and must not discard the txid.
	if _, err := p.platform.CompletePayment(ctx, payment.Identifier, txid); err != nil {
		log.Printf("level=warn component=settlement msg=\"platform payout completion failed after broadcast\" payment_id=%s txid=%s err=%v", payment.Identifier, txid, err)
	}

	return txid, nil
}

// DirectSettlement settles with a single signed transfer to the destination
// address.
type DirectSettlement struct {
	network NetworkClient
}

func NewDirectSettlement(network NetworkClient) *DirectSettlement {
	return &DirectSettlement{network: network}
}

func (d *DirectSettlement) Submit(ctx context.Context, req *domain.WithdrawalRequest) (string, error) {
	txid, err := d.network.SubmitTransfer(ctx, req.DestinationAddress, req.Amount, "withdrawal "+req.ID.String())
	if err != nil {
		return "", fmt.Errorf("transfer broadcast failed: %w", err)
	}
	return txid, nil
}

// ownerGates serializes settlements per owner. Entries are refcounted and
// evicted when the last settlement for an owner releases, so the map is
// bounded by in-flight settlements rather than by every owner ever seen.
type ownerGates struct {
	mu    sync.Mutex
	gates map[string]*ownerGate
}

type ownerGate struct {
	mu   sync.Mutex
	refs int
}

func newOwnerGates() *ownerGates {
	return &ownerGates{gates: make(map[string]*ownerGate)}
}

func (g *ownerGates) acquire(owner string) *ownerGate {
	g.mu.Lock()
	gate, ok := g.gates[owner]
	if !ok {
		gate = &ownerGate{}
		g.gates[owner] = gate
	}
	gate.refs++
	g.mu.Unlock()

	gate.mu.Lock()
	return gate
}

func (g *ownerGates) release(owner string, gate *ownerGate) {
	gate.mu.Unlock()

	g.mu.Lock()
	gate.refs--
	if gate.refs == 0 {
		delete(g.gates, owner)
	}
	g.mu.Unlock()
}

// Settle submits a pending withdrawal to the external network and, only on
// confirmed submission, debits the wallet and marks the request approved.
func (s *Service) Settle(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	req, err := s.repo.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.WithdrawalPending {
		return nil, store.ErrAlreadyResolved
	}

	gate := s.settleGates.acquire(req.Owner)
	defer s.settleGates.release(req.Owner, gate)

	// Re-validate inside the gate: the request or the balance may have moved
	// while another settlement for this owner was in flight.
	req, err = s.repo.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.WithdrawalPending {
		return nil, store.ErrAlreadyResolved
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

	txid, err := s.strategy.Submit(ctx, req)
	if err != nil {
		if recErr := s.repo.RecordWithdrawalError(ctx, id, err.Error()); recErr != nil {
			log.Printf("level=error component=settlement msg=\"failed to record settlement error\" request_id=%s err=%v", id, recErr)
		}
		s.publish(ctx, "wallet.withdrawal.failed", domain.WithdrawalFailedEvent{
			RequestID:  id.String(),
			Owner:      req.Owner,
			Reason:     err.Error(),
			OccurredAt: time.Now().UTC(),
		})
		log.Printf("level=warn component=settlement msg=\"external submission failed; request stays pending\" request_id=%s err=%v", id, err)
		return nil, fmt.Errorf("%w: %v", ErrExternalSubmitFailed, err)
	}

	if _, err := s.repo.DebitWallet(ctx, req.Owner, req.Amount, txid); err != nil {
		// Funds have left but the ledger was not updated. This needs manual
		// reconciliation and must never be retried blindly.
		log.Printf("CRITICAL: ledger debit failed after confirmed submission: request_id=%s owner=%s amount=%s txid=%s err=%v", id, req.Owner, req.Amount, txid, err)
		if recErr := s.repo.RecordWithdrawalError(ctx, id, fmt.Sprintf("debit failed after submission, txid=%s: %v", txid, err)); recErr != nil {
			log.Printf("level=error component=settlement msg=\"failed to record debit failure\" request_id=%s err=%v", id, recErr)
		}
		return nil, fmt.Errorf("%w: txid=%s: %v", ErrLedgerDebitFailed, txid, err)
	}

	approvedAt := time.Now().UTC()
	if err := s.repo.MarkWithdrawalApproved(ctx, id, txid, approvedAt); err != nil {
		log.Printf("CRITICAL: withdrawal submitted and debited but status update failed: request_id=%s txid=%s err=%v", id, txid, err)
		return nil, fmt.Errorf("%w: txid=%s: %v", ErrLedgerDebitFailed, txid, err)
	}

	req.Status = domain.WithdrawalApproved
	req.TxID = &txid
	req.ApprovedAt = &approvedAt
	req.LastError = nil

	s.publish(ctx, "wallet.withdrawal.settled", domain.WithdrawalSettledEvent{
		RequestID:  id.String(),
		Owner:      req.Owner,
		Amount:     req.Amount,
		TxID:       txid,
		OccurredAt: approvedAt,
	})

	log.Printf("level=info component=settlement msg=\"withdrawal settled\" request_id=%s owner=%s amount=%s txid=%s", id, req.Owner, req.Amount, txid)
	return req, nil
}
