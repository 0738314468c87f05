/**
 * @description
 * In-memory implementation of the Repository interface. It backs the dev
 * profile (no DATABASE_URL configured) and the unit tests. Balance mutations
 * for one owner are serialized through a per-owner mutex held only across the
 * read-check-write of the wallet record, mirroring the row-lock scope of the
 * PostgreSQL implementation.
 *
 * @dependencies
 * - context, sync, time: Standard Go libraries.
 * - github.com/google/uuid, github.com/shopspring/decimal.
 * - internal/domain: The service's domain models.
 */

package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chototpi/wallet-service/internal/domain"
)

// MemoryRepository is a thread-safe in-memory Repository.
type MemoryRepository struct {
	// walletMu grows with distinct owners and is never evicted. The wallet
	// records themselves grow the same way, so the lock map adds one mutex
	// per wallet already held in memory; acceptable for the dev profile and
	// tests this store backs.
	walletMu map[string]*sync.Mutex // per-owner exclusive section
	mapMu    sync.Mutex             // protects walletMu itself

	mu          sync.Mutex // protects the three record maps
	wallets     map[string]*domain.Wallet
	payments    map[string]*domain.InboundPayment
	withdrawals map[uuid.UUID]*domain.WithdrawalRequest
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		walletMu:    make(map[string]*sync.Mutex),
		wallets:     make(map[string]*domain.Wallet),
		payments:    make(map[string]*domain.InboundPayment),
		withdrawals: make(map[uuid.UUID]*domain.WithdrawalRequest),
	}
}

func (m *MemoryRepository) ownerLock(owner string) *sync.Mutex {
	m.mapMu.Lock()
	defer m.mapMu.Unlock()
	if _, ok := m.walletMu[owner]; !ok {
		m.walletMu[owner] = &sync.Mutex{}
	}
	return m.walletMu[owner]
}

func copyWallet(w *domain.Wallet) *domain.Wallet {
	cp := *w
	cp.Transactions = make([]domain.LedgerEntry, len(w.Transactions))
	copy(cp.Transactions, w.Transactions)
	return &cp
}

// GetWallet returns a copy of the wallet so callers cannot mutate ledger state.
func (m *MemoryRepository) GetWallet(ctx context.Context, owner string) (*domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[owner]
	if !ok {
		return nil, ErrWalletNotFound
	}
	return copyWallet(w), nil
}

// ApplyDeposit performs the combined duplicate check and credit under the
// owner's exclusive section.
func (m *MemoryRepository) ApplyDeposit(ctx context.Context, owner string, amount decimal.Decimal, externalRef string) (*domain.Wallet, error) {
	if amount.Cmp(decimal.Zero) <= 0 {
		return nil, ErrInvalidAmount
	}
	lock := m.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[owner]
	if !ok {
		w = &domain.Wallet{Owner: owner, Balance: decimal.Zero}
		m.wallets[owner] = w
	}

	for _, entry := range w.Transactions {
		if entry.ExternalRef == externalRef {
			return nil, ErrAlreadyApplied
		}
	}

	w.Transactions = append(w.Transactions, domain.LedgerEntry{
		Kind:        domain.EntryDeposit,
		Amount:      amount,
		ExternalRef: externalRef,
		CreatedAt:   time.Now().UTC(),
	})
	w.Balance = w.Balance.Add(amount)
	w.UpdatedAt = time.Now().UTC()
	return copyWallet(w), nil
}

// DebitWallet decrements the balance only when it covers the amount, in the
// same critical section as the history append.
func (m *MemoryRepository) DebitWallet(ctx context.Context, owner string, amount decimal.Decimal, externalRef string) (*domain.Wallet, error) {
	if amount.Cmp(decimal.Zero) <= 0 {
		return nil, ErrInvalidAmount
	}
	lock := m.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[owner]
	if !ok {
		return nil, ErrWalletNotFound
	}
	if w.Balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientBalance
	}

	w.Transactions = append(w.Transactions, domain.LedgerEntry{
		Kind:        domain.EntryDebit,
		Amount:      amount,
		ExternalRef: externalRef,
		CreatedAt:   time.Now().UTC(),
	})
	w.Balance = w.Balance.Sub(amount)
	w.UpdatedAt = time.Now().UTC()
	return copyWallet(w), nil
}

func (m *MemoryRepository) EnsureInboundPayment(ctx context.Context, paymentID string) (*domain.InboundPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.payments[paymentID]; ok {
		cp := *p
		return &cp, nil
	}
	now := time.Now().UTC()
	p := &domain.InboundPayment{
		PaymentID: paymentID,
		State:     domain.PaymentCreated,
		Amount:    decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.payments[paymentID] = p
	cp := *p
	return &cp, nil
}

func (m *MemoryRepository) GetInboundPayment(ctx context.Context, paymentID string) (*domain.InboundPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryRepository) MarkPaymentApproved(ctx context.Context, paymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return ErrPaymentNotFound
	}
	if p.State == domain.PaymentCreated {
		p.State = domain.PaymentApproved
		p.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *MemoryRepository) MarkPaymentFailed(ctx context.Context, paymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return ErrPaymentNotFound
	}
	if p.State == domain.PaymentCompleted {
		return nil
	}
	p.State = domain.PaymentFailed
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// CompleteInboundPayment is the compare-and-swap that guarantees a payment is
// completed, and therefore credited, at most once.
func (m *MemoryRepository) CompleteInboundPayment(ctx context.Context, paymentID, owner string, amount decimal.Decimal, txid string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return false, ErrPaymentNotFound
	}
	switch p.State {
	case domain.PaymentCompleted:
		return true, nil
	case domain.PaymentFailed:
		return false, ErrPaymentFailed
	}
	p.State = domain.PaymentCompleted
	p.Owner = owner
	p.Amount = amount
	p.TxID = &txid
	p.UpdatedAt = time.Now().UTC()
	return false, nil
}

func (m *MemoryRepository) CreateWithdrawal(ctx context.Context, req *domain.WithdrawalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	m.withdrawals[req.ID] = &cp
	return nil
}

func (m *MemoryRepository) GetWithdrawal(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryRepository) ListPendingWithdrawals(ctx context.Context) ([]domain.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []domain.WithdrawalRequest
	for _, w := range m.withdrawals {
		if w.Status == domain.WithdrawalPending {
			result = append(result, *w)
		}
	}
	return result, nil
}

func (m *MemoryRepository) MarkWithdrawalApproved(ctx context.Context, id uuid.UUID, txid string, approvedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[id]
	if !ok {
		return ErrRequestNotFound
	}
	if w.Status != domain.WithdrawalPending {
		return ErrAlreadyResolved
	}
	w.Status = domain.WithdrawalApproved
	w.TxID = &txid
	w.ApprovedAt = &approvedAt
	w.LastError = nil
	return nil
}

func (m *MemoryRepository) MarkWithdrawalRejected(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[id]
	if !ok {
		return ErrRequestNotFound
	}
	if w.Status != domain.WithdrawalPending {
		return ErrAlreadyResolved
	}
	w.Status = domain.WithdrawalRejected
	return nil
}

func (m *MemoryRepository) RecordWithdrawalError(ctx context.Context, id uuid.UUID, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[id]
	if !ok {
		return ErrRequestNotFound
	}
	if w.Status != domain.WithdrawalPending {
		return ErrAlreadyResolved
	}
	w.LastError = &lastError
	return nil
}

// Compile-time check: MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)
