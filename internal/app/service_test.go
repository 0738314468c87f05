package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chototpi/wallet-service/internal/domain"
	"github.com/chototpi/wallet-service/internal/store"
	"github.com/chototpi/wallet-service/pkg/piclient"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

// stubPlatform records calls and plays back canned responses.
type stubPlatform struct {
	approveFn  func(ctx context.Context, paymentID string) (*piclient.Payment, error)
	completeFn func(ctx context.Context, paymentID, txid string) (*piclient.Payment, error)
	createFn   func(ctx context.Context, req piclient.CreatePaymentRequest) (*piclient.Payment, error)

	mu            sync.Mutex
	approveCalls  []string
	completeCalls []string
	createCalls   []piclient.CreatePaymentRequest
}

func (p *stubPlatform) ApprovePayment(ctx context.Context, paymentID string) (*piclient.Payment, error) {
	p.mu.Lock()
	p.approveCalls = append(p.approveCalls, paymentID)
	p.mu.Unlock()
	if p.approveFn != nil {
		return p.approveFn(ctx, paymentID)
	}
	return &piclient.Payment{Identifier: paymentID}, nil
}

func (p *stubPlatform) CompletePayment(ctx context.Context, paymentID, txid string) (*piclient.Payment, error) {
	p.mu.Lock()
	p.completeCalls = append(p.completeCalls, paymentID+"/"+txid)
	p.mu.Unlock()
	if p.completeFn != nil {
		return p.completeFn(ctx, paymentID, txid)
	}
	return &piclient.Payment{Identifier: paymentID}, nil
}

func (p *stubPlatform) CreatePayment(ctx context.Context, req piclient.CreatePaymentRequest) (*piclient.Payment, error) {
	p.mu.Lock()
	p.createCalls = append(p.createCalls, req)
	p.mu.Unlock()
	if p.createFn != nil {
		return p.createFn(ctx, req)
	}
	return &piclient.Payment{Identifier: "out-1"}, nil
}

// stubStrategy settles with a fixed txid, optionally after a delay.
type stubStrategy struct {
	txid  string
	err   error
	delay time.Duration

	mu      sync.Mutex
	submits []*domain.WithdrawalRequest
}

func (s *stubStrategy) Submit(ctx context.Context, req *domain.WithdrawalRequest) (string, error) {
	s.mu.Lock()
	s.submits = append(s.submits, req)
	s.mu.Unlock()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return "", s.err
	}
	return s.txid, nil
}

func newTestService(strategy SettlementStrategy, platform PlatformClient) (*Service, *store.MemoryRepository) {
	repo := store.NewMemoryRepository()
	if platform == nil {
		platform = &stubPlatform{}
	}
	if strategy == nil {
		strategy = &stubStrategy{txid: "chain-tx"}
	}
	return NewService(repo, platform, strategy, nil), repo
}

func TestCompletePayment_CreditsWalletExactlyOnce(t *testing.T) {
	platform := &stubPlatform{
		completeFn: func(ctx context.Context, paymentID, txid string) (*piclient.Payment, error) {
			return &piclient.Payment{
				Identifier: paymentID,
				UserUID:    "alice",
				Amount:     dec(t, "50"),
			}, nil
		},
	}
	svc, repo := newTestService(nil, platform)
	ctx := context.Background()

	notif := domain.DepositNotification{PaymentID: "pay1", TxID: "chainX", Owner: "alice", Amount: dec(t, "50")}

	if _, err := svc.ApprovePayment(ctx, "pay1"); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if _, err := svc.CompletePayment(ctx, notif); err != nil {
		t.Fatalf("first complete failed: %v", err)
	}
	// A replayed completion callback acknowledges without a second credit.
	if _, err := svc.CompletePayment(ctx, notif); err != nil {
		t.Fatalf("replayed complete failed: %v", err)
	}

	w, err := repo.GetWallet(ctx, "alice")
	if err != nil {
		t.Fatalf("get wallet failed: %v", err)
	}
	if !w.Balance.Equal(dec(t, "50")) {
		t.Fatalf("expected balance 50 after replay, got %s", w.Balance)
	}
	if len(w.Transactions) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(w.Transactions))
	}

	p, err := repo.GetInboundPayment(ctx, "pay1")
	if err != nil {
		t.Fatalf("get payment failed: %v", err)
	}
	if p.State != domain.PaymentCompleted {
		t.Fatalf("expected completed state, got %s", p.State)
	}
}

func TestCompletePayment_PlatformValuesOverrideNotification(t *testing.T) {
	platform := &stubPlatform{
		completeFn: func(ctx context.Context, paymentID, txid string) (*piclient.Payment, error) {
			return &piclient.Payment{
				Identifier: paymentID,
				UserUID:    "alice",
				Amount:     dec(t, "7"),
			}, nil
		},
	}
	svc, repo := newTestService(nil, platform)
	ctx := context.Background()

	// The caller claims a much larger amount for a different owner.
	notif := domain.DepositNotification{PaymentID: "pay1", TxID: "chainX", Owner: "mallory", Amount: dec(t, "9999")}
	if _, err := svc.CompletePayment(ctx, notif); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	if _, err := repo.GetWallet(ctx, "mallory"); !errors.Is(err, store.ErrWalletNotFound) {
		t.Fatalf("caller-asserted owner must not be credited, got %v", err)
	}
	w, err := repo.GetWallet(ctx, "alice")
	if err != nil {
		t.Fatalf("get wallet failed: %v", err)
	}
	if !w.Balance.Equal(dec(t, "7")) {
		t.Fatalf("expected balance 7 from platform response, got %s", w.Balance)
	}
}

func TestCompletePayment_FallsBackToNotificationValues(t *testing.T) {
	platform := &stubPlatform{
		completeFn: func(ctx context.Context, paymentID, txid string) (*piclient.Payment, error) {
			return &piclient.Payment{Identifier: paymentID}, nil
		},
	}
	svc, repo := newTestService(nil, platform)
	ctx := context.Background()

	notif := domain.DepositNotification{PaymentID: "pay1", TxID: "chainX", Owner: "alice", Amount: dec(t, "12")}
	if _, err := svc.CompletePayment(ctx, notif); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	w, err := repo.GetWallet(ctx, "alice")
	if err != nil {
		t.Fatalf("get wallet failed: %v", err)
	}
	if !w.Balance.Equal(dec(t, "12")) {
		t.Fatalf("expected fallback credit of 12, got %s", w.Balance)
	}
}

func TestApprovePayment_PlatformRejectionMarksFailed(t *testing.T) {
	platform := &stubPlatform{
		approveFn: func(ctx context.Context, paymentID string) (*piclient.Payment, error) {
			return nil, &piclient.APIError{StatusCode: 400, Body: "unknown payment"}
		},
	}
	svc, repo := newTestService(nil, platform)
	ctx := context.Background()

	_, err := svc.ApprovePayment(ctx, "pay1")
	var apiErr *piclient.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}

	p, err := repo.GetInboundPayment(ctx, "pay1")
	if err != nil {
		t.Fatalf("get payment failed: %v", err)
	}
	if p.State != domain.PaymentFailed {
		t.Fatalf("expected failed state, got %s", p.State)
	}
}

func TestApprovePayment_TransportFailureLeavesStateRetryable(t *testing.T) {
	calls := 0
	platform := &stubPlatform{
		approveFn: func(ctx context.Context, paymentID string) (*piclient.Payment, error) {
			calls++
			if calls == 1 {
				return nil, piclient.ErrUnavailable
			}
			return &piclient.Payment{Identifier: paymentID}, nil
		},
	}
	svc, repo := newTestService(nil, platform)
	ctx := context.Background()

	if _, err := svc.ApprovePayment(ctx, "pay1"); !errors.Is(err, piclient.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	p, _ := repo.GetInboundPayment(ctx, "pay1")
	if p.State != domain.PaymentCreated {
		t.Fatalf("transport failure must not fail the payment, got %s", p.State)
	}

	if _, err := svc.ApprovePayment(ctx, "pay1"); err != nil {
		t.Fatalf("retry after transport failure should succeed: %v", err)
	}
	p, _ = repo.GetInboundPayment(ctx, "pay1")
	if p.State != domain.PaymentApproved {
		t.Fatalf("expected approved after retry, got %s", p.State)
	}
}

func TestCompletePayment_FailedPaymentNeverCredits(t *testing.T) {
	platform := &stubPlatform{
		approveFn: func(ctx context.Context, paymentID string) (*piclient.Payment, error) {
			return nil, &piclient.APIError{StatusCode: 400, Body: "rejected"}
		},
		completeFn: func(ctx context.Context, paymentID, txid string) (*piclient.Payment, error) {
			return &piclient.Payment{Identifier: paymentID, UserUID: "alice", Amount: dec(t, "50")}, nil
		},
	}
	svc, repo := newTestService(nil, platform)
	ctx := context.Background()

	svc.ApprovePayment(ctx, "pay1") // marks the record failed

	_, err := svc.CompletePayment(ctx, domain.DepositNotification{PaymentID: "pay1", TxID: "chainX"})
	if !errors.Is(err, store.ErrPaymentFailed) {
		t.Fatalf("expected ErrPaymentFailed, got %v", err)
	}
	if _, err := repo.GetWallet(ctx, "alice"); !errors.Is(err, store.ErrWalletNotFound) {
		t.Fatalf("failed payment must not credit, got %v", err)
	}
}

func TestWithdrawalLifecycle_DepositRequestSettle(t *testing.T) {
	strategy := &stubStrategy{txid: "chain-xyz"}
	svc, repo := newTestService(strategy, nil)
	ctx := context.Background()

	if err := svc.ApplyDeposit(ctx, "alice", dec(t, "50"), "dep1"); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	req, err := svc.CreateWithdrawal(ctx, domain.CreateWithdrawalRequest{
		Owner:              "alice",
		Amount:             dec(t, "30"),
		DestinationAddress: "GABC",
	})
	if err != nil {
		t.Fatalf("create withdrawal failed: %v", err)
	}
	if req.Status != domain.WithdrawalPending {
		t.Fatalf("expected pending request, got %s", req.Status)
	}

	settled, err := svc.ResolveWithdrawal(ctx, req.ID, domain.DecisionApprove)
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if settled.Status != domain.WithdrawalApproved || settled.TxID == nil || *settled.TxID != "chain-xyz" {
		t.Fatalf("unexpected settled request: %+v", settled)
	}
	if settled.ApprovedAt == nil {
		t.Fatalf("expected approval timestamp")
	}

	w, _ := repo.GetWallet(ctx, "alice")
	if !w.Balance.Equal(dec(t, "20")) {
		t.Fatalf("expected balance 20 after settlement, got %s", w.Balance)
	}
	if len(strategy.submits) != 1 {
		t.Fatalf("expected one network submission, got %d", len(strategy.submits))
	}
}

func TestCreateWithdrawal_InsufficientBalance(t *testing.T) {
	svc, _ := newTestService(nil, nil)
	ctx := context.Background()

	if err := svc.ApplyDeposit(ctx, "alice", dec(t, "10"), "dep1"); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	_, err := svc.CreateWithdrawal(ctx, domain.CreateWithdrawalRequest{
		Owner:              "alice",
		Amount:             dec(t, "11"),
		DestinationAddress: "GABC",
	})
	if !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestResolveWithdrawal_SecondDecisionRejected(t *testing.T) {
	strategy := &stubStrategy{txid: "chain-xyz"}
	svc, _ := newTestService(strategy, nil)
	ctx := context.Background()

	svc.ApplyDeposit(ctx, "alice", dec(t, "50"), "dep1")
	req, err := svc.CreateWithdrawal(ctx, domain.CreateWithdrawalRequest{Owner: "alice", Amount: dec(t, "30"), DestinationAddress: "GABC"})
	if err != nil {
		t.Fatalf("create withdrawal failed: %v", err)
	}

	if _, err := svc.ResolveWithdrawal(ctx, req.ID, domain.DecisionApprove); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if _, err := svc.ResolveWithdrawal(ctx, req.ID, domain.DecisionReject); !errors.Is(err, store.ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
	if _, err := svc.ResolveWithdrawal(ctx, req.ID, domain.DecisionApprove); !errors.Is(err, store.ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved on re-approve, got %v", err)
	}
	if len(strategy.submits) != 1 {
		t.Fatalf("resolved request must not be resubmitted, got %d submissions", len(strategy.submits))
	}
}

func TestSettle_SubmissionFailureLeavesRequestPending(t *testing.T) {
	strategy := &stubStrategy{err: errors.New("network down")}
	svc, repo := newTestService(strategy, nil)
	ctx := context.Background()

	svc.ApplyDeposit(ctx, "alice", dec(t, "50"), "dep1")
	req, _ := svc.CreateWithdrawal(ctx, domain.CreateWithdrawalRequest{Owner: "alice", Amount: dec(t, "30"), DestinationAddress: "GABC"})

	_, err := svc.Settle(ctx, req.ID)
	if !errors.Is(err, ErrExternalSubmitFailed) {
		t.Fatalf("expected ErrExternalSubmitFailed, got %v", err)
	}

	w, _ := repo.GetWallet(ctx, "alice")
	if !w.Balance.Equal(dec(t, "50")) {
		t.Fatalf("balance must be untouched after failed submission, got %s", w.Balance)
	}
	got, _ := repo.GetWithdrawal(ctx, req.ID)
	if got.Status != domain.WithdrawalPending {
		t.Fatalf("request must stay pending, got %s", got.Status)
	}
	if got.LastError == nil || !strings.Contains(*got.LastError, "network down") {
		t.Fatalf("expected recorded last error, got %+v", got.LastError)
	}

	// The operator can retry once the network recovers.
	strategy.err = nil
	strategy.txid = "chain-retry"
	settled, err := svc.Settle(ctx, req.ID)
	if err != nil {
		t.Fatalf("retry after recovery failed: %v", err)
	}
	if settled.TxID == nil || *settled.TxID != "chain-retry" {
		t.Fatalf("unexpected txid after retry: %+v", settled.TxID)
	}
	w, _ = repo.GetWallet(ctx, "alice")
	if !w.Balance.Equal(dec(t, "20")) {
		t.Fatalf("expected balance 20 after retried settlement, got %s", w.Balance)
	}
}

// flakyDepositRepo fails the first credit attempt, simulating a store outage
// between the completed transition and the wallet credit.
type flakyDepositRepo struct {
	store.Repository
	failures int
}

func (r *flakyDepositRepo) ApplyDeposit(ctx context.Context, owner string, amount decimal.Decimal, externalRef string) (*domain.Wallet, error) {
	if r.failures > 0 {
		r.failures--
		return nil, errors.New("connection reset")
	}
	return r.Repository.ApplyDeposit(ctx, owner, amount, externalRef)
}

func TestCompletePayment_ReplayRecoversLostCredit(t *testing.T) {
	platform := &stubPlatform{
		completeFn: func(ctx context.Context, paymentID, txid string) (*piclient.Payment, error) {
			return &piclient.Payment{Identifier: paymentID, UserUID: "alice", Amount: dec(t, "50")}, nil
		},
	}
	mem := store.NewMemoryRepository()
	repo := &flakyDepositRepo{Repository: mem, failures: 1}
	svc := NewService(repo, platform, &stubStrategy{txid: "chain-tx"}, nil)
	ctx := context.Background()

	notif := domain.DepositNotification{PaymentID: "pay1", TxID: "chainX"}

	// First delivery: the payment reaches completed but the credit fails.
	if _, err := svc.CompletePayment(ctx, notif); err == nil {
		t.Fatalf("expected error when the credit fails")
	}
	p, err := mem.GetInboundPayment(ctx, "pay1")
	if err != nil {
		t.Fatalf("get payment failed: %v", err)
	}
	if p.State != domain.PaymentCompleted {
		t.Fatalf("expected completed state after first delivery, got %s", p.State)
	}
	if _, err := mem.GetWallet(ctx, "alice"); !errors.Is(err, store.ErrWalletNotFound) {
		t.Fatalf("wallet must not exist after failed credit, got %v", err)
	}

	// The replayed callback must apply the missing credit, and only once.
	if _, err := svc.CompletePayment(ctx, notif); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if _, err := svc.CompletePayment(ctx, notif); err != nil {
		t.Fatalf("second replay failed: %v", err)
	}

	w, err := mem.GetWallet(ctx, "alice")
	if err != nil {
		t.Fatalf("get wallet failed: %v", err)
	}
	if !w.Balance.Equal(dec(t, "50")) {
		t.Fatalf("expected recovered balance 50, got %s", w.Balance)
	}
	if len(w.Transactions) != 1 {
		t.Fatalf("expected exactly one ledger entry, got %d", len(w.Transactions))
	}
}

// failingDebitRepo simulates a store failure between the external submission
// and the ledger debit.
type failingDebitRepo struct {
	store.Repository
}

func (r *failingDebitRepo) DebitWallet(ctx context.Context, owner string, amount decimal.Decimal, externalRef string) (*domain.Wallet, error) {
	return nil, errors.New("connection reset")
}

func TestSettle_DebitFailureAfterSubmissionIsAnAlarm(t *testing.T) {
	mem := store.NewMemoryRepository()
	repo := &failingDebitRepo{Repository: mem}
	svc := NewService(repo, &stubPlatform{}, &stubStrategy{txid: "chain-xyz"}, nil)
	ctx := context.Background()

	mem.ApplyDeposit(ctx, "alice", dec(t, "50"), "dep1")
	req, _ := svc.CreateWithdrawal(ctx, domain.CreateWithdrawalRequest{Owner: "alice", Amount: dec(t, "30"), DestinationAddress: "GABC"})

	_, err := svc.Settle(ctx, req.ID)
	if !errors.Is(err, ErrLedgerDebitFailed) {
		t.Fatalf("expected ErrLedgerDebitFailed, got %v", err)
	}
	got, _ := mem.GetWithdrawal(ctx, req.ID)
	if got.LastError == nil || !strings.Contains(*got.LastError, "chain-xyz") {
		t.Fatalf("expected txid preserved in last error, got %+v", got.LastError)
	}
}

func TestSettle_ConcurrentRequestsRespectBalance(t *testing.T) {
	strategy := &stubStrategy{txid: "chain-xyz", delay: 10 * time.Millisecond}
	svc, repo := newTestService(strategy, nil)
	ctx := context.Background()

	svc.ApplyDeposit(ctx, "alice", dec(t, "100"), "dep1")

	reqA, err := svc.CreateWithdrawal(ctx, domain.CreateWithdrawalRequest{Owner: "alice", Amount: dec(t, "80"), DestinationAddress: "GABC"})
	if err != nil {
		t.Fatalf("create A failed: %v", err)
	}
	reqB, err := svc.CreateWithdrawal(ctx, domain.CreateWithdrawalRequest{Owner: "alice", Amount: dec(t, "80"), DestinationAddress: "GDEF"})
	if err != nil {
		t.Fatalf("create B failed: %v", err)
	}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, id := range []uuid.UUID{reqA.ID, reqB.ID} {
		wg.Add(1)
		id := id
		go func() {
			defer wg.Done()
			_, err := svc.Settle(ctx, id)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, insufficient int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected settle error: %v", err)
		}
	}
	if succeeded != 1 || insufficient != 1 {
		t.Fatalf("expected exactly one success and one insufficient-balance failure, got success=%d insufficient=%d", succeeded, insufficient)
	}

	w, _ := repo.GetWallet(ctx, "alice")
	if !w.Balance.Equal(dec(t, "20")) {
		t.Fatalf("expected final balance 20, got %s", w.Balance)
	}
	if len(strategy.submits) != 1 {
		t.Fatalf("only the winning request may reach the network, got %d submissions", len(strategy.submits))
	}
}

// fixedWindowLimiter is a deterministic in-process RateLimiter.
type fixedWindowLimiter struct {
	counts map[string]int
}

func (l *fixedWindowLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if l.counts == nil {
		l.counts = make(map[string]int)
	}
	key := scope + ":" + subject
	l.counts[key]++
	return l.counts[key], int(window.Seconds()), nil
}

func TestCreateWithdrawal_RateLimited(t *testing.T) {
	svc, _ := newTestService(nil, nil)
	svc.SetWithdrawalRateLimiter(&fixedWindowLimiter{}, 2)
	ctx := context.Background()

	svc.ApplyDeposit(ctx, "alice", dec(t, "100"), "dep1")

	for i := 0; i < 2; i++ {
		if _, err := svc.CreateWithdrawal(ctx, domain.CreateWithdrawalRequest{Owner: "alice", Amount: dec(t, "1"), DestinationAddress: "GABC"}); err != nil {
			t.Fatalf("request %d should pass the limiter: %v", i+1, err)
		}
	}
	_, err := svc.CreateWithdrawal(ctx, domain.CreateWithdrawalRequest{Owner: "alice", Amount: dec(t, "1"), DestinationAddress: "GABC"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on third request, got %v", err)
	}
}
