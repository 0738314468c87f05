/**
 * @description
 * This file implements the `Repository` interface using PostgreSQL via the
 * pgx driver. Balance mutations run inside a single database transaction with
 * a `SELECT ... FOR UPDATE` on the wallet row, which is the per-owner
 * exclusive section: the duplicate-ref check, the history append and the
 * balance update commit or roll back together. Status transitions on inbound
 * payments and withdrawal requests are conditional updates keyed on the
 * current state, so a lost race surfaces as zero affected rows rather than a
 * double transition.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5, pgconn, pgxpool: PostgreSQL driver and pool.
 * - github.com/google/uuid, github.com/shopspring/decimal.
 * - internal/domain: The service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/chototpi/wallet-service/internal/domain"
)

const uniqueViolationCode = "23505"

// PostgresRepository is the PostgreSQL-backed Repository implementation.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository backed by the given pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

func (r *PostgresRepository) loadWallet(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, owner string) (*domain.Wallet, error) {
	w := &domain.Wallet{Owner: owner}
	err := q.QueryRow(ctx,
		`SELECT balance, updated_at FROM wallets WHERE owner = $1`,
		owner,
	).Scan(&w.Balance, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}

	rows, err := q.Query(ctx,
		`SELECT kind, amount, external_ref, created_at
		 FROM wallet_entries WHERE owner = $1 ORDER BY id`,
		owner,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.Kind, &e.Amount, &e.ExternalRef, &e.CreatedAt); err != nil {
			return nil, err
		}
		w.Transactions = append(w.Transactions, e)
	}
	return w, rows.Err()
}

// GetWallet fetches a wallet and its full transaction history.
func (r *PostgresRepository) GetWallet(ctx context.Context, owner string) (*domain.Wallet, error) {
	return r.loadWallet(ctx, r.db, owner)
}

// ApplyDeposit upserts the wallet row, takes the row lock, appends a deposit
// entry and credits the balance in one transaction. The unique index on
// (owner, external_ref) turns duplicate delivery into ErrAlreadyApplied.
func (r *PostgresRepository) ApplyDeposit(ctx context.Context, owner string, amount decimal.Decimal, externalRef string) (*domain.Wallet, error) {
	if amount.Cmp(decimal.Zero) <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO wallets (owner) VALUES ($1) ON CONFLICT (owner) DO NOTHING`,
		owner,
	); err != nil {
		return nil, err
	}

	var balance decimal.Decimal
	if err := tx.QueryRow(ctx,
		`SELECT balance FROM wallets WHERE owner = $1 FOR UPDATE`, owner,
	).Scan(&balance); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO wallet_entries (owner, kind, amount, external_ref)
		 VALUES ($1, $2, $3, $4)`,
		owner, domain.EntryDeposit, amount, externalRef,
	); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyApplied
		}
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE wallets SET balance = balance + $1, updated_at = now() WHERE owner = $2`,
		amount, owner,
	); err != nil {
		return nil, err
	}

	w, err := r.loadWallet(ctx, tx, owner)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// DebitWallet decrements the balance only when the locked row still covers
// the amount, appending the debit entry in the same transaction.
func (r *PostgresRepository) DebitWallet(ctx context.Context, owner string, amount decimal.Decimal, externalRef string) (*domain.Wallet, error) {
	if amount.Cmp(decimal.Zero) <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var balance decimal.Decimal
	err = tx.QueryRow(ctx,
		`SELECT balance FROM wallets WHERE owner = $1 FOR UPDATE`, owner,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	if balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientBalance
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO wallet_entries (owner, kind, amount, external_ref)
		 VALUES ($1, $2, $3, $4)`,
		owner, domain.EntryDebit, amount, externalRef,
	); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyApplied
		}
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE wallets SET balance = balance - $1, updated_at = now() WHERE owner = $2`,
		amount, owner,
	); err != nil {
		return nil, err
	}

	w, err := r.loadWallet(ctx, tx, owner)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

func (r *PostgresRepository) scanPayment(row pgx.Row) (*domain.InboundPayment, error) {
	var p domain.InboundPayment
	err := row.Scan(&p.PaymentID, &p.Owner, &p.Amount, &p.State, &p.TxID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

// EnsureInboundPayment inserts a `created` record if none exists and returns
// the current record either way.
func (r *PostgresRepository) EnsureInboundPayment(ctx context.Context, paymentID string) (*domain.InboundPayment, error) {
	if _, err := r.db.Exec(ctx,
		`INSERT INTO inbound_payments (payment_id) VALUES ($1) ON CONFLICT (payment_id) DO NOTHING`,
		paymentID,
	); err != nil {
		return nil, err
	}
	return r.GetInboundPayment(ctx, paymentID)
}

func (r *PostgresRepository) GetInboundPayment(ctx context.Context, paymentID string) (*domain.InboundPayment, error) {
	return r.scanPayment(r.db.QueryRow(ctx,
		`SELECT payment_id, owner, amount, state, txid, created_at, updated_at
		 FROM inbound_payments WHERE payment_id = $1`,
		paymentID,
	))
}

// MarkPaymentApproved moves created -> approved; calling it again once the
// payment is approved or completed is a no-op.
func (r *PostgresRepository) MarkPaymentApproved(ctx context.Context, paymentID string) error {
	res, err := r.db.Exec(ctx,
		`UPDATE inbound_payments SET state = $1, updated_at = now()
		 WHERE payment_id = $2 AND state = $3`,
		domain.PaymentApproved, paymentID, domain.PaymentCreated,
	)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		if _, err := r.GetInboundPayment(ctx, paymentID); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepository) MarkPaymentFailed(ctx context.Context, paymentID string) error {
	res, err := r.db.Exec(ctx,
		`UPDATE inbound_payments SET state = $1, updated_at = now()
		 WHERE payment_id = $2 AND state <> $3`,
		domain.PaymentFailed, paymentID, domain.PaymentCompleted,
	)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		if _, err := r.GetInboundPayment(ctx, paymentID); err != nil {
			return err
		}
	}
	return nil
}

// CompleteInboundPayment moves created|approved -> completed exactly once.
// A replayed completion reports alreadyCompleted=true with no row change.
func (r *PostgresRepository) CompleteInboundPayment(ctx context.Context, paymentID, owner string, amount decimal.Decimal, txid string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var state domain.InboundPaymentState
	err = tx.QueryRow(ctx,
		`SELECT state FROM inbound_payments WHERE payment_id = $1 FOR UPDATE`,
		paymentID,
	).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrPaymentNotFound
		}
		return false, err
	}

	switch state {
	case domain.PaymentCompleted:
		return true, nil
	case domain.PaymentFailed:
		return false, ErrPaymentFailed
	}

	if _, err := tx.Exec(ctx,
		`UPDATE inbound_payments
		 SET state = $1, owner = $2, amount = $3, txid = $4, updated_at = now()
		 WHERE payment_id = $5`,
		domain.PaymentCompleted, owner, amount, txid, paymentID,
	); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return false, nil
}

func (r *PostgresRepository) CreateWithdrawal(ctx context.Context, req *domain.WithdrawalRequest) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO withdrawal_requests (id, owner, amount, destination_address, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		req.ID, req.Owner, req.Amount, req.DestinationAddress, req.Status, req.CreatedAt,
	)
	return err
}

func (r *PostgresRepository) scanWithdrawal(row pgx.Row) (*domain.WithdrawalRequest, error) {
	var w domain.WithdrawalRequest
	err := row.Scan(&w.ID, &w.Owner, &w.Amount, &w.DestinationAddress, &w.Status,
		&w.TxID, &w.LastError, &w.ApprovedAt, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (r *PostgresRepository) GetWithdrawal(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	return r.scanWithdrawal(r.db.QueryRow(ctx,
		`SELECT id, owner, amount, destination_address, status, txid, last_error, approved_at, created_at
		 FROM withdrawal_requests WHERE id = $1`,
		id,
	))
}

// ListPendingWithdrawals serves the administrator listing, backed by the
// partial index on status = 'pending'.
func (r *PostgresRepository) ListPendingWithdrawals(ctx context.Context) ([]domain.WithdrawalRequest, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, owner, amount, destination_address, status, txid, last_error, approved_at, created_at
		 FROM withdrawal_requests WHERE status = $1 ORDER BY created_at`,
		domain.WithdrawalPending,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.WithdrawalRequest
	for rows.Next() {
		var w domain.WithdrawalRequest
		if err := rows.Scan(&w.ID, &w.Owner, &w.Amount, &w.DestinationAddress, &w.Status,
			&w.TxID, &w.LastError, &w.ApprovedAt, &w.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

// resolveWithdrawal executes a conditional pending -> terminal transition and
// maps a zero-row update to the right sentinel.
func (r *PostgresRepository) resolveWithdrawal(ctx context.Context, id uuid.UUID, query string, args ...any) error {
	res, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		if _, err := r.GetWithdrawal(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyResolved
	}
	return nil
}

func (r *PostgresRepository) MarkWithdrawalApproved(ctx context.Context, id uuid.UUID, txid string, approvedAt time.Time) error {
	return r.resolveWithdrawal(ctx, id,
		`UPDATE withdrawal_requests
		 SET status = $1, txid = $2, approved_at = $3, last_error = NULL
		 WHERE id = $4 AND status = $5`,
		domain.WithdrawalApproved, txid, approvedAt, id, domain.WithdrawalPending,
	)
}

func (r *PostgresRepository) MarkWithdrawalRejected(ctx context.Context, id uuid.UUID) error {
	return r.resolveWithdrawal(ctx, id,
		`UPDATE withdrawal_requests SET status = $1
		 WHERE id = $2 AND status = $3`,
		domain.WithdrawalRejected, id, domain.WithdrawalPending,
	)
}

func (r *PostgresRepository) RecordWithdrawalError(ctx context.Context, id uuid.UUID, lastError string) error {
	return r.resolveWithdrawal(ctx, id,
		`UPDATE withdrawal_requests SET last_error = $1
		 WHERE id = $2 AND status = $3`,
		lastError, id, domain.WithdrawalPending,
	)
}

// Compile-time check: PostgresRepository implements Repository.
var _ Repository = (*PostgresRepository)(nil)
