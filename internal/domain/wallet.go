/**
 * @description
 * This file defines the core domain models for the wallet-service: the wallet
 * ledger, its append-only transaction history, and the DTOs the API layer
 * accepts for deposits and wallet reads.
 *
 * @notes
 * - Amounts are `decimal.Decimal` because Pi supports fractional amounts
 *   (1e-7 precision); int64 smallest-unit arithmetic would force a lossy
 *   convention for on-chain values.
 */

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntryKind discriminates the two kinds of ledger entries.
type LedgerEntryKind string

const (
	EntryDeposit LedgerEntryKind = "deposit"
	EntryDebit   LedgerEntryKind = "debit"
)

// LedgerEntry is one immutable line of a wallet's transaction history.
// ExternalRef ties the entry back to its origin: the platform payment id for
// deposits, the on-chain txid for debits. (owner, external_ref) is unique,
// which is what makes repeated delivery of the same completed payment a no-op.
type LedgerEntry struct {
	Kind        LedgerEntryKind `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	ExternalRef string          `json:"external_ref"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Wallet is the ledger record for one account holder. It is created implicitly
// on first deposit and never deleted. Balance always equals the sum of deposit
// entries minus the sum of debit entries and is never negative.
type Wallet struct {
	Owner        string          `json:"owner"`
	Balance      decimal.Decimal `json:"balance"`
	Transactions []LedgerEntry   `json:"transactions"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// DepositNotification is the DTO the HTTP collaborator hands over on the
// complete-phase callback. Owner and Amount are client-asserted and only used
// as a fallback when the platform's completion response omits them.
type DepositNotification struct {
	PaymentID string          `json:"payment_id"`
	TxID      string          `json:"txid"`
	Owner     string          `json:"owner"`
	Amount    decimal.Decimal `json:"amount"`
}
