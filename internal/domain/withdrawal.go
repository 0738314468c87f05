package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WithdrawalStatus is the payout request state machine. Pending transitions
// out exactly once: to approved when settlement succeeds, to rejected on an
// administrator reject. A failed settlement leaves the request pending with
// LastError recorded so an operator can retry or reject.
type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

// WithdrawalDecision is the administrator resolution for a pending request.
type WithdrawalDecision string

const (
	DecisionApprove WithdrawalDecision = "approve"
	DecisionReject  WithdrawalDecision = "reject"
)

// WithdrawalRequest is one outbound payout attempt. Immutable once resolved
// except for the txid and approval timestamp written by the settlement step.
type WithdrawalRequest struct {
	ID                 uuid.UUID        `json:"id"`
	Owner              string           `json:"owner"`
	Amount             decimal.Decimal  `json:"amount"`
	DestinationAddress string           `json:"destination_address"`
	Status             WithdrawalStatus `json:"status"`
	TxID               *string          `json:"txid,omitempty"`
	LastError          *string          `json:"last_error,omitempty"`
	ApprovedAt         *time.Time       `json:"approved_at,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
}

// CreateWithdrawalRequest is the DTO for a user-initiated payout request.
type CreateWithdrawalRequest struct {
	Owner              string          `json:"owner"`
	Amount             decimal.Decimal `json:"amount"`
	DestinationAddress string          `json:"destination_address"`
}
