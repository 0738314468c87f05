package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepositCreditedEvent is published after a completed platform payment has
// been credited to a wallet.
type DepositCreditedEvent struct {
	Owner      string          `json:"owner"`
	Amount     decimal.Decimal `json:"amount"`
	PaymentID  string          `json:"payment_id"`
	TxID       string          `json:"txid"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// WithdrawalSettledEvent is published after a withdrawal has been submitted
// to the network and the wallet debited.
type WithdrawalSettledEvent struct {
	RequestID  string          `json:"request_id"`
	Owner      string          `json:"owner"`
	Amount     decimal.Decimal `json:"amount"`
	TxID       string          `json:"txid"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// WithdrawalFailedEvent is published when a settlement attempt fails and the
// request remains pending for operator action.
type WithdrawalFailedEvent struct {
	RequestID  string    `json:"request_id"`
	Owner      string    `json:"owner"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}
