package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InboundPaymentState is the local state machine for a platform payment.
// Transitions: created -> approved -> completed, or failed from any
// non-terminal state. Completed and failed are terminal.
type InboundPaymentState string

const (
	PaymentCreated   InboundPaymentState = "created"
	PaymentApproved  InboundPaymentState = "approved"
	PaymentCompleted InboundPaymentState = "completed"
	PaymentFailed    InboundPaymentState = "failed"
)

// InboundPayment tracks one platform payment through the approve/complete
// handshake. The completed transition happens at most once per payment id;
// the wallet is credited exactly once per payment reaching completed.
type InboundPayment struct {
	PaymentID string              `json:"payment_id"`
	Owner     string              `json:"owner"`
	Amount    decimal.Decimal     `json:"amount"`
	State     InboundPaymentState `json:"state"`
	TxID      *string             `json:"txid,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}
