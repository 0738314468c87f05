/**
 * @description
 * This package provides a client for the Pi payment platform API. It
 * encapsulates the authenticated HTTP calls the wallet-service makes during
 * the two-phase payment confirmation handshake (approve, then complete) and
 * for creating outbound app-to-user payments, together with response parsing
 * and the error taxonomy the core relies on.
 *
 * Failure classes:
 * - *APIError: the platform answered with a non-2xx status (rejection); the
 *   raw error body is carried for the caller.
 * - ErrUnavailable: transport-level failure or timeout; no response was
 *   obtained, so callers must fail closed and may retry.
 * - ErrMalformedResponse: a 2xx answer whose body could not be decoded.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, net/http, time: Standard Go libraries.
 * - github.com/shopspring/decimal: Payment amounts.
 */
package piclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrUnavailable       = errors.New("payment platform unavailable")
	ErrMalformedResponse = errors.New("malformed payment platform response")
)

// APIError represents a non-2xx response from the platform.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payment platform rejected request: status %d: %s", e.StatusCode, e.Body)
}

// Client is a client for the Pi platform API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new platform API client with a bounded request timeout.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// PaymentStatus mirrors the status flags on a platform payment object.
type PaymentStatus struct {
	DeveloperApproved   bool `json:"developer_approved"`
	TransactionVerified bool `json:"transaction_verified"`
	DeveloperCompleted  bool `json:"developer_completed"`
	Cancelled           bool `json:"cancelled"`
}

// PaymentTransaction is the on-chain transaction attached to a payment once
// it has been submitted.
type PaymentTransaction struct {
	TxID     string `json:"txid"`
	Verified bool   `json:"verified"`
}

// Payment is the platform's payment object. UserUID and Amount from this
// object are the source of truth for wallet crediting.
type Payment struct {
	Identifier  string              `json:"identifier"`
	UserUID     string              `json:"user_uid"`
	Amount      decimal.Decimal     `json:"amount"`
	Memo        string              `json:"memo"`
	ToAddress   string              `json:"to_address"`
	Status      PaymentStatus       `json:"status"`
	Transaction *PaymentTransaction `json:"transaction,omitempty"`
}

// CreatePaymentRequest is the payload for an outbound app-to-user payment.
type CreatePaymentRequest struct {
	Amount   decimal.Decimal   `json:"amount"`
	ToUID    string            `json:"uid,omitempty"`
	Memo     string            `json:"memo"`
	Metadata map[string]string `json:"metadata"`
}

// ApprovePayment calls the platform's approve endpoint for an inbound
// payment. The platform deduplicates by payment id, so repeating the call
// after a lost response is safe.
func (c *Client) ApprovePayment(ctx context.Context, paymentID string) (*Payment, error) {
	url := fmt.Sprintf("%s/payments/%s/approve", c.BaseURL, paymentID)
	return c.doPayment(ctx, "approve", url, struct{}{})
}

// CompletePayment calls the platform's complete endpoint with the on-chain
// transaction id. Approve must have succeeded first; the platform enforces
// the sequencing.
func (c *Client) CompletePayment(ctx context.Context, paymentID, txid string) (*Payment, error) {
	url := fmt.Sprintf("%s/payments/%s/complete", c.BaseURL, paymentID)
	body := struct {
		TxID string `json:"txid"`
	}{TxID: txid}
	return c.doPayment(ctx, "complete", url, body)
}

// CreatePayment creates an outbound payment record on the platform and
// returns it, including the recipient address the transfer must be sent to.
func (c *Client) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	url := c.BaseURL + "/payments"
	body := struct {
		Payment CreatePaymentRequest `json:"payment"`
	}{Payment: req}
	return c.doPayment(ctx, "create", url, body)
}

// doPayment executes one platform call and parses the returned payment object.
func (c *Client) doPayment(ctx context.Context, op, url string, payload interface{}) (*Payment, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Key "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		log.Printf("level=warn component=pi_client op=%s msg=\"platform call failed\" err=%v", op, err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s response: %v", ErrUnavailable, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=pi_client op=%s status=%d msg=\"non-2xx response\"", op, resp.StatusCode)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var payment Payment
	if err := json.Unmarshal(bodyBytes, &payment); err != nil {
		log.Printf("level=warn component=pi_client op=%s msg=\"undecodable 2xx body\" err=%v", op, err)
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return &payment, nil
}
