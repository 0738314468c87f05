/**
 * @description
 * This package provides a client for the Pi ledger network gateway, used by
 * the payout settlement path to broadcast a funds transfer signed with the
 * server-held key. The transfer payload is signed with the configured ed25519
 * seed and submitted in one HTTP call; the gateway answers with the on-chain
 * transaction id.
 *
 * The error taxonomy mirrors pkg/piclient: *APIError for a gateway rejection,
 * ErrUnavailable for transport failures/timeouts, ErrMalformedResponse for an
 * undecodable 2xx body. Ambiguous outcomes are failures; the caller never
 * assumes a broadcast happened without a parsed txid.
 *
 * @dependencies
 * - bytes, context, crypto/ed25519, encoding/hex, encoding/json, fmt, io,
 *   net/http, time: Standard Go libraries.
 * - github.com/shopspring/decimal: Transfer amounts.
 * - pkg/piclient: Shared error types for external-call failures.
 */
package pinet

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chototpi/wallet-service/pkg/piclient"
)

// Client submits signed transfer transactions to the network gateway.
type Client struct {
	BaseURL       string
	SourceAddress string
	signingKey    ed25519.PrivateKey
	HTTPClient    *http.Client
}

// NewClient builds a gateway client from the hex-encoded ed25519 seed of the
// server wallet.
func NewClient(baseURL, sourceAddress, seedHex string, timeout time.Duration) (*Client, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode wallet seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("wallet seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:       baseURL,
		SourceAddress: sourceAddress,
		signingKey:    ed25519.NewKeyFromSeed(seed),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// transferPayload is the canonical body that gets signed and submitted.
type transferPayload struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
	Memo        string `json:"memo"`
	CreatedAt   string `json:"created_at"`
}

type transferRequest struct {
	Transaction transferPayload `json:"transaction"`
	Signature   string          `json:"signature"`
}

type transferResponse struct {
	TxID string `json:"txid"`
}

// SubmitTransfer signs and broadcasts a transfer of amount to the destination
// address, returning the on-chain transaction id.
func (c *Client) SubmitTransfer(ctx context.Context, destination string, amount decimal.Decimal, memo string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("network client is not configured")
	}
	payload := transferPayload{
		Source:      c.SourceAddress,
		Destination: destination,
		Amount:      amount.String(),
		Memo:        memo,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}

	canonical, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal transfer payload: %w", err)
	}

	reqBody := transferRequest{
		Transaction: payload,
		Signature:   hex.EncodeToString(ed25519.Sign(c.signingKey, canonical)),
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal transfer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/transactions", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		log.Printf("level=warn component=pinet_client op=submit_transfer msg=\"gateway call failed\" err=%v", err)
		return "", fmt.Errorf("%w: %v", piclient.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading transfer response: %v", piclient.ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=pinet_client op=submit_transfer status=%d msg=\"non-2xx response\"", resp.StatusCode)
		return "", &piclient.APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var result transferResponse
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return "", fmt.Errorf("%w: %v", piclient.ErrMalformedResponse, err)
	}
	if result.TxID == "" {
		return "", fmt.Errorf("%w: gateway response missing txid", piclient.ErrMalformedResponse)
	}

	return result.TxID, nil
}
