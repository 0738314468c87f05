package piclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestApprovePayment_ParsesPaymentObject(t *testing.T) {
	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"identifier": "pay1",
			"user_uid":   "alice",
			"amount":     "12.5",
			"status":     map[string]bool{"developer_approved": true},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-key", 5*time.Second)
	payment, err := client.ApprovePayment(context.Background(), "pay1")
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	if gotPath != "/payments/pay1/approve" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Key secret-key" {
		t.Fatalf("unexpected authorization header %q", gotAuth)
	}
	if payment.Identifier != "pay1" || payment.UserUID != "alice" {
		t.Fatalf("unexpected payment: %+v", payment)
	}
	if !payment.Amount.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("unexpected amount %s", payment.Amount)
	}
	if !payment.Status.DeveloperApproved {
		t.Fatalf("expected developer_approved status flag")
	}
}

func TestCompletePayment_SendsTxid(t *testing.T) {
	var gotBody struct {
		TxID string `json:"txid"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments/pay1/complete" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"identifier":  "pay1",
			"transaction": map[string]interface{}{"txid": "chainX", "verified": true},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-key", 5*time.Second)
	payment, err := client.CompletePayment(context.Background(), "pay1", "chainX")
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if gotBody.TxID != "chainX" {
		t.Fatalf("expected txid in request body, got %q", gotBody.TxID)
	}
	if payment.Transaction == nil || payment.Transaction.TxID != "chainX" {
		t.Fatalf("unexpected transaction: %+v", payment.Transaction)
	}
}

func TestCreatePayment_WrapsPayloadInPaymentEnvelope(t *testing.T) {
	var gotBody struct {
		Payment CreatePaymentRequest `json:"payment"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"identifier": "out-1",
			"to_address": "GPLATFORM",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-key", 5*time.Second)
	payment, err := client.CreatePayment(context.Background(), CreatePaymentRequest{
		Amount: decimal.RequireFromString("30"),
		ToUID:  "alice",
		Memo:   "withdrawal",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if gotBody.Payment.ToUID != "alice" || !gotBody.Payment.Amount.Equal(decimal.RequireFromString("30")) {
		t.Fatalf("unexpected request payload: %+v", gotBody.Payment)
	}
	if payment.Identifier != "out-1" || payment.ToAddress != "GPLATFORM" {
		t.Fatalf("unexpected payment: %+v", payment)
	}
}

func TestDoPayment_Non2xxIsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"payment not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-key", 5*time.Second)
	_, err := client.ApprovePayment(context.Background(), "missing")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status code %d", apiErr.StatusCode)
	}
}

func TestDoPayment_Malformed2xxBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-key", 5*time.Second)
	if _, err := client.ApprovePayment(context.Background(), "pay1"); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestDoPayment_TransportFailureIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	client := NewClient(server.URL, "secret-key", time.Second)
	if _, err := client.ApprovePayment(context.Background(), "pay1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
