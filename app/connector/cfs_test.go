package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestCFSCreateInvoicePostsLinesAndReturnsInvoiceNumber(t *testing.T) {
	var tokenCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/oauth/token":
			atomic.AddInt32(&tokenCalls, 1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
		case r.URL.Path == "/cfs/parties/P1/accs/A1/sites/S1/invs/":
			if got := r.Header.Get("Authorization"); got != "Bearer tok" {
				t.Errorf("expected bearer token, got %q", got)
			}
			if got := r.Header.Get("X-Correlation-ID"); got != "corr-9" {
				t.Errorf("expected correlation header, got %q", got)
			}
			var body struct {
				TransactionNumber string `json:"transaction_number"`
				Lines             []struct {
					UnitPrice string `json:"unit_price"`
				} `json:"lines"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode body: %v", err)
			}
			if body.TransactionNumber != "REG-00001" || len(body.Lines) != 1 || body.Lines[0].UnitPrice != "100.50" {
				t.Errorf("unexpected body: %+v", body)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"invoice_number":"REG-00001"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := NewCFSConnector(CFSConfig{
		BaseURL:     server.URL,
		OAuth:       OAuthConfig{ClientID: "id", ClientSecret: "secret"},
		HTTPTimeout: 2 * time.Second,
	})

	ack, err := c.Submit(context.Background(), &Request{
		Operation:     OpCreateInvoice,
		CorrelationID: "corr-9",
		Reference:     "REG-00001",
		PartyNumber:   "P1",
		AccountNumber: "A1",
		SiteNumber:    "S1",
		Lines:         []Line{{Description: "filing", AmountCents: 10050, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ack.Reference != "REG-00001" {
		t.Fatalf("unexpected reference: %s", ack.Reference)
	}
	if atomic.LoadInt32(&tokenCalls) != 1 {
		t.Fatalf("expected one token request, got %d", tokenCalls)
	}
}

func TestCFSClassifiesServerErrorsAsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewCFSConnector(CFSConfig{BaseURL: server.URL})
	_, err := c.Submit(context.Background(), &Request{Operation: OpApplyReceipt, ReceiptNumber: "R1", Reference: "INV1"})
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestCFSClassifiesValidationErrorsAsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/rcpts/R1/unapply/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"receipt not applied"}`))
	}))
	defer server.Close()

	c := NewCFSConnector(CFSConfig{BaseURL: server.URL})
	_, err := c.Submit(context.Background(), &Request{Operation: OpUnapplyReceipt, ReceiptNumber: "R1", Reference: "INV1"})
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestCFSRejectsUnsupportedOperation(t *testing.T) {
	c := NewCFSConnector(CFSConfig{BaseURL: "http://cfs.invalid"})
	_, err := c.Submit(context.Background(), &Request{Operation: OpCharge})
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestFormatAmount(t *testing.T) {
	if got := formatAmount(4000); got != "40.00" {
		t.Fatalf("expected 40.00, got %s", got)
	}
	if got := formatAmount(-5); got != "-0.05" {
		t.Fatalf("expected -0.05, got %s", got)
	}
}
