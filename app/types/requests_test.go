package types

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestNewCreateInvoiceRequestFromContextUsesHeaderRequestID(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/invoices", bytes.NewBufferString(`{"account_id":7,"payment_method":" drawdown ","line_items":[{"description":" Annual report ","filing_fees_cents":3000,"quantity":1}]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderXRequestID, "req-from-header")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	parsed, err := NewCreateInvoiceRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.RequestId != "req-from-header" {
		t.Fatalf("expected header request id, got %q", parsed.RequestId)
	}
	if parsed.PaymentMethod != "DRAWDOWN" {
		t.Fatalf("expected upper-cased method, got %q", parsed.PaymentMethod)
	}
	if parsed.LineItems[0].Description != "Annual report" {
		t.Fatalf("expected trimmed description, got %q", parsed.LineItems[0].Description)
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
}

func TestCreateInvoiceValidate(t *testing.T) {
	req := &CreateInvoiceRequest{}
	if err := req.Validate(); err == nil {
		t.Fatal("expected request_id validation error")
	}

	req = &CreateInvoiceRequest{
		RequestId:     "req-1",
		AccountId:     1,
		PaymentMethod: "CASH",
		LineItems:     []*LineItemRequest{{Description: "Filing", FilingFeesCents: 1000, Quantity: 1}},
	}
	if err := req.Validate(); err == nil {
		t.Fatal("expected routing_slip validation error for cash")
	}

	req.RoutingSlip = "123456789"
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}

	req.LineItems[0].GstCents = -1
	if err := req.Validate(); err == nil {
		t.Fatal("expected negative amount validation error")
	}

	req.LineItems = nil
	if err := req.Validate(); err == nil {
		t.Fatal("expected empty line_items validation error")
	}
}

func TestNewListInvoicesRequestFromContextAndValidate(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("GET", "/invoices?account_id=4&status=paid&payment_method=pad&limit=20&offset=3", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	parsed, err := NewListInvoicesRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !parsed.HasStatus || parsed.Status != "PAID" {
		t.Fatalf("unexpected status parse: %+v", parsed)
	}
	if parsed.AccountId != 4 || parsed.PaymentMethod != "PAD" {
		t.Fatalf("unexpected parse: %+v", parsed)
	}
	if parsed.Limit != 20 || parsed.Offset != 3 {
		t.Fatalf("unexpected paging: %+v", parsed)
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid list request, got %v", err)
	}
}

func TestListInvoicesValidateLimits(t *testing.T) {
	req := &ListInvoicesRequest{}
	if err := req.Validate(); err != nil {
		t.Fatalf("expected default limit to validate, got %v", err)
	}
	if req.Limit != 100 {
		t.Fatalf("expected default limit 100, got %d", req.Limit)
	}

	req = &ListInvoicesRequest{Limit: 501}
	if err := req.Validate(); err == nil {
		t.Fatal("expected limit validation error")
	}

	req = &ListInvoicesRequest{Limit: 10, HasStatus: true, Status: "BOGUS"}
	if err := req.Validate(); err == nil {
		t.Fatal("expected status validation error")
	}
}

func TestNewTransitionInvoiceRequestFromContext(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/invoices/9/transitions", bytes.NewBufferString(`{"trigger":" VOID "}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("9")

	parsed, err := NewTransitionInvoiceRequestFromContext(ctx, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.Id != 9 || parsed.Trigger != "void" {
		t.Fatalf("unexpected parse: %+v", parsed)
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid transition, got %v", err)
	}

	bad := &TransitionInvoiceRequest{Id: 9, Trigger: "explode"}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected trigger validation error")
	}
}

func TestPartialCancelValidateRejectsDuplicates(t *testing.T) {
	req := &PartialCancelRequest{Id: 1, LineItemIds: []uint64{3, 3}}
	if err := req.Validate(); err == nil {
		t.Fatal("expected duplicate validation error")
	}
	req.LineItemIds = []uint64{3, 4}
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
}

func TestCreateRoutingSlipValidate(t *testing.T) {
	req := &CreateRoutingSlipRequest{Number: "123456789"}
	if err := req.Validate(); err == nil {
		t.Fatal("expected payments validation error")
	}
	req.Payments = []*RoutingSlipPaymentRequest{{ReceiptNumber: "R-1", AmountCents: 0}}
	if err := req.Validate(); err == nil {
		t.Fatal("expected amount validation error")
	}
	req.Payments[0].AmountCents = 5000
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
	req.Payments = append(req.Payments, nil)
	if err := req.Validate(); err == nil {
		t.Fatal("expected null payment entry to be rejected")
	}
}

func TestLinkRoutingSlipValidateRejectsSelfLink(t *testing.T) {
	req := &LinkRoutingSlipRequest{Number: "111", ParentNumber: "111"}
	if err := req.Validate(); err == nil {
		t.Fatal("expected self-link validation error")
	}
}

func TestCreateAccountValidate(t *testing.T) {
	req := &CreateAccountRequest{Name: "Acme", PaymentMethod: "DRAWDOWN"}
	if err := req.Validate(); err == nil {
		t.Fatal("expected bcol account validation error")
	}
	req.BcolAccountNumber = "B-1"
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
	req.StatementFrequency = "YEARLY"
	if err := req.Validate(); err == nil {
		t.Fatal("expected frequency validation error")
	}
}

func TestNewPayBCNotificationRequestFromContextKeepsRawBody(t *testing.T) {
	e := echo.New()
	body := `{"invoice_number":"REG0000000001","amount":"10.00"}`
	req := httptest.NewRequest("POST", "/webhooks/paybc", bytes.NewBufferString(body))
	req.Header.Set(SignatureHeader, "abc123")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	parsed, err := NewPayBCNotificationRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if string(parsed.Payload) != body {
		t.Fatalf("expected raw body, got %q", parsed.Payload)
	}
	if parsed.Signature != "abc123" {
		t.Fatalf("unexpected signature %q", parsed.Signature)
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid notification, got %v", err)
	}
}
