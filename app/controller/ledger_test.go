package controller

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/connector"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/repository/memory"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/service"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/settlement"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/types"
	"github.com/vibast-solutions/ms-go-pay-ledger/config"
)

const webhookSecret = "whsec_test"

type controllerConnector struct {
	system connector.System

	mu    sync.Mutex
	calls []connector.Operation
	fail  map[connector.Operation]error
}

func (c *controllerConnector) System() connector.System {
	return c.system
}

func (c *controllerConnector) Submit(_ context.Context, req *connector.Request) (*connector.Ack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req.Operation)
	if err := c.fail[req.Operation]; err != nil {
		return nil, err
	}
	return &connector.Ack{System: c.system, Operation: req.Operation, Reference: fmt.Sprintf("%s-%d", c.system, len(c.calls))}, nil
}

type controllerHarness struct {
	echo  *echo.Echo
	store *memory.Store
	bcol  *controllerConnector
}

func newControllerHarness(t *testing.T) *controllerHarness {
	t.Helper()

	store := memory.NewStore()
	repos := service.Repositories{
		Accounts:     store.Accounts(),
		Invoices:     store.Invoices(),
		Receipts:     store.Receipts(),
		RoutingSlips: store.RoutingSlips(),
		Settlements:  store.Settlements(),
		Events:       store.Events(),
		Reviews:      store.Reviews(),
		Statements:   store.Statements(),
	}
	bcol := &controllerConnector{system: connector.SystemBCOL}
	registry := connector.NewRegistry(
		&controllerConnector{system: connector.SystemCFS},
		bcol,
		&controllerConnector{system: connector.SystemPayBC},
		&controllerConnector{system: connector.SystemEJV},
	)
	ledgerCfg := config.LedgerConfig{ReconcileConcurrency: 2, PADConfirmationPeriod: 72 * time.Hour}

	invoices := service.NewInvoiceService(store, repos, registry, ledgerCfg)
	accounts := service.NewAccountService(store, repos, registry, ledgerCfg)
	reconciler := service.NewReconciler(store, repos, invoices, ledgerCfg, config.PayBCConfig{WebhookSecret: webhookSecret})
	ctrl := NewLedgerController(invoices, accounts, reconciler)

	e := echo.New()
	e.GET("/health", ctrl.Health)
	e.POST("/accounts", ctrl.CreateAccount)
	e.GET("/accounts/:id", ctrl.GetAccount)
	e.POST("/invoices", ctrl.CreateInvoice)
	e.GET("/invoices", ctrl.ListInvoices)
	e.GET("/invoices/:id", ctrl.GetInvoice)
	e.POST("/invoices/:id/transitions", ctrl.TransitionInvoice(""))
	e.POST("/invoices/:id/void", ctrl.TransitionInvoice(entity.TriggerVoid))
	e.POST("/invoices/:id/partial-cancel", ctrl.PartialCancel)
	e.POST("/receipts", ctrl.CreateReceipt)
	e.GET("/receipts/:id", ctrl.GetReceipt)
	e.POST("/receipts/:id/apply", ctrl.ApplyReceipt)
	e.POST("/receipts/:id/unapply", ctrl.UnapplyReceipt)
	e.POST("/routing-slips", ctrl.CreateRoutingSlip)
	e.GET("/routing-slips/:number", ctrl.GetRoutingSlip)
	e.POST("/routing-slips/:number/status", ctrl.ChangeRoutingSlipStatus)
	e.POST("/routing-slips/:number/link", ctrl.LinkRoutingSlip)
	e.POST("/webhooks/paybc", ctrl.HandlePayBCNotification)

	return &controllerHarness{echo: e, store: store, bcol: bcol}
}

func (h *controllerHarness) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body == "" {
		reader = bytes.NewBuffer(nil)
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func (h *controllerHarness) createAccount(t *testing.T, body string) *types.Account {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/accounts", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating account, got %d: %s", rec.Code, rec.Body.String())
	}
	return decode[types.AccountEnvelopeResponse](t, rec).Account
}

func TestHealth(t *testing.T) {
	h := newControllerHarness(t)
	rec := h.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if decode[types.HealthResponse](t, rec).Status != "ok" {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestCreateDrawdownInvoiceIsPaidAndIdempotent(t *testing.T) {
	h := newControllerHarness(t)
	account := h.createAccount(t, `{"name":"Acme","payment_method":"DRAWDOWN","billable":true,"bcol_account_number":"B-100"}`)

	body := fmt.Sprintf(`{"account_id":%d,"line_items":[{"description":"Annual report","filing_fees_cents":3000,"quantity":1,"service_fees_cents":150}]}`, account.Id)
	headers := map[string]string{echo.HeaderXRequestID: "req-1"}

	rec := h.do(t, http.MethodPost, "/invoices", body, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	first := decode[types.InvoiceEnvelopeResponse](t, rec).Invoice
	if first.Status != "PAID" || first.PaidCents != 3150 || first.TotalCents != 3150 {
		t.Fatalf("unexpected invoice: %+v", first)
	}

	rec = h.do(t, http.MethodPost, "/invoices", body, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 on replay, got %d", rec.Code)
	}
	second := decode[types.InvoiceEnvelopeResponse](t, rec).Invoice
	if second.Id != first.Id {
		t.Fatalf("expected replay to return invoice %d, got %d", first.Id, second.Id)
	}
	if len(h.bcol.calls) != 1 {
		t.Fatalf("expected exactly one BCOL charge, got %v", h.bcol.calls)
	}
}

func TestCreateInvoiceValidationAndNotFound(t *testing.T) {
	h := newControllerHarness(t)

	rec := h.do(t, http.MethodPost, "/invoices", `{"account_id":1,"line_items":[]}`, map[string]string{echo.HeaderXRequestID: "r"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = h.do(t, http.MethodPost, "/invoices", `{"request_id":"r","account_id":99,"line_items":[{"description":"x","filing_fees_cents":1}]}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown account, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = h.do(t, http.MethodGet, "/invoices/404", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = h.do(t, http.MethodGet, "/invoices/abc", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCashInvoiceDrawsRoutingSlipAndRejectsOverdraw(t *testing.T) {
	h := newControllerHarness(t)
	account := h.createAccount(t, `{"name":"Counter","payment_method":"CASH"}`)

	rec := h.do(t, http.MethodPost, "/routing-slips", `{"number":"123456789","payments":[{"receipt_number":"R-1","amount_cents":5000}]}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	body := fmt.Sprintf(`{"request_id":"cash-1","account_id":%d,"payment_method":"CASH","routing_slip":"123456789","line_items":[{"description":"Search","filing_fees_cents":4000}]}`, account.Id)
	rec = h.do(t, http.MethodPost, "/invoices", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[types.InvoiceEnvelopeResponse](t, rec).Invoice; got.Status != "PAID" {
		t.Fatalf("expected PAID cash invoice, got %+v", got)
	}

	rec = h.do(t, http.MethodGet, "/routing-slips/123456789", "", nil)
	slip := decode[types.RoutingSlipEnvelopeResponse](t, rec).RoutingSlip
	if slip.RemainingCents != 1000 {
		t.Fatalf("expected 1000 remaining, got %+v", slip)
	}

	body = fmt.Sprintf(`{"request_id":"cash-2","account_id":%d,"payment_method":"CASH","routing_slip":"123456789","line_items":[{"description":"Search","filing_fees_cents":4000}]}`, account.Id)
	rec = h.do(t, http.MethodPost, "/invoices", body, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for insufficient funds, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = h.do(t, http.MethodGet, "/routing-slips/123456789", "", nil)
	if got := decode[types.RoutingSlipEnvelopeResponse](t, rec).RoutingSlip; got.RemainingCents != 1000 {
		t.Fatalf("expected slip untouched after rejected draw, got %+v", got)
	}
}

func TestTransitionRejectsInvalidTriggerWithConflict(t *testing.T) {
	h := newControllerHarness(t)
	account := h.createAccount(t, `{"name":"Acme","payment_method":"DRAWDOWN","bcol_account_number":"B-1"}`)
	body := fmt.Sprintf(`{"request_id":"r-1","account_id":%d,"line_items":[{"description":"x","filing_fees_cents":500}]}`, account.Id)
	invoice := decode[types.InvoiceEnvelopeResponse](t, h.do(t, http.MethodPost, "/invoices", body, nil)).Invoice

	rec := h.do(t, http.MethodPost, "/invoices/"+strconv.FormatUint(invoice.Id, 10)+"/transitions", `{"trigger":"approve"}`, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = h.do(t, http.MethodPost, "/invoices/"+strconv.FormatUint(invoice.Id, 10)+"/transitions", `{"trigger":"explode"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestVoidRouteCancelsCCInvoice(t *testing.T) {
	h := newControllerHarness(t)
	account := h.createAccount(t, `{"name":"Web","payment_method":"CC"}`)
	body := fmt.Sprintf(`{"request_id":"cc-1","account_id":%d,"line_items":[{"description":"x","filing_fees_cents":2500}]}`, account.Id)
	invoice := decode[types.InvoiceEnvelopeResponse](t, h.do(t, http.MethodPost, "/invoices", body, nil)).Invoice
	if invoice.Status != "CREATED" {
		t.Fatalf("expected CREATED, got %s", invoice.Status)
	}

	rec := h.do(t, http.MethodPost, "/invoices/"+strconv.FormatUint(invoice.Id, 10)+"/void", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[types.InvoiceEnvelopeResponse](t, rec).Invoice; got.Status != "CANCELLED" || got.TotalCents != 0 {
		t.Fatalf("unexpected voided invoice: %+v", got)
	}
}

func TestPayBCWebhookSettlesInvoiceAndDedupes(t *testing.T) {
	h := newControllerHarness(t)
	account := h.createAccount(t, `{"name":"Web","payment_method":"CC"}`)
	body := fmt.Sprintf(`{"request_id":"cc-2","account_id":%d,"line_items":[{"description":"x","filing_fees_cents":1000}]}`, account.Id)
	invoice := decode[types.InvoiceEnvelopeResponse](t, h.do(t, http.MethodPost, "/invoices", body, nil)).Invoice

	payload := fmt.Sprintf(`{"id":"evt_1","type":"payment.completed","data":{"invoice_number":%q,"transaction_id":"txn-1","amount":"10.00"}}`, invoice.Reference)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	signature := fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(settlement.Sign([]byte(payload), ts, webhookSecret)))

	rec := h.do(t, http.MethodPost, "/webhooks/paybc", payload, map[string]string{types.SignatureHeader: signature})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if outcome := decode[types.NotificationResponse](t, rec).Outcome; outcome != service.OutcomeProcessed {
		t.Fatalf("expected processed, got %q", outcome)
	}

	rec = h.do(t, http.MethodPost, "/webhooks/paybc", payload, map[string]string{types.SignatureHeader: signature})
	if outcome := decode[types.NotificationResponse](t, rec).Outcome; outcome != service.OutcomeDuplicate {
		t.Fatalf("expected duplicate on replay, got %q", outcome)
	}

	rec = h.do(t, http.MethodGet, "/invoices/"+strconv.FormatUint(invoice.Id, 10), "", nil)
	if got := decode[types.InvoiceEnvelopeResponse](t, rec).Invoice; got.Status != "PAID" || got.PaidCents != 1000 {
		t.Fatalf("expected paid invoice, got %+v", got)
	}

	rec = h.do(t, http.MethodPost, "/webhooks/paybc", payload, map[string]string{types.SignatureHeader: "t=1,v1=00"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", rec.Code)
	}
}

func TestReceiptApplyAndUnapply(t *testing.T) {
	h := newControllerHarness(t)
	account := h.createAccount(t, `{"name":"Web","payment_method":"CC"}`)
	body := fmt.Sprintf(`{"request_id":"cc-3","account_id":%d,"line_items":[{"description":"x","filing_fees_cents":1000}]}`, account.Id)
	invoice := decode[types.InvoiceEnvelopeResponse](t, h.do(t, http.MethodPost, "/invoices", body, nil)).Invoice

	rec := h.do(t, http.MethodPost, "/receipts", `{"receipt_number":"RCPT-1","amount_cents":600}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	receipt := decode[types.ReceiptEnvelopeResponse](t, rec).Receipt

	rec = h.do(t, http.MethodPost, "/receipts", `{"receipt_number":"RCPT-1","amount_cents":600}`, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate receipt, got %d", rec.Code)
	}

	path := "/receipts/" + strconv.FormatUint(receipt.Id, 10)
	rec = h.do(t, http.MethodPost, path+"/apply", fmt.Sprintf(`{"invoice_id":%d}`, invoice.Id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	applied := decode[types.ReceiptEnvelopeResponse](t, rec)
	if applied.Receipt.AppliedCents != 600 || applied.Invoice.PaidCents != 600 || applied.Invoice.Status != "CREATED" {
		t.Fatalf("unexpected apply result: %+v %+v", applied.Receipt, applied.Invoice)
	}

	rec = h.do(t, http.MethodPost, path+"/unapply", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[types.ReceiptEnvelopeResponse](t, rec).Receipt; got.AppliedCents != 0 || got.Status != "UNAPPLIED" {
		t.Fatalf("unexpected unapplied receipt: %+v", got)
	}
}
