package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-pay-ledger/app/connector"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/repository/memory"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/types"
	"github.com/vibast-solutions/ms-go-pay-ledger/config"
)

type fakeConnector struct {
	system connector.System

	mu    sync.Mutex
	calls []connector.Request
	fail  map[connector.Operation]error
}

func newFakeConnector(system connector.System) *fakeConnector {
	return &fakeConnector{system: system, fail: map[connector.Operation]error{}}
}

func (c *fakeConnector) System() connector.System {
	return c.system
}

func (c *fakeConnector) Submit(_ context.Context, req *connector.Request) (*connector.Ack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, *req)
	if err := c.fail[req.Operation]; err != nil {
		return nil, err
	}
	return &connector.Ack{System: c.system, Operation: req.Operation, Reference: fmt.Sprintf("%s-%d", c.system, len(c.calls))}, nil
}

func (c *fakeConnector) failOn(op connector.Operation, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail[op] = err
}

func (c *fakeConnector) ops() []connector.Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]connector.Operation, 0, len(c.calls))
	for _, call := range c.calls {
		out = append(out, call.Operation)
	}
	return out
}

func (c *fakeConnector) lastCall() connector.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[len(c.calls)-1]
}

func (c *fakeConnector) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type ledgerHarness struct {
	store *memory.Store
	repos Repositories
	clock *testClock

	cfs   *fakeConnector
	bcol  *fakeConnector
	paybc *fakeConnector
	ejv   *fakeConnector

	invoices   *InvoiceService
	accounts   *AccountService
	reconciler *Reconciler
}

const harnessWebhookSecret = "whsec_service"

func newLedgerHarness(t *testing.T) *ledgerHarness {
	t.Helper()

	store := memory.NewStore()
	repos := Repositories{
		Accounts:     store.Accounts(),
		Invoices:     store.Invoices(),
		Receipts:     store.Receipts(),
		RoutingSlips: store.RoutingSlips(),
		Settlements:  store.Settlements(),
		Events:       store.Events(),
		Reviews:      store.Reviews(),
		Statements:   store.Statements(),
	}
	h := &ledgerHarness{
		store: store,
		repos: repos,
		// Monday
		clock: &testClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)},
		cfs:   newFakeConnector(connector.SystemCFS),
		bcol:  newFakeConnector(connector.SystemBCOL),
		paybc: newFakeConnector(connector.SystemPayBC),
		ejv:   newFakeConnector(connector.SystemEJV),
	}
	registry := connector.NewRegistry(h.cfs, h.bcol, h.paybc, h.ejv)
	cfg := config.LedgerConfig{
		StaleApprovedAfter:    20 * 24 * time.Hour,
		PADConfirmationPeriod: 72 * time.Hour,
		ReconcileConcurrency:  2,
		ParkedMaxAttempts:     5,
		JobBatchSize:          50,
	}

	h.invoices = NewInvoiceService(store, repos, registry, cfg)
	h.invoices.now = h.clock.Now
	h.accounts = NewAccountService(store, repos, registry, cfg)
	h.accounts.now = h.clock.Now
	h.reconciler = NewReconciler(store, repos, h.invoices, cfg, config.PayBCConfig{WebhookSecret: harnessWebhookSecret})
	h.reconciler.now = h.clock.Now
	return h
}

// seedAccount stores an active account without going through CFS.
func (h *ledgerHarness) seedAccount(t *testing.T, method entity.PaymentMethod) *entity.Account {
	t.Helper()
	now := h.clock.Now()
	account := &entity.Account{
		Name:               "Acme Holdings",
		PaymentMethod:      method,
		Billable:           true,
		CFSStatus:          entity.CFSAccountActive,
		StatementFrequency: entity.StatementMonthly,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	switch method {
	case entity.PaymentMethodBCOL:
		account.BCOLAccountNumber = stringPtr("BCOL-100")
	case entity.PaymentMethodPAD, entity.PaymentMethodEFT, entity.PaymentMethodWire, entity.PaymentMethodOnlineBanking:
		account.CFSPartyNumber = stringPtr("P-1")
		account.CFSAccountNumber = stringPtr("A-1")
		account.CFSSiteNumber = stringPtr("S-1")
	}
	if err := h.repos.Accounts.Create(context.Background(), account); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return account
}

func invoiceRequest(requestID string, accountID uint64, method entity.PaymentMethod, fees ...int64) *types.CreateInvoiceRequest {
	req := &types.CreateInvoiceRequest{
		RequestId:     requestID,
		AccountId:     accountID,
		PaymentMethod: string(method),
	}
	for i, cents := range fees {
		req.LineItems = append(req.LineItems, &types.LineItemRequest{
			Description:     fmt.Sprintf("Filing %d", i+1),
			FilingFeesCents: cents,
			Quantity:        1,
		})
	}
	return req
}

func (h *ledgerHarness) mustCreateInvoice(t *testing.T, req *types.CreateInvoiceRequest) *entity.Invoice {
	t.Helper()
	invoice, err := h.invoices.CreateInvoice(context.Background(), req)
	if err != nil {
		t.Fatalf("create invoice %s: %v", req.RequestId, err)
	}
	return invoice
}

func (h *ledgerHarness) mustGetInvoice(t *testing.T, id uint64) *entity.Invoice {
	t.Helper()
	invoice, err := h.invoices.GetInvoice(context.Background(), id)
	if err != nil {
		t.Fatalf("get invoice %d: %v", id, err)
	}
	return invoice
}

func (h *ledgerHarness) mustGetSlip(t *testing.T, number string) *entity.RoutingSlip {
	t.Helper()
	slip, err := h.invoices.GetRoutingSlip(context.Background(), number)
	if err != nil {
		t.Fatalf("get routing slip %s: %v", number, err)
	}
	return slip
}

func (h *ledgerHarness) mustCreateSlip(t *testing.T, number, receiptNumber string, cents int64) *entity.RoutingSlip {
	t.Helper()
	slip, err := h.invoices.CreateRoutingSlip(context.Background(), &types.CreateRoutingSlipRequest{
		Number:   number,
		Payments: []*types.RoutingSlipPaymentRequest{{ReceiptNumber: receiptNumber, AmountCents: cents}},
	})
	if err != nil {
		t.Fatalf("create routing slip %s: %v", number, err)
	}
	return slip
}

// postPADInvoice creates a PAD invoice and posts it to CFS so it carries a
// CFS reference.
func (h *ledgerHarness) postPADInvoice(t *testing.T, requestID string, account *entity.Account, fees ...int64) *entity.Invoice {
	t.Helper()
	invoice := h.mustCreateInvoice(t, invoiceRequest(requestID, account.ID, entity.PaymentMethodPAD, fees...))
	if _, err := h.invoices.RunPostInvoicesBatch(context.Background(), 10); err != nil {
		t.Fatalf("post invoices: %v", err)
	}
	invoice = h.mustGetInvoice(t, invoice.ID)
	if invoice.Reference == nil {
		t.Fatalf("expected invoice %d to be posted", invoice.ID)
	}
	return invoice
}

func (h *ledgerHarness) openReviews(t *testing.T) []*entity.ReviewItem {
	t.Helper()
	items, err := h.repos.Reviews.ListOpen(context.Background(), 100, 0)
	if err != nil {
		t.Fatalf("list reviews: %v", err)
	}
	return items
}

func equalOps(got []connector.Operation, want ...connector.Operation) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
