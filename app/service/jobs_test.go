package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-pay-ledger/app/connector"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/types"
)

func TestPostInvoicesAssignsCFSReference(t *testing.T) {
	h := newLedgerHarness(t)
	account := h.seedAccount(t, entity.PaymentMethodPAD)
	invoice := h.mustCreateInvoice(t, invoiceRequest("req-1", account.ID, entity.PaymentMethodPAD, 1500, 500))

	posted, err := h.invoices.RunPostInvoicesBatch(context.Background(), 10)
	if err != nil || posted != 1 {
		t.Fatalf("expected one posted invoice, got %d (%v)", posted, err)
	}
	call := h.cfs.lastCall()
	if call.Operation != connector.OpCreateInvoice || call.AccountNumber != "A-1" || len(call.Lines) != 2 {
		t.Fatalf("unexpected CFS call %+v", call)
	}
	if got := h.mustGetInvoice(t, invoice.ID); got.Reference == nil || *got.Reference != "CFS-1" {
		t.Fatalf("expected reference CFS-1, got %v", got.Reference)
	}

	if posted, _ := h.invoices.RunPostInvoicesBatch(context.Background(), 10); posted != 0 {
		t.Fatalf("expected nothing left to post, got %d", posted)
	}
}

func TestPostInvoicesFailureOpensReview(t *testing.T) {
	h := newLedgerHarness(t)
	account := h.seedAccount(t, entity.PaymentMethodEFT)
	invoice := h.mustCreateInvoice(t, invoiceRequest("req-1", account.ID, entity.PaymentMethodEFT, 1500))

	h.cfs.failOn(connector.OpCreateInvoice, &connector.TransientError{System: connector.SystemCFS, StatusCode: 503, Err: errors.New("unavailable")})
	posted, err := h.invoices.RunPostInvoicesBatch(context.Background(), 10)
	if err == nil || posted != 0 {
		t.Fatalf("expected post failure, got %d (%v)", posted, err)
	}
	if got := h.mustGetInvoice(t, invoice.ID); got.Reference != nil {
		t.Fatalf("expected invoice to stay unposted, got %v", *got.Reference)
	}
	reviews := h.openReviews(t)
	if len(reviews) != 1 || reviews[0].Kind != entity.ReviewConnectorFailure {
		t.Fatalf("expected connector review, got %+v", reviews)
	}

	h.cfs.failOn(connector.OpCreateInvoice, nil)
	if posted, err := h.invoices.RunPostInvoicesBatch(context.Background(), 10); err != nil || posted != 1 {
		t.Fatalf("expected retry to post, got %d (%v)", posted, err)
	}
}

func TestFlagStaleApprovedInvoices(t *testing.T) {
	h := newLedgerHarness(t)
	account := h.seedAccount(t, entity.PaymentMethodPAD)
	stale := h.mustCreateInvoice(t, invoiceRequest("req-1", account.ID, entity.PaymentMethodPAD, 1000))

	if n, _ := h.invoices.RunFlagStaleBatch(context.Background(), 10); n != 0 {
		t.Fatalf("expected fresh invoice to be left alone, got %d", n)
	}

	h.clock.Advance(21 * 24 * time.Hour)
	fresh := h.mustCreateInvoice(t, invoiceRequest("req-2", account.ID, entity.PaymentMethodPAD, 1000))

	n, err := h.invoices.RunFlagStaleBatch(context.Background(), 10)
	if err != nil || n != 1 {
		t.Fatalf("expected one flagged invoice, got %d (%v)", n, err)
	}
	if got := h.mustGetInvoice(t, stale.ID).Status; got != entity.InvoiceOverdue {
		t.Fatalf("expected OVERDUE, got %s", got)
	}
	if got := h.mustGetInvoice(t, fresh.ID).Status; got != entity.InvoiceApproved {
		t.Fatalf("expected new invoice to stay APPROVED, got %s", got)
	}
}

func TestActivatePADWaitsForConfirmationPeriod(t *testing.T) {
	h := newLedgerHarness(t)
	account, err := h.accounts.CreateAccount(context.Background(), &types.CreateAccountRequest{
		Name:          "Lakeside Co-op",
		PaymentMethod: "pad",
		Billable:      true,
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if account.CFSStatus != entity.CFSAccountPendingPADActivation {
		t.Fatalf("expected pending activation, got %s", account.CFSStatus)
	}

	h.clock.Advance(71 * time.Hour)
	if n, _ := h.accounts.RunActivatePADBatch(context.Background(), 10); n != 0 {
		t.Fatalf("expected no activation before the period ends, got %d", n)
	}

	h.clock.Advance(time.Hour)
	if n, err := h.accounts.RunActivatePADBatch(context.Background(), 10); err != nil || n != 1 {
		t.Fatalf("expected one activation, got %d (%v)", n, err)
	}
	activated, err := h.accounts.GetAccount(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if activated.CFSStatus != entity.CFSAccountActive {
		t.Fatalf("expected ACTIVE, got %s", activated.CFSStatus)
	}
}

func TestCreateAccountValidation(t *testing.T) {
	h := newLedgerHarness(t)
	cases := []*types.CreateAccountRequest{
		{Name: "", PaymentMethod: "CC"},
		{Name: "Acme", PaymentMethod: "BITCOIN"},
		{Name: "Acme", PaymentMethod: "CC", StatementFrequency: "HOURLY"},
		{Name: "Acme", PaymentMethod: "DRAWDOWN"},
	}
	for _, req := range cases {
		if _, err := h.accounts.CreateAccount(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected invalid request for %+v, got %v", req, err)
		}
	}
	if len(h.cfs.ops()) != 0 {
		t.Fatalf("expected no CFS calls, got %v", h.cfs.ops())
	}
}

func TestGenerateStatements(t *testing.T) {
	h := newLedgerHarness(t)
	daily, err := h.accounts.CreateAccount(context.Background(), &types.CreateAccountRequest{
		Name: "Daily Filer", PaymentMethod: "EFT", Billable: true, StatementFrequency: "daily",
	})
	if err != nil {
		t.Fatalf("create daily account: %v", err)
	}
	weekly, err := h.accounts.CreateAccount(context.Background(), &types.CreateAccountRequest{
		Name: "Weekly Filer", PaymentMethod: "EFT", Billable: true, StatementFrequency: "weekly",
	})
	if err != nil {
		t.Fatalf("create weekly account: %v", err)
	}

	h.mustCreateInvoice(t, invoiceRequest("d-1", daily.ID, entity.PaymentMethodEFT, 1000))
	h.mustCreateInvoice(t, invoiceRequest("d-2", daily.ID, entity.PaymentMethodEFT, 2000))
	voided := h.mustCreateInvoice(t, invoiceRequest("d-3", daily.ID, entity.PaymentMethodEFT, 4000))
	if _, err := h.invoices.Transition(context.Background(), voided.ID, entity.TriggerVoid); err != nil {
		t.Fatalf("void: %v", err)
	}
	h.mustCreateInvoice(t, invoiceRequest("w-1", weekly.ID, entity.PaymentMethodEFT, 500))

	tuesday := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	created, err := h.accounts.RunGenerateStatements(context.Background(), tuesday, 10)
	if err != nil || created != 1 {
		t.Fatalf("expected one daily statement, got %d (%v)", created, err)
	}
	statement, err := h.repos.Statements.Find(context.Background(), daily.ID, entity.StatementDaily, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	if err != nil || statement == nil {
		t.Fatalf("find daily statement: %v", err)
	}
	if statement.InvoiceCount != 2 || statement.TotalCents != 3000 {
		t.Fatalf("unexpected daily statement %+v", statement)
	}

	if created, _ := h.accounts.RunGenerateStatements(context.Background(), tuesday, 10); created != 0 {
		t.Fatalf("expected re-run to create nothing, got %d", created)
	}

	monday := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	created, err = h.accounts.RunGenerateStatements(context.Background(), monday, 10)
	if err != nil || created != 2 {
		t.Fatalf("expected daily and weekly statements, got %d (%v)", created, err)
	}
	statement, err = h.repos.Statements.Find(context.Background(), weekly.ID, entity.StatementWeekly, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	if err != nil || statement == nil {
		t.Fatalf("find weekly statement: %v", err)
	}
	if statement.InvoiceCount != 1 || statement.TotalCents != 500 {
		t.Fatalf("unexpected weekly statement %+v", statement)
	}
}

func TestStatementPeriods(t *testing.T) {
	cases := []struct {
		date time.Time
		want []entity.StatementFrequency
	}{
		{date: time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC), want: []entity.StatementFrequency{entity.StatementDaily}},
		{date: time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), want: []entity.StatementFrequency{entity.StatementDaily, entity.StatementWeekly}},
		{date: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), want: []entity.StatementFrequency{entity.StatementDaily, entity.StatementWeekly, entity.StatementMonthly}},
		{date: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), want: []entity.StatementFrequency{entity.StatementDaily, entity.StatementMonthly}},
	}
	for _, tc := range cases {
		periods := statementPeriods(tc.date)
		if len(periods) != len(tc.want) {
			t.Fatalf("%s: expected %d periods, got %d", tc.date.Format("2006-01-02"), len(tc.want), len(periods))
		}
		for i, p := range periods {
			if p.frequency != tc.want[i] {
				t.Fatalf("%s: period %d is %s, want %s", tc.date.Format("2006-01-02"), i, p.frequency, tc.want[i])
			}
		}
	}
	monthly := statementPeriods(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))[1]
	if !monthly.from.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected monthly start %s", monthly.from)
	}
}

func completeDisbursement(t *testing.T, h *ledgerHarness, fileName, reference string, cents string) {
	t.Helper()
	content := feedbackFile("EJV", [4]string{"DISB", "EJV-" + fileName, reference, cents})
	result, err := h.reconciler.IngestFile(context.Background(), entity.SettlementSourceEJV, fileName, content)
	if err != nil || result.Processed != 1 {
		t.Fatalf("ingest %s: %+v (%v)", fileName, result, err)
	}
}

func TestVoidAfterPartialCancelReversesOnlyDisbursedShare(t *testing.T) {
	h := newLedgerHarness(t)
	account := h.seedAccount(t, entity.PaymentMethodBCOL)
	invoice := h.mustCreateInvoice(t, invoiceRequest("req-1", account.ID, entity.PaymentMethodBCOL, 6000, 4000))

	if _, err := h.invoices.PartialCancel(context.Background(), invoice.ID, []uint64{invoice.LineItems[0].ID}); err != nil {
		t.Fatalf("partial cancel: %v", err)
	}
	if n, err := h.invoices.RunDisbursementBatch(context.Background(), 10); err != nil || n != 1 {
		t.Fatalf("expected one disbursement, got %d (%v)", n, err)
	}
	if call := h.ejv.lastCall(); call.Operation != connector.OpDisburse || call.AmountCents != 4000 {
		t.Fatalf("unexpected disbursement %+v", call)
	}
	completeDisbursement(t, h, "ejv-1.txt", "REG0000000001", "4000")

	if _, err := h.invoices.Transition(context.Background(), invoice.ID, entity.TriggerVoid); err != nil {
		t.Fatalf("void: %v", err)
	}
	if n, err := h.invoices.RunDisbursementBatch(context.Background(), 10); err != nil || n != 1 {
		t.Fatalf("expected one reversal, got %d (%v)", n, err)
	}
	if call := h.ejv.lastCall(); call.Operation != connector.OpReverseDisbursement || call.AmountCents != 4000 {
		t.Fatalf("expected reversal of 4000, got %+v", call)
	}
	got := h.mustGetInvoice(t, invoice.ID)
	if got.DisbursementStatus != entity.DisbursementReversed || got.DisbursedCents != 0 {
		t.Fatalf("expected REVERSED with nothing held, got %s/%d", got.DisbursementStatus, got.DisbursedCents)
	}
	if n, _ := h.invoices.RunDisbursementBatch(context.Background(), 10); n != 0 {
		t.Fatalf("expected nothing left to reverse, got %d", n)
	}
}

func TestPartialCancelAfterDisbursementReversesCancelledShare(t *testing.T) {
	h := newLedgerHarness(t)
	account := h.seedAccount(t, entity.PaymentMethodBCOL)
	invoice := h.mustCreateInvoice(t, invoiceRequest("req-1", account.ID, entity.PaymentMethodBCOL, 6000, 4000))

	if _, err := h.invoices.RunDisbursementBatch(context.Background(), 10); err != nil {
		t.Fatalf("disburse: %v", err)
	}
	completeDisbursement(t, h, "ejv-1.txt", "REG0000000001", "10000")

	if _, err := h.invoices.PartialCancel(context.Background(), invoice.ID, []uint64{invoice.LineItems[0].ID}); err != nil {
		t.Fatalf("partial cancel: %v", err)
	}
	if n, err := h.invoices.RunDisbursementBatch(context.Background(), 10); err != nil || n != 1 {
		t.Fatalf("expected one partial reversal, got %d (%v)", n, err)
	}
	if call := h.ejv.lastCall(); call.Operation != connector.OpReverseDisbursement || call.AmountCents != 6000 {
		t.Fatalf("expected reversal of the cancelled 6000, got %+v", call)
	}
	got := h.mustGetInvoice(t, invoice.ID)
	if got.Status != entity.InvoicePaid || got.DisbursementStatus != entity.DisbursementCompleted || got.DisbursedCents != 4000 {
		t.Fatalf("expected PAID invoice holding 4000 disbursed, got %+v", got)
	}
	if n, _ := h.invoices.RunDisbursementBatch(context.Background(), 10); n != 0 {
		t.Fatalf("expected the reversal to run once, got %d", n)
	}

	if _, err := h.invoices.Transition(context.Background(), invoice.ID, entity.TriggerVoid); err != nil {
		t.Fatalf("void: %v", err)
	}
	if _, err := h.invoices.RunDisbursementBatch(context.Background(), 10); err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if call := h.ejv.lastCall(); call.Operation != connector.OpReverseDisbursement || call.AmountCents != 4000 {
		t.Fatalf("expected final reversal of 4000, got %+v", call)
	}
	if !equalOps(h.ejv.ops(), connector.OpDisburse, connector.OpReverseDisbursement, connector.OpReverseDisbursement) {
		t.Fatalf("unexpected EJV calls %v", h.ejv.ops())
	}
}
