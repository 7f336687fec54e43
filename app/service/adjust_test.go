package service

import (
	"context"
	"errors"
	"testing"

	"github.com/vibast-solutions/ms-go-pay-ledger/app/connector"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/types"
)

// paidPADInvoice returns a posted PAD invoice for 60.00 + 40.00 fully paid by
// one 100.00 receipt.
func paidPADInvoice(t *testing.T, h *ledgerHarness) (*entity.Invoice, *entity.Receipt) {
	t.Helper()
	account := h.seedAccount(t, entity.PaymentMethodPAD)
	invoice := h.postPADInvoice(t, "req-1", account, 6000, 4000)

	receipt, err := h.invoices.CreateReceipt(context.Background(), &types.CreateReceiptRequest{ReceiptNumber: "R-100", AmountCents: 10000, ReceiptDate: "2026-03-01"})
	if err != nil {
		t.Fatalf("create receipt: %v", err)
	}
	invoice, receipt, err = h.invoices.ApplyReceipt(context.Background(), receipt.ID, invoice.ID)
	if err != nil {
		t.Fatalf("apply receipt: %v", err)
	}
	if invoice.Status != entity.InvoicePaid {
		t.Fatalf("expected PAID, got %s", invoice.Status)
	}
	return invoice, receipt
}

func TestPartialCancelReappliesReceiptToNewTotal(t *testing.T) {
	h := newLedgerHarness(t)
	invoice, receipt := paidPADInvoice(t, h)
	h.cfs.reset()

	cancelled := invoice.LineItems[0].ID
	updated, err := h.invoices.PartialCancel(context.Background(), invoice.ID, []uint64{cancelled})
	if err != nil {
		t.Fatalf("partial cancel: %v", err)
	}
	if updated.Status != entity.InvoicePaid {
		t.Fatalf("expected invoice to stay PAID, got %s", updated.Status)
	}
	if updated.TotalCents != 4000 || updated.PaidCents != 4000 {
		t.Fatalf("expected total and paid of 4000, got total=%d paid=%d", updated.TotalCents, updated.PaidCents)
	}

	stored := h.mustGetInvoice(t, invoice.ID)
	for _, item := range stored.LineItems {
		want := entity.LineItemActive
		if item.ID == cancelled {
			want = entity.LineItemCancelled
		}
		if item.Status != want {
			t.Fatalf("line item %d: expected %s, got %s", item.ID, want, item.Status)
		}
	}

	after, err := h.invoices.GetReceipt(context.Background(), receipt.ID)
	if err != nil {
		t.Fatalf("get receipt: %v", err)
	}
	if after.Status != entity.ReceiptApplied || after.AppliedCents != 4000 || after.UnappliedCents() != 6000 {
		t.Fatalf("unexpected receipt after adjustment: %+v", after)
	}

	if !equalOps(h.cfs.ops(), connector.OpUnapplyReceipt, connector.OpAdjustInvoice, connector.OpApplyReceipt) {
		t.Fatalf("unexpected CFS sequence %v", h.cfs.ops())
	}
	if adjust := h.cfs.calls[1]; adjust.AmountCents != -6000 || adjust.Reference != *invoice.Reference {
		t.Fatalf("unexpected adjustment %+v", adjust)
	}
}

func TestPartialCancelRollsBackEverySideWhenReapplyFails(t *testing.T) {
	h := newLedgerHarness(t)
	invoice, receipt := paidPADInvoice(t, h)
	h.cfs.reset()

	storeErr := errors.New("lock wait timeout")
	h.store.Fault = func(op string) error {
		if op == "receipts.update" {
			return storeErr
		}
		return nil
	}
	_, err := h.invoices.PartialCancel(context.Background(), invoice.ID, []uint64{invoice.LineItems[0].ID})
	h.store.Fault = nil
	if !errors.Is(err, storeErr) || errors.Is(err, ErrCompensationFailed) {
		t.Fatalf("expected the store error after clean compensation, got %v", err)
	}

	if !equalOps(h.cfs.ops(),
		connector.OpUnapplyReceipt, connector.OpAdjustInvoice, connector.OpApplyReceipt,
		connector.OpUnapplyReceipt, connector.OpAdjustInvoice, connector.OpApplyReceipt,
	) {
		t.Fatalf("expected forward steps then their compensations, got %v", h.cfs.ops())
	}
	if undo := h.cfs.calls[4]; undo.AmountCents != 6000 {
		t.Fatalf("expected adjustment to be reverted by +6000, got %+v", undo)
	}

	stored := h.mustGetInvoice(t, invoice.ID)
	if stored.TotalCents != 10000 || stored.PaidCents != 10000 || stored.Status != entity.InvoicePaid {
		t.Fatalf("expected invoice untouched, got %+v", stored)
	}
	for _, item := range stored.LineItems {
		if item.Status != entity.LineItemActive {
			t.Fatalf("expected line item %d to stay active", item.ID)
		}
	}
	after, _ := h.invoices.GetReceipt(context.Background(), receipt.ID)
	if after.AppliedCents != 10000 {
		t.Fatalf("expected receipt untouched, got %+v", after)
	}
}

func TestPartialCancelOfEveryLineVoidsInvoice(t *testing.T) {
	h := newLedgerHarness(t)
	invoice, receipt := paidPADInvoice(t, h)

	ids := []uint64{invoice.LineItems[0].ID, invoice.LineItems[1].ID}
	updated, err := h.invoices.PartialCancel(context.Background(), invoice.ID, ids)
	if err != nil {
		t.Fatalf("partial cancel: %v", err)
	}
	if updated.Status != entity.InvoiceCancelled || updated.TotalCents != 0 || updated.PaidCents != 0 {
		t.Fatalf("expected zeroed CANCELLED invoice, got %+v", updated)
	}
	after, _ := h.invoices.GetReceipt(context.Background(), receipt.ID)
	if after.Status != entity.ReceiptUnapplied || after.InvoiceID != nil || after.UnappliedCents() != 10000 {
		t.Fatalf("expected receipt released in full, got %+v", after)
	}
}

func TestPartialCancelValidation(t *testing.T) {
	h := newLedgerHarness(t)
	invoice, _ := paidPADInvoice(t, h)

	if _, err := h.invoices.PartialCancel(context.Background(), invoice.ID, []uint64{9999}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected foreign line item error, got %v", err)
	}
	if _, err := h.invoices.PartialCancel(context.Background(), invoice.ID, nil); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected empty list error, got %v", err)
	}

	if _, err := h.invoices.PartialCancel(context.Background(), invoice.ID, []uint64{invoice.LineItems[0].ID}); err != nil {
		t.Fatalf("partial cancel: %v", err)
	}
	if _, err := h.invoices.PartialCancel(context.Background(), invoice.ID, []uint64{invoice.LineItems[0].ID}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected already cancelled error, got %v", err)
	}

	if _, err := h.invoices.Transition(context.Background(), invoice.ID, entity.TriggerVoid); err != nil {
		t.Fatalf("void: %v", err)
	}
	if _, err := h.invoices.PartialCancel(context.Background(), invoice.ID, []uint64{invoice.LineItems[1].ID}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected closed invoice error, got %v", err)
	}
}

func TestVoidPostedInvoiceAdjustsCFSAndReleasesReceipts(t *testing.T) {
	h := newLedgerHarness(t)
	invoice, receipt := paidPADInvoice(t, h)
	h.cfs.reset()

	voided, err := h.invoices.Transition(context.Background(), invoice.ID, entity.TriggerVoid)
	if err != nil {
		t.Fatalf("void: %v", err)
	}
	if voided.Status != entity.InvoiceCancelled || voided.TotalCents != 0 {
		t.Fatalf("unexpected voided invoice %+v", voided)
	}
	if !equalOps(h.cfs.ops(), connector.OpUnapplyReceipt, connector.OpAdjustInvoice) {
		t.Fatalf("unexpected CFS calls %v", h.cfs.ops())
	}
	if h.cfs.lastCall().AmountCents != -10000 {
		t.Fatalf("expected full negative adjustment, got %+v", h.cfs.lastCall())
	}
	after, _ := h.invoices.GetReceipt(context.Background(), receipt.ID)
	if after.Status != entity.ReceiptUnapplied || after.InvoiceID != nil {
		t.Fatalf("expected receipt back on account, got %+v", after)
	}
}
