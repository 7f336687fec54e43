package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/connector"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
)

type compensation struct {
	system connector.System
	req    *connector.Request
}

// saga collects compensating connector calls for the external steps taken
// while a local transaction is open. The steps are undone in reverse order
// when the transaction does not commit.
type saga struct {
	connectors *connector.Registry
	logger     logrus.FieldLogger

	reference     string
	correlationID string
	undo          []compensation
}

func newSaga(connectors *connector.Registry, logger logrus.FieldLogger) *saga {
	return &saga{connectors: connectors, logger: logger}
}

func (sg *saga) bind(invoice *entity.Invoice) {
	sg.reference = derefString(invoice.Reference)
	if sg.reference == "" {
		sg.reference = fmt.Sprintf("invoice:%d", invoice.ID)
	}
	sg.correlationID = invoice.CorrelationID
}

// submit sends req and, when it succeeds, registers compensate to be sent if
// the saga is rolled back. A nil compensate registers nothing.
func (sg *saga) submit(ctx context.Context, system connector.System, req, compensate *connector.Request) (*connector.Ack, error) {
	conn, err := sg.connectors.Get(system)
	if err != nil {
		return nil, err
	}
	if req.CorrelationID == "" {
		req.CorrelationID = sg.correlationID
	}
	ack, err := conn.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	if compensate != nil {
		if compensate.CorrelationID == "" {
			compensate.CorrelationID = req.CorrelationID
		}
		sg.undo = append(sg.undo, compensation{system: system, req: compensate})
	}
	return ack, nil
}

func (sg *saga) compensate(ctx context.Context) error {
	var errs []error
	for i := len(sg.undo) - 1; i >= 0; i-- {
		step := sg.undo[i]
		conn, err := sg.connectors.Get(step.system)
		if err == nil {
			_, err = conn.Submit(ctx, step.req)
		}
		if err != nil {
			sg.logger.WithError(err).WithFields(logrus.Fields{
				"system":         step.system,
				"operation":      step.req.Operation,
				"reference":      sg.reference,
				"correlation_id": sg.correlationID,
			}).Error("compensation_step_failed")
			errs = append(errs, err)
		}
	}
	sg.undo = nil
	return errors.Join(errs...)
}

// withSaga runs fn in a transaction. If fn fails the transaction is rolled
// back and the external steps are compensated.
func (s *InvoiceService) withSaga(ctx context.Context, fn func(ctx context.Context, sg *saga) error) error {
	sg := newSaga(s.connectors, s.logger)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return fn(ctx, sg)
	})
	if err == nil {
		return nil
	}

	cctx := context.WithoutCancel(ctx)
	cerr := sg.compensate(cctx)
	if cerr == nil {
		return err
	}

	s.openReview(cctx, entity.ReviewCompensationFailure, sg.reference, sg.correlationID, cerr.Error(), nil)
	return fmt.Errorf("%w: %w", ErrCompensationFailed, errors.Join(err, cerr))
}

// cfsTarget returns the CFS account an invoice was posted to, or nil when
// the invoice never reached CFS.
func (s *InvoiceService) cfsTarget(ctx context.Context, invoice *entity.Invoice) (*entity.Account, error) {
	handler, ok := handlerFor(invoice.PaymentMethod)
	if !ok || !handler.postsToCFS || invoice.Reference == nil {
		return nil, nil
	}
	account, err := s.repos.Accounts.FindByID(ctx, invoice.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	if account.CFSAccountNumber == nil {
		return nil, nil
	}
	return account, nil
}

func cfsRequest(op connector.Operation, account *entity.Account, invoice *entity.Invoice) *connector.Request {
	return &connector.Request{
		Operation:     op,
		CorrelationID: invoice.CorrelationID,
		Reference:     derefString(invoice.Reference),
		PartyNumber:   derefString(account.CFSPartyNumber),
		AccountNumber: derefString(account.CFSAccountNumber),
		SiteNumber:    derefString(account.CFSSiteNumber),
	}
}

func cfsReceiptRequest(op connector.Operation, account *entity.Account, invoice *entity.Invoice, receipt *entity.Receipt) *connector.Request {
	req := cfsRequest(op, account, invoice)
	req.ReceiptNumber = receipt.ReceiptNumber
	return req
}

// unapplyReceipts detaches every applied receipt from the invoice. Receipts
// drawn from a routing slip hand their funds back to the slip; the rest stay
// UNAPPLIED with their full balance available.
func (s *InvoiceService) unapplyReceipts(ctx context.Context, invoice *entity.Invoice, sg *saga, now time.Time) ([]*entity.Receipt, error) {
	receipts, err := s.repos.Receipts.ListByInvoiceForUpdate(ctx, invoice.ID)
	if err != nil {
		return nil, err
	}
	account, err := s.cfsTarget(ctx, invoice)
	if err != nil {
		return nil, err
	}

	released := make([]*entity.Receipt, 0, len(receipts))
	for _, r := range receipts {
		if r.Status != entity.ReceiptApplied {
			continue
		}
		if account != nil {
			if _, err := sg.submit(ctx, connector.SystemCFS,
				cfsReceiptRequest(connector.OpUnapplyReceipt, account, invoice, r),
				cfsReceiptRequest(connector.OpApplyReceipt, account, invoice, r),
			); err != nil {
				return nil, err
			}
		}
		invoice.PaidCents -= r.AppliedCents
		r.AppliedCents = 0
		r.Status = entity.ReceiptUnapplied
		r.UpdatedAt = now
		released = append(released, r)
	}
	return released, nil
}

// reapplyReceipts applies the released receipts again up to the invoice's
// due amount and returns what was left on the table.
func (s *InvoiceService) reapplyReceipts(ctx context.Context, invoice *entity.Invoice, receipts []*entity.Receipt, sg *saga, now time.Time) error {
	account, err := s.cfsTarget(ctx, invoice)
	if err != nil {
		return err
	}

	for _, r := range receipts {
		amount := minInt64(r.UnappliedCents(), invoice.DueCents())
		if amount > 0 {
			if account != nil {
				if _, err := sg.submit(ctx, connector.SystemCFS,
					cfsReceiptRequest(connector.OpApplyReceipt, account, invoice, r),
					cfsReceiptRequest(connector.OpUnapplyReceipt, account, invoice, r),
				); err != nil {
					return err
				}
			}
			r.AppliedCents = amount
			r.Status = entity.ReceiptApplied
			invoice.PaidCents += amount
		}

		if r.RoutingSlipID != nil {
			if err := s.settleSlipReceipt(ctx, r, now); err != nil {
				return err
			}
		} else if r.AppliedCents == 0 {
			r.InvoiceID = nil
		}

		r.UpdatedAt = now
		if err := s.repos.Receipts.Update(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// settleSlipReceipt returns the unapplied part of a slip funded receipt to
// its routing slip. The receipt shrinks to what stays applied.
func (s *InvoiceService) settleSlipReceipt(ctx context.Context, r *entity.Receipt, now time.Time) error {
	left := r.UnappliedCents()
	if left <= 0 {
		return nil
	}
	if err := s.releaseToRoutingSlip(ctx, *r.RoutingSlipID, left, now); err != nil {
		return err
	}
	r.AmountCents = r.AppliedCents
	if r.AppliedCents == 0 {
		r.Status = entity.ReceiptReversed
	}
	return nil
}

func (s *InvoiceService) voidLocked(ctx context.Context, invoice *entity.Invoice, sg *saga, now time.Time) error {
	released, err := s.unapplyReceipts(ctx, invoice, sg, now)
	if err != nil {
		return err
	}

	account, err := s.cfsTarget(ctx, invoice)
	if err != nil {
		return err
	}
	if account != nil && invoice.TotalCents > 0 {
		down := cfsRequest(connector.OpAdjustInvoice, account, invoice)
		down.AmountCents = -invoice.TotalCents
		down.Attributes = map[string]string{"comment": "invoice cancelled"}
		up := cfsRequest(connector.OpAdjustInvoice, account, invoice)
		up.AmountCents = invoice.TotalCents
		up.Attributes = map[string]string{"comment": "invoice cancellation reverted"}
		if _, err := sg.submit(ctx, connector.SystemCFS, down, up); err != nil {
			return err
		}
	}

	for _, item := range invoice.LineItems {
		item.Status = entity.LineItemCancelled
	}
	invoice.TotalCents = 0
	invoice.ServiceFeesCents = 0
	invoice.PaidCents = 0
	invoice.PaymentDate = nil

	for _, r := range released {
		if r.RoutingSlipID != nil {
			if err := s.settleSlipReceipt(ctx, r, now); err != nil {
				return err
			}
		} else {
			r.InvoiceID = nil
		}
		if err := s.repos.Receipts.Update(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// PartialCancel cancels the given line items. Receipts are unapplied, the
// invoice total is adjusted down and the receipts are applied again up to
// the new total. The whole sequence commits or is rolled back together,
// including the CFS side.
func (s *InvoiceService) PartialCancel(ctx context.Context, invoiceID uint64, lineItemIDs []uint64) (*entity.Invoice, error) {
	if invoiceID == 0 || len(lineItemIDs) == 0 {
		return nil, ErrInvalidRequest
	}

	var result *entity.Invoice
	err := s.withSaga(ctx, func(ctx context.Context, sg *saga) error {
		invoice, err := s.lockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		sg.bind(invoice)

		if invoice.Status.Terminal() || invoice.Status == entity.InvoiceRefundRequested {
			return invalidTransition(invoice, triggerPartialCancel, "invoice is closed")
		}

		wanted := make(map[uint64]bool, len(lineItemIDs))
		for _, id := range lineItemIDs {
			wanted[id] = true
		}
		var cancelled, cancelledFees int64
		for _, item := range invoice.LineItems {
			if !wanted[item.ID] {
				continue
			}
			if item.Status != entity.LineItemActive {
				return fmt.Errorf("%w: line item %d is already cancelled", ErrInvalidRequest, item.ID)
			}
			delete(wanted, item.ID)
			cancelled += item.TotalCents
			cancelledFees += item.ServiceFeesCents
		}
		if len(wanted) > 0 {
			return fmt.Errorf("%w: line items do not belong to invoice %d", ErrInvalidRequest, invoice.ID)
		}

		now := s.now()
		remainingLines := invoice.ActiveLineTotal() - cancelled
		if remainingLines <= 0 || invoice.TotalCents-cancelled <= 0 {
			if err := s.applyTrigger(ctx, invoice, entity.TriggerVoid, sg, transitionOptions{reason: "all line items cancelled"}); err != nil {
				return err
			}
			result = invoice
			return nil
		}

		from := invoice.Status

		// 1. unapply
		released, err := s.unapplyReceipts(ctx, invoice, sg, now)
		if err != nil {
			return err
		}

		// 2. adjust
		account, err := s.cfsTarget(ctx, invoice)
		if err != nil {
			return err
		}
		if account != nil {
			down := cfsRequest(connector.OpAdjustInvoice, account, invoice)
			down.AmountCents = -cancelled
			down.Attributes = map[string]string{"comment": "partial cancellation"}
			up := cfsRequest(connector.OpAdjustInvoice, account, invoice)
			up.AmountCents = cancelled
			up.Attributes = map[string]string{"comment": "partial cancellation reverted"}
			if _, err := sg.submit(ctx, connector.SystemCFS, down, up); err != nil {
				return err
			}
		}
		for _, item := range invoice.LineItems {
			for _, id := range lineItemIDs {
				if item.ID == id {
					item.Status = entity.LineItemCancelled
				}
			}
		}
		invoice.TotalCents -= cancelled
		invoice.ServiceFeesCents -= cancelledFees
		if invoice.ServiceFeesCents < 0 {
			invoice.ServiceFeesCents = 0
		}

		// 3. re-apply
		if err := s.reapplyReceipts(ctx, invoice, released, sg, now); err != nil {
			return err
		}

		invoice.UpdatedAt = now
		if err := s.repos.Invoices.Update(ctx, invoice); err != nil {
			return err
		}
		if err := s.recordEvent(ctx, invoice, "invoice_"+string(triggerPartialCancel), &from, ""); err != nil {
			return err
		}
		if invoice.Status == entity.InvoicePaid && invoice.DueCents() != 0 {
			return mismatch("invoice %d is paid but %d cents are due after adjustment", invoice.ID, invoice.DueCents())
		}
		if err := s.settleIfCovered(ctx, invoice, sg); err != nil {
			return err
		}

		result = invoice
		return nil
	})
	if err != nil {
		s.logTransitionFailure(invoiceID, triggerPartialCancel, err)
		return nil, err
	}
	return result, nil
}
