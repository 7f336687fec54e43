package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/connector"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
)

// RunPostInvoicesBatch posts open CFS-billed invoices to CFS and stores the
// returned invoice number as the invoice reference.
func (s *InvoiceService) RunPostInvoicesBatch(ctx context.Context, limit int32) (int, error) {
	items, err := s.repos.Invoices.ListPendingPost(ctx, cfsMethods(), batchSize(limit))
	if err != nil {
		return 0, err
	}

	posted := 0
	var firstErr error
	for _, listed := range items {
		ok, err := s.postInvoice(ctx, listed.ID)
		if err != nil {
			s.logger.WithError(err).WithField("invoice_id", listed.ID).Error("invoice_post_failed")
			s.openReview(context.WithoutCancel(ctx), entity.ReviewConnectorFailure,
				fmt.Sprintf("invoice:%d", listed.ID), listed.CorrelationID, err.Error(), nil)
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		if ok {
			posted++
		}
	}
	return posted, firstErr
}

func (s *InvoiceService) postInvoice(ctx context.Context, invoiceID uint64) (bool, error) {
	posted := false
	err := s.withSaga(ctx, func(ctx context.Context, sg *saga) error {
		invoice, err := s.lockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		sg.bind(invoice)
		if invoice.Reference != nil {
			return nil
		}
		if invoice.Status != entity.InvoiceCreated && invoice.Status != entity.InvoiceApproved {
			return nil
		}

		account, err := s.repos.Accounts.FindByID(ctx, invoice.AccountID)
		if err != nil {
			return err
		}
		if account == nil {
			return ErrAccountNotFound
		}
		if account.CFSStatus != entity.CFSAccountActive || account.CFSAccountNumber == nil {
			return nil
		}

		req := cfsRequest(connector.OpCreateInvoice, account, invoice)
		req.Reference = fmt.Sprintf("REG%010d", invoice.ID)
		req.Attributes = map[string]string{"comments": string(invoice.PaymentMethod)}
		for _, item := range invoice.LineItems {
			if item.Status != entity.LineItemActive {
				continue
			}
			req.Lines = append(req.Lines, connector.Line{
				Description: item.Description,
				AmountCents: item.TotalCents,
				Quantity:    1,
			})
		}
		undo := cfsRequest(connector.OpAdjustInvoice, account, invoice)
		undo.AmountCents = -invoice.TotalCents
		undo.Attributes = map[string]string{"comment": "posting rolled back"}

		ack, err := sg.submit(ctx, connector.SystemCFS, req, undo)
		if err != nil {
			return err
		}
		reference := firstNonEmpty(ack.Reference, req.Reference)
		undo.Reference = reference
		invoice.Reference = &reference
		invoice.UpdatedAt = s.now()
		if err := s.repos.Invoices.Update(ctx, invoice); err != nil {
			return err
		}
		posted = true
		return s.recordEvent(ctx, invoice, "invoice_posted", nil, "")
	})
	return posted, err
}

// RunFlagStaleBatch moves invoices that stayed APPROVED for longer than the
// configured window to OVERDUE.
func (s *InvoiceService) RunFlagStaleBatch(ctx context.Context, limit int32) (int, error) {
	cutoff := s.now().Add(-s.cfg.StaleApprovedAfter)
	items, err := s.repos.Invoices.ListStaleApproved(ctx, cutoff, batchSize(limit))
	if err != nil {
		return 0, err
	}

	flagged := 0
	var firstErr error
	for _, listed := range items {
		err := s.withSaga(ctx, func(ctx context.Context, sg *saga) error {
			invoice, err := s.lockInvoice(ctx, listed.ID)
			if err != nil {
				return err
			}
			if invoice.Status != entity.InvoiceApproved || invoice.CreatedAt.After(cutoff) {
				return nil
			}
			sg.bind(invoice)
			if err := s.applyTrigger(ctx, invoice, entity.TriggerMarkOverdue, sg, transitionOptions{reason: "stale approved invoice"}); err != nil {
				return err
			}
			flagged++
			return nil
		})
		if err != nil {
			s.logTransitionFailure(listed.ID, entity.TriggerMarkOverdue, err)
			firstErr = keepFirstErr(firstErr, err)
		}
	}
	return flagged, firstErr
}

// RunDisbursementBatch sends the partner share of paid invoices through EJV
// and reverses disbursements of invoices that were later cancelled,
// credited or refunded. The status check under the row lock keeps each
// invoice disbursed at most once.
func (s *InvoiceService) RunDisbursementBatch(ctx context.Context, limit int32) (int, error) {
	done := 0
	var firstErr error
	for _, method := range disbursedMethods() {
		due, err := s.repos.Invoices.ListDueDisbursement(ctx, method, batchSize(limit))
		if err != nil {
			return done, err
		}
		for _, listed := range due {
			ok, err := s.disburse(ctx, listed.ID, false)
			if err != nil {
				firstErr = keepFirstErr(firstErr, err)
				continue
			}
			if ok {
				done++
			}
		}

		reversals, err := s.repos.Invoices.ListDueDisbursementReversal(ctx, method, batchSize(limit))
		if err != nil {
			return done, err
		}
		for _, listed := range reversals {
			ok, err := s.disburse(ctx, listed.ID, true)
			if err != nil {
				firstErr = keepFirstErr(firstErr, err)
				continue
			}
			if ok {
				done++
			}
		}
	}
	return done, firstErr
}

func (s *InvoiceService) disburse(ctx context.Context, invoiceID uint64, reverse bool) (bool, error) {
	sent := false
	err := s.withSaga(ctx, func(ctx context.Context, sg *saga) error {
		invoice, err := s.lockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		sg.bind(invoice)

		now := s.now()
		owed := owedShareCents(invoice)
		amount := owed
		op, undoOp := connector.OpDisburse, connector.OpReverseDisbursement
		next := entity.DisbursementAcknowledged

		if reverse {
			if invoice.DisbursementStatus != entity.DisbursementCompleted {
				return nil
			}
			amount = invoice.DisbursedCents - owed
			if amount <= 0 {
				return nil
			}
			op, undoOp = connector.OpReverseDisbursement, connector.OpDisburse
			next = entity.DisbursementCompleted
			if invoice.Status.Terminal() {
				next = entity.DisbursementReversed
			}
		} else {
			if invoice.Status != entity.InvoicePaid {
				return nil
			}
			if invoice.DisbursementStatus != entity.DisbursementNone && invoice.DisbursementStatus != entity.DisbursementErrored {
				return nil
			}
		}

		if amount > 0 {
			req := &connector.Request{
				Operation:     op,
				CorrelationID: invoice.CorrelationID,
				Reference:     derefString(invoice.Reference),
				AmountCents:   amount,
				Attributes:    map[string]string{"description": fmt.Sprintf("invoice %d %s", invoice.ID, invoice.PaymentMethod)},
			}
			undo := *req
			undo.Operation = undoOp
			if _, err := sg.submit(ctx, connector.SystemEJV, req, &undo); err != nil {
				return err
			}
		} else {
			next = entity.DisbursementCompleted
		}

		invoice.DisbursedCents = owed
		invoice.DisbursementStatus = next
		invoice.DisbursementDate = &now
		invoice.UpdatedAt = now
		if err := s.repos.Invoices.Update(ctx, invoice); err != nil {
			return err
		}
		sent = true
		return s.recordEvent(ctx, invoice, "disbursement_"+string(op), nil, "")
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"invoice_id": invoiceID,
			"reverse":    reverse,
		}).Error("disbursement_failed")
		s.markDisbursementErrored(ctx, invoiceID, reverse, err)
		return false, err
	}
	return sent, nil
}

func (s *InvoiceService) markDisbursementErrored(ctx context.Context, invoiceID uint64, reverse bool, cause error) {
	ctx = context.WithoutCancel(ctx)
	var reference, correlationID string
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		invoice, err := s.lockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		reference, correlationID = derefString(invoice.Reference), invoice.CorrelationID
		if reverse {
			return nil
		}
		invoice.DisbursementStatus = entity.DisbursementErrored
		invoice.UpdatedAt = s.now()
		return s.repos.Invoices.Update(ctx, invoice)
	})
	if err != nil {
		s.logger.WithError(err).WithField("invoice_id", invoiceID).Error("disbursement_error_record_failed")
	}
	if reference == "" {
		reference = fmt.Sprintf("invoice:%d", invoiceID)
	}
	s.openReview(ctx, entity.ReviewConnectorFailure, reference, correlationID, cause.Error(), nil)
}

// owedShareCents is the partner share the invoice still supports: nothing
// once it is closed, otherwise the active total less service fees.
func owedShareCents(invoice *entity.Invoice) int64 {
	if invoice.Status.Terminal() {
		return 0
	}
	return invoice.TotalCents - invoice.ServiceFeesCents
}
