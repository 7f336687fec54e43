package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/connector"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/repository"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/types"
)

func (s *InvoiceService) CreateReceipt(ctx context.Context, req *types.CreateReceiptRequest) (*entity.Receipt, error) {
	number := strings.TrimSpace(req.ReceiptNumber)
	if number == "" || req.AmountCents <= 0 {
		return nil, ErrInvalidRequest
	}

	now := s.now()
	receiptDate := now
	if raw := strings.TrimSpace(req.ReceiptDate); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, fmt.Errorf("%w: receipt_date must be YYYY-MM-DD", ErrInvalidRequest)
		}
		receiptDate = parsed
	}

	receipt := &entity.Receipt{
		ReceiptNumber: number,
		AmountCents:   req.AmountCents,
		Status:        entity.ReceiptUnapplied,
		ReceiptDate:   receiptDate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repos.Receipts.Create(ctx, receipt); err != nil {
		if errors.Is(err, repository.ErrReceiptAlreadyExists) {
			return nil, ErrReceiptAlreadyExists
		}
		return nil, err
	}
	return receipt, nil
}

func (s *InvoiceService) GetReceipt(ctx context.Context, id uint64) (*entity.Receipt, error) {
	if id == 0 {
		return nil, ErrInvalidRequest
	}
	receipt, err := s.repos.Receipts.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, ErrReceiptNotFound
	}
	return receipt, nil
}

// ApplyReceipt applies as much of the receipt's unapplied balance as the
// invoice still owes and pays the invoice once it is covered.
func (s *InvoiceService) ApplyReceipt(ctx context.Context, receiptID, invoiceID uint64) (*entity.Invoice, *entity.Receipt, error) {
	if receiptID == 0 || invoiceID == 0 {
		return nil, nil, ErrInvalidRequest
	}

	var (
		invoice *entity.Invoice
		receipt *entity.Receipt
	)
	err := s.withSaga(ctx, func(ctx context.Context, sg *saga) error {
		var err error
		invoice, err = s.lockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		sg.bind(invoice)

		receipt, err = s.repos.Receipts.FindByIDForUpdate(ctx, receiptID)
		if err != nil {
			return err
		}
		if receipt == nil {
			return ErrReceiptNotFound
		}
		if receipt.RoutingSlipID != nil {
			return fmt.Errorf("%w: routing slip receipts are drawn through the routing slip", ErrInvalidRequest)
		}
		_, err = s.applyReceiptLocked(ctx, invoice, receipt, sg, true, receipt.UnappliedCents())
		return err
	})
	if err != nil {
		s.logTransitionFailure(invoiceID, entity.TriggerPay, err)
		return nil, nil, err
	}
	return invoice, receipt, nil
}

// applyReceiptLocked expects both rows to be locked. It applies at most
// limit cents. When push is set the application is mirrored to CFS for
// posted invoices.
func (s *InvoiceService) applyReceiptLocked(ctx context.Context, invoice *entity.Invoice, receipt *entity.Receipt, sg *saga, push bool, limit int64) (int64, error) {
	if receipt.Status == entity.ReceiptReversed {
		return 0, fmt.Errorf("%w: receipt %s is reversed", ErrInvalidRequest, receipt.ReceiptNumber)
	}
	if receipt.InvoiceID != nil && *receipt.InvoiceID != invoice.ID && receipt.AppliedCents > 0 {
		return 0, ErrReceiptAlreadyApplied
	}
	switch invoice.Status {
	case entity.InvoiceCreated, entity.InvoiceApproved, entity.InvoiceOverdue:
	default:
		return 0, invalidTransition(invoice, entity.TriggerPay, "invoice does not accept payments")
	}

	amount := minInt64(limit, minInt64(receipt.UnappliedCents(), invoice.DueCents()))
	if amount <= 0 {
		return 0, fmt.Errorf("%w: nothing to apply", ErrInvalidRequest)
	}

	if push {
		account, err := s.cfsTarget(ctx, invoice)
		if err != nil {
			return 0, err
		}
		if account != nil {
			if _, err := sg.submit(ctx, connector.SystemCFS,
				cfsReceiptRequest(connector.OpApplyReceipt, account, invoice, receipt),
				cfsReceiptRequest(connector.OpUnapplyReceipt, account, invoice, receipt),
			); err != nil {
				return 0, err
			}
		}
	}

	now := s.now()
	receipt.AppliedCents += amount
	receipt.InvoiceID = &invoice.ID
	receipt.Status = entity.ReceiptApplied
	receipt.UpdatedAt = now
	if err := s.repos.Receipts.Update(ctx, receipt); err != nil {
		return 0, err
	}

	invoice.PaidCents += amount
	invoice.UpdatedAt = now
	if err := s.repos.Invoices.Update(ctx, invoice); err != nil {
		return 0, err
	}
	if err := s.settleIfCovered(ctx, invoice, sg); err != nil {
		return 0, err
	}

	s.logger.WithFields(logrus.Fields{
		"invoice_id":     invoice.ID,
		"receipt_number": receipt.ReceiptNumber,
		"amount_cents":   amount,
		"correlation_id": invoice.CorrelationID,
	}).Info("receipt_applied")
	return amount, nil
}

// UnapplyReceipt detaches a receipt from an unpaid invoice. Paid invoices
// are only changed through partial cancellation, void, credit or refund.
func (s *InvoiceService) UnapplyReceipt(ctx context.Context, receiptID uint64) (*entity.Receipt, error) {
	if receiptID == 0 {
		return nil, ErrInvalidRequest
	}
	peek, err := s.repos.Receipts.FindByID(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if peek == nil {
		return nil, ErrReceiptNotFound
	}
	if peek.InvoiceID == nil || peek.Status != entity.ReceiptApplied {
		return nil, fmt.Errorf("%w: receipt is not applied", ErrInvalidRequest)
	}
	invoiceID := *peek.InvoiceID

	var receipt *entity.Receipt
	err = s.withSaga(ctx, func(ctx context.Context, sg *saga) error {
		invoice, err := s.lockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		sg.bind(invoice)

		receipt, err = s.repos.Receipts.FindByIDForUpdate(ctx, receiptID)
		if err != nil {
			return err
		}
		if receipt == nil {
			return ErrReceiptNotFound
		}
		if receipt.InvoiceID == nil || *receipt.InvoiceID != invoice.ID || receipt.Status != entity.ReceiptApplied {
			return fmt.Errorf("%w: receipt is not applied", ErrInvalidRequest)
		}
		if invoice.Status != entity.InvoiceCreated && invoice.Status != entity.InvoiceApproved && invoice.Status != entity.InvoiceOverdue {
			return invalidTransition(invoice, triggerUnapply, "use partial cancellation to adjust a settled invoice")
		}

		account, err := s.cfsTarget(ctx, invoice)
		if err != nil {
			return err
		}
		if account != nil {
			if _, err := sg.submit(ctx, connector.SystemCFS,
				cfsReceiptRequest(connector.OpUnapplyReceipt, account, invoice, receipt),
				cfsReceiptRequest(connector.OpApplyReceipt, account, invoice, receipt),
			); err != nil {
				return err
			}
		}

		now := s.now()
		invoice.PaidCents -= receipt.AppliedCents
		invoice.UpdatedAt = now
		receipt.AppliedCents = 0
		receipt.Status = entity.ReceiptUnapplied
		receipt.UpdatedAt = now
		if receipt.RoutingSlipID != nil {
			if err := s.settleSlipReceipt(ctx, receipt, now); err != nil {
				return err
			}
		} else {
			receipt.InvoiceID = nil
		}

		if err := s.repos.Receipts.Update(ctx, receipt); err != nil {
			return err
		}
		if err := s.repos.Invoices.Update(ctx, invoice); err != nil {
			return err
		}
		return s.recordEvent(ctx, invoice, "invoice_"+string(triggerUnapply), nil, receipt.ReceiptNumber)
	})
	if err != nil {
		s.logTransitionFailure(invoiceID, triggerUnapply, err)
		return nil, err
	}
	return receipt, nil
}
