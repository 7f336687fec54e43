package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/connector"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/factory"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/repository"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/types"
	"github.com/vibast-solutions/ms-go-pay-ledger/config"
)

// InvoiceService owns the invoice state machine together with the receipt
// and routing slip movements that drive it.
//
// Rows are always locked in the order invoice, receipts, routing slip,
// account.
type InvoiceService struct {
	tx         Transactor
	repos      Repositories
	connectors *connector.Registry
	cfg        config.LedgerConfig
	logger     logrus.FieldLogger
	now        func() time.Time
}

func NewInvoiceService(tx Transactor, repos Repositories, connectors *connector.Registry, cfg config.LedgerConfig) *InvoiceService {
	return &InvoiceService{
		tx:         tx,
		repos:      repos,
		connectors: connectors,
		cfg:        cfg,
		logger:     factory.NewModuleLogger("invoice-service"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *InvoiceService) CreateInvoice(ctx context.Context, req *types.CreateInvoiceRequest) (*entity.Invoice, error) {
	requestID := strings.TrimSpace(req.RequestId)
	if requestID == "" || req.AccountId == 0 || len(req.LineItems) == 0 {
		return nil, ErrInvalidRequest
	}
	requested := entity.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod)))
	if requested != "" && !requested.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %s", ErrInvalidRequest, requested)
	}

	existing, err := s.repos.Invoices.FindByRequestID(ctx, req.AccountId, requestID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	var created *entity.Invoice
	err = s.withSaga(ctx, func(ctx context.Context, sg *saga) error {
		account, err := s.repos.Accounts.FindByID(ctx, req.AccountId)
		if err != nil {
			return err
		}
		if account == nil {
			return ErrAccountNotFound
		}

		now := s.now()
		method := billingMethod(account, requested, now)
		handler, ok := handlerFor(method)
		if !ok {
			return ErrPaymentMethodUnsupported
		}

		invoice := &entity.Invoice{
			AccountID:     account.ID,
			RequestID:     requestID,
			CorrelationID: uuid.NewString(),
			Status:        handler.initialStatus,
			PaymentMethod: method,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		// Methods that settle at creation start APPROVED and are paid once
		// the funds have moved.
		if invoice.Status == entity.InvoicePaid {
			invoice.Status = entity.InvoiceApproved
		}

		for _, li := range req.LineItems {
			item, err := newLineItem(li, account.Billable)
			if err != nil {
				return err
			}
			invoice.LineItems = append(invoice.LineItems, item)
			invoice.TotalCents += item.TotalCents
			invoice.ServiceFeesCents += item.ServiceFeesCents
		}

		if handler.drawsFromSlip {
			number := strings.TrimSpace(req.RoutingSlip)
			if number == "" {
				return fmt.Errorf("%w: routing_slip is required for %s", ErrInvalidRequest, method)
			}
			invoice.RoutingSlip = &number
		}

		if err := s.repos.Invoices.Create(ctx, invoice); err != nil {
			if errors.Is(err, repository.ErrInvoiceAlreadyExists) {
				created, err = s.repos.Invoices.FindByRequestID(ctx, account.ID, requestID)
				return err
			}
			return err
		}
		if !handler.postsToCFS {
			ref := fmt.Sprintf("REG%010d", invoice.ID)
			invoice.Reference = &ref
		}
		sg.bind(invoice)

		switch {
		case invoice.TotalCents == 0:
		case handler.drawsFromSlip:
			if err := s.drawFromRoutingSlip(ctx, invoice, now); err != nil {
				return err
			}
		case handler.chargesOnline:
			if err := s.chargeOnline(ctx, account, invoice, handler, sg, now); err != nil {
				return err
			}
		}

		if err := s.repos.Invoices.Update(ctx, invoice); err != nil {
			return err
		}
		if err := s.recordEvent(ctx, invoice, "invoice_created", nil, ""); err != nil {
			return err
		}
		if err := s.settleIfCovered(ctx, invoice, sg); err != nil {
			return err
		}

		created = invoice
		return nil
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"account_id": req.AccountId,
			"request_id": requestID,
		}).Warn("invoice_create_failed")
		return nil, err
	}

	return created, nil
}

func newLineItem(li *types.LineItemRequest, billable bool) (*entity.LineItem, error) {
	if li == nil {
		return nil, fmt.Errorf("%w: empty line item", ErrInvalidRequest)
	}
	item := &entity.LineItem{
		Description:      strings.TrimSpace(li.Description),
		FilingFeesCents:  li.FilingFeesCents,
		Quantity:         li.Quantity,
		GSTCents:         li.GstCents,
		PSTCents:         li.PstCents,
		ServiceFeesCents: li.ServiceFeesCents,
		Status:           entity.LineItemActive,
	}
	if item.FilingFeesCents < 0 || item.GSTCents < 0 || item.PSTCents < 0 || item.ServiceFeesCents < 0 || item.Quantity < 0 {
		return nil, fmt.Errorf("%w: line item amounts must be >= 0", ErrInvalidRequest)
	}
	if !billable {
		item.ServiceFeesCents = 0
	}
	if item.Quantity == 0 {
		item.Quantity = 1
	}
	item.TotalCents = item.ComputeTotal()
	return item, nil
}

// chargeOnline debits the payer synchronously and records the charge as an
// applied receipt.
func (s *InvoiceService) chargeOnline(ctx context.Context, account *entity.Account, invoice *entity.Invoice, handler methodHandler, sg *saga, now time.Time) error {
	if account.BCOLAccountNumber == nil || strings.TrimSpace(*account.BCOLAccountNumber) == "" {
		return fmt.Errorf("%w: account has no BC Online account number", ErrPaymentMethodUnsupported)
	}

	charge := &connector.Request{
		Operation:     connector.OpCharge,
		CorrelationID: invoice.CorrelationID,
		Reference:     derefString(invoice.Reference),
		AccountNumber: *account.BCOLAccountNumber,
		AmountCents:   invoice.TotalCents,
	}
	refund := *charge
	refund.Operation = connector.OpRefund
	ack, err := sg.submit(ctx, handler.system, charge, &refund)
	if err != nil {
		return err
	}

	receipt := &entity.Receipt{
		ReceiptNumber: firstNonEmpty(ack.Reference, derefString(invoice.Reference)),
		AmountCents:   invoice.DueCents(),
		AppliedCents:  invoice.DueCents(),
		InvoiceID:     &invoice.ID,
		Status:        entity.ReceiptApplied,
		ReceiptDate:   now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repos.Receipts.Create(ctx, receipt); err != nil {
		return err
	}
	invoice.PaidCents += receipt.AppliedCents
	return nil
}

func (s *InvoiceService) GetInvoice(ctx context.Context, id uint64) (*entity.Invoice, error) {
	if id == 0 {
		return nil, ErrInvalidRequest
	}
	invoice, err := s.repos.Invoices.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *InvoiceService) ListInvoices(ctx context.Context, req *types.ListInvoicesRequest) ([]*entity.Invoice, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	filter := repository.InvoiceFilter{
		AccountID:     req.AccountId,
		HasStatus:     req.HasStatus,
		Status:        entity.InvoiceStatus(strings.ToUpper(req.Status)),
		PaymentMethod: entity.PaymentMethod(strings.ToUpper(req.PaymentMethod)),
		Limit:         limit,
		Offset:        req.Offset,
	}
	if filter.HasStatus && !filter.Status.Valid() {
		return nil, ErrInvalidRequest
	}
	return s.repos.Invoices.List(ctx, filter)
}

// Transition applies trigger to the invoice under its row lock. Connector
// steps taken on the way are compensated when the transaction fails.
func (s *InvoiceService) Transition(ctx context.Context, invoiceID uint64, trigger entity.InvoiceTrigger) (*entity.Invoice, error) {
	if invoiceID == 0 || !validTrigger(trigger) {
		return nil, ErrInvalidRequest
	}

	var result *entity.Invoice
	err := s.withSaga(ctx, func(ctx context.Context, sg *saga) error {
		invoice, err := s.lockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		sg.bind(invoice)
		if err := s.applyTrigger(ctx, invoice, trigger, sg, transitionOptions{}); err != nil {
			return err
		}
		result = invoice
		return nil
	})
	if err != nil {
		s.logTransitionFailure(invoiceID, trigger, err)
		return nil, err
	}
	return result, nil
}

type transitionOptions struct {
	// confirmed is set when the external system already moved the money,
	// so no connector call is made.
	confirmed bool
	reason    string
}

func (s *InvoiceService) applyTrigger(ctx context.Context, invoice *entity.Invoice, trigger entity.InvoiceTrigger, sg *saga, opts transitionOptions) error {
	to, ok := NextStatus(invoice.Status, trigger)
	if !ok {
		return invalidTransition(invoice, trigger, "")
	}
	handler, ok := handlerFor(invoice.PaymentMethod)
	if !ok {
		return invalidTransition(invoice, trigger, "unknown payment method")
	}
	if allowed, reason := handler.allows(trigger); !allowed {
		return invalidTransition(invoice, trigger, reason)
	}

	now := s.now()
	from := invoice.Status

	switch trigger {
	case entity.TriggerPay:
		if invoice.PaidCents != invoice.TotalCents {
			return invalidTransition(invoice, trigger, "invoice is not fully paid")
		}
		invoice.PaymentDate = &now
	case entity.TriggerVoid:
		if err := s.voidLocked(ctx, invoice, sg, now); err != nil {
			return err
		}
	case entity.TriggerCredit:
		if err := s.creditLocked(ctx, invoice, now); err != nil {
			return err
		}
	case entity.TriggerRequestRefund:
		if !opts.confirmed {
			if _, err := s.submit(ctx, handler.system, refundRequest(invoice)); err != nil {
				return err
			}
		}
	case entity.TriggerRefund:
		if err := s.refundLocked(ctx, invoice, handler, opts, now); err != nil {
			return err
		}
	case entity.TriggerMarkOverdue:
		if from == entity.InvoicePaid {
			if err := s.reverseReceipts(ctx, invoice, now); err != nil {
				return err
			}
			invoice.PaidCents = 0
			invoice.PaymentDate = nil
		}
	}

	invoice.Status = to
	invoice.UpdatedAt = now
	if err := s.repos.Invoices.Update(ctx, invoice); err != nil {
		return err
	}
	return s.recordEvent(ctx, invoice, "invoice_"+string(trigger), &from, opts.reason)
}

// settleIfCovered pays an invoice whose receipts cover its total, approving
// it first when it is still CREATED.
func (s *InvoiceService) settleIfCovered(ctx context.Context, invoice *entity.Invoice, sg *saga) error {
	if invoice.DueCents() != 0 {
		return nil
	}
	switch invoice.Status {
	case entity.InvoiceCreated:
		if err := s.applyTrigger(ctx, invoice, entity.TriggerApprove, sg, transitionOptions{}); err != nil {
			return err
		}
		return s.applyTrigger(ctx, invoice, entity.TriggerPay, sg, transitionOptions{})
	case entity.InvoiceApproved, entity.InvoiceOverdue:
		return s.applyTrigger(ctx, invoice, entity.TriggerPay, sg, transitionOptions{})
	default:
		return nil
	}
}

func (s *InvoiceService) creditLocked(ctx context.Context, invoice *entity.Invoice, now time.Time) error {
	if err := s.reverseReceipts(ctx, invoice, now); err != nil {
		return err
	}
	account, err := s.repos.Accounts.FindByIDForUpdate(ctx, invoice.AccountID)
	if err != nil {
		return err
	}
	if account == nil {
		return ErrAccountNotFound
	}
	account.CreditCents += invoice.PaidCents
	account.UpdatedAt = now
	return s.repos.Accounts.Update(ctx, account)
}

func (s *InvoiceService) refundLocked(ctx context.Context, invoice *entity.Invoice, handler methodHandler, opts transitionOptions, now time.Time) error {
	switch handler.refund {
	case refundToSource:
		if !opts.confirmed && invoice.Status != entity.InvoiceRefundRequested && invoice.PaidCents > 0 {
			req := refundRequest(invoice)
			if handler.chargesOnline {
				account, err := s.repos.Accounts.FindByID(ctx, invoice.AccountID)
				if err != nil {
					return err
				}
				if account != nil && account.BCOLAccountNumber != nil {
					req.AccountNumber = *account.BCOLAccountNumber
				}
			}
			if _, err := s.submit(ctx, handler.system, req); err != nil {
				return err
			}
		}
		if err := s.reverseReceipts(ctx, invoice, now); err != nil {
			return err
		}
	case refundToRoutingSlip:
		receipts, err := s.repos.Receipts.ListByInvoiceForUpdate(ctx, invoice.ID)
		if err != nil {
			return err
		}
		for _, r := range receipts {
			if r.Status != entity.ReceiptApplied {
				continue
			}
			if r.RoutingSlipID != nil {
				if err := s.releaseToRoutingSlip(ctx, *r.RoutingSlipID, r.AppliedCents, now); err != nil {
					return err
				}
			}
			r.Status = entity.ReceiptReversed
			r.UpdatedAt = now
			if err := s.repos.Receipts.Update(ctx, r); err != nil {
				return err
			}
		}
	case refundLocal:
		if err := s.reverseReceipts(ctx, invoice, now); err != nil {
			return err
		}
	default:
		return invalidTransition(invoice, entity.TriggerRefund, "method is credit only")
	}

	invoice.RefundCents = invoice.PaidCents
	invoice.RefundDate = &now
	return nil
}

// reverseReceipts marks every applied receipt of the invoice reversed. The
// applied amounts are kept for audit.
func (s *InvoiceService) reverseReceipts(ctx context.Context, invoice *entity.Invoice, now time.Time) error {
	receipts, err := s.repos.Receipts.ListByInvoiceForUpdate(ctx, invoice.ID)
	if err != nil {
		return err
	}
	for _, r := range receipts {
		if r.Status != entity.ReceiptApplied {
			continue
		}
		r.Status = entity.ReceiptReversed
		r.UpdatedAt = now
		if err := s.repos.Receipts.Update(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func refundRequest(invoice *entity.Invoice) *connector.Request {
	return &connector.Request{
		Operation:     connector.OpRefund,
		CorrelationID: invoice.CorrelationID,
		Reference:     derefString(invoice.Reference),
		AmountCents:   invoice.PaidCents,
	}
}

func (s *InvoiceService) lockInvoice(ctx context.Context, id uint64) (*entity.Invoice, error) {
	invoice, err := s.repos.Invoices.FindByIDForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *InvoiceService) submit(ctx context.Context, system connector.System, req *connector.Request) (*connector.Ack, error) {
	conn, err := s.connectors.Get(system)
	if err != nil {
		return nil, err
	}
	return conn.Submit(ctx, req)
}

func (s *InvoiceService) recordEvent(ctx context.Context, invoice *entity.Invoice, eventType string, from *entity.InvoiceStatus, reason string) error {
	now := s.now()
	var payload *string
	if reason != "" {
		payload = stringPtr(fmt.Sprintf(`{"reason":%q}`, reason))
	}
	if from != nil && *from == invoice.Status {
		from = nil
	}
	return s.repos.Events.Create(ctx, &entity.InvoiceEvent{
		InvoiceID:      invoice.ID,
		EventType:      eventType,
		OldStatus:      from,
		NewStatus:      invoice.Status,
		CorrelationID:  invoice.CorrelationID,
		PayloadJSON:    payload,
		DeliveryStatus: entity.EventDeliveryPending,
		DeliveryNextAt: &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
}

func (s *InvoiceService) openReview(ctx context.Context, kind entity.ReviewKind, reference, correlationID, reason string, payload *string) {
	now := s.now()
	err := s.repos.Reviews.Create(ctx, &entity.ReviewItem{
		Kind:          kind,
		Reference:     reference,
		CorrelationID: correlationID,
		Reason:        truncate(reason, 1024),
		PayloadJSON:   payload,
		Status:        entity.ReviewOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"kind":      kind,
			"reference": reference,
		}).Error("review_item_create_failed")
	}
}

func (s *InvoiceService) logTransitionFailure(invoiceID uint64, trigger entity.InvoiceTrigger, err error) {
	s.logger.WithFields(logrus.Fields{
		"invoice_id": invoiceID,
		"trigger":    trigger,
		"reason":     err.Error(),
	}).Warn("invoice_transition_failed")
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
