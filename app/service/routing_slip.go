package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/repository"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/types"
)

const maxSlipLinkDepth = 5

var routingSlipTransitions = map[entity.RoutingSlipStatus][]entity.RoutingSlipStatus{
	entity.RoutingSlipActive: {
		entity.RoutingSlipHold,
		entity.RoutingSlipNSF,
		entity.RoutingSlipRefundRequested,
		entity.RoutingSlipWriteOffRequested,
		entity.RoutingSlipVoid,
		entity.RoutingSlipCorrection,
	},
	entity.RoutingSlipHold:               {entity.RoutingSlipActive},
	entity.RoutingSlipCorrection:         {entity.RoutingSlipActive},
	entity.RoutingSlipRefundRequested:    {entity.RoutingSlipRefundAuthorized, entity.RoutingSlipActive},
	entity.RoutingSlipRefundAuthorized:   {entity.RoutingSlipRefundProcessed},
	entity.RoutingSlipWriteOffRequested:  {entity.RoutingSlipWriteOffAuthorized, entity.RoutingSlipActive},
	entity.RoutingSlipWriteOffAuthorized: {entity.RoutingSlipWrittenOff},
}

func routingSlipMoveAllowed(from, to entity.RoutingSlipStatus) bool {
	for _, candidate := range routingSlipTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// drainsSlip lists statuses that leave no spendable balance on the slip.
func drainsSlip(status entity.RoutingSlipStatus) bool {
	switch status {
	case entity.RoutingSlipNSF, entity.RoutingSlipWrittenOff, entity.RoutingSlipRefundProcessed, entity.RoutingSlipVoid:
		return true
	default:
		return false
	}
}

// CreateRoutingSlip opens a slip funded by the given cash or cheque
// payments. Each payment is kept as an unapplied funding receipt.
func (s *InvoiceService) CreateRoutingSlip(ctx context.Context, req *types.CreateRoutingSlipRequest) (*entity.RoutingSlip, error) {
	number := strings.TrimSpace(req.Number)
	if number == "" || len(req.Payments) == 0 {
		return nil, ErrInvalidRequest
	}

	now := s.now()
	slipDate := now
	if raw := strings.TrimSpace(req.RoutingSlipDate); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, fmt.Errorf("%w: routing_slip_date must be YYYY-MM-DD", ErrInvalidRequest)
		}
		slipDate = parsed
	}

	var total int64
	for _, p := range req.Payments {
		if p == nil || strings.TrimSpace(p.ReceiptNumber) == "" || p.AmountCents <= 0 {
			return nil, fmt.Errorf("%w: each payment needs a receipt number and a positive amount", ErrInvalidRequest)
		}
		total += p.AmountCents
	}

	slip := &entity.RoutingSlip{
		Number:          number,
		TotalCents:      total,
		RemainingCents:  total,
		Status:          entity.RoutingSlipActive,
		RoutingSlipDate: slipDate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.AccountId > 0 {
		accountID := req.AccountId
		slip.AccountID = &accountID
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repos.RoutingSlips.Create(ctx, slip); err != nil {
			if errors.Is(err, repository.ErrRoutingSlipAlreadyExists) {
				return ErrRoutingSlipAlreadyExists
			}
			return err
		}
		for _, p := range req.Payments {
			receipt := &entity.Receipt{
				ReceiptNumber: strings.TrimSpace(p.ReceiptNumber),
				AmountCents:   p.AmountCents,
				RoutingSlipID: &slip.ID,
				Status:        entity.ReceiptUnapplied,
				ReceiptDate:   slipDate,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := s.repos.Receipts.Create(ctx, receipt); err != nil {
				if errors.Is(err, repository.ErrReceiptAlreadyExists) {
					return ErrReceiptAlreadyExists
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return slip, nil
}

func (s *InvoiceService) GetRoutingSlip(ctx context.Context, number string) (*entity.RoutingSlip, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, ErrInvalidRequest
	}
	slip, err := s.repos.RoutingSlips.FindByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if slip == nil {
		return nil, ErrRoutingSlipNotFound
	}
	return slip, nil
}

func (s *InvoiceService) ChangeRoutingSlipStatus(ctx context.Context, number string, status entity.RoutingSlipStatus) (*entity.RoutingSlip, error) {
	number = strings.TrimSpace(number)
	if number == "" || status == "" {
		return nil, ErrInvalidRequest
	}

	var slip *entity.RoutingSlip
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		slip, err = s.repos.RoutingSlips.FindByNumberForUpdate(ctx, number)
		if err != nil {
			return err
		}
		if slip == nil {
			return ErrRoutingSlipNotFound
		}
		if !routingSlipMoveAllowed(slip.Status, status) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidRoutingSlipStatus, slip.Status, status)
		}
		if status == entity.RoutingSlipVoid {
			receipts, err := s.repos.Receipts.ListByRoutingSlip(ctx, slip.ID)
			if err != nil {
				return err
			}
			for _, r := range receipts {
				if r.InvoiceID != nil && r.Status == entity.ReceiptApplied {
					return fmt.Errorf("%w: routing slip has been drawn on", ErrInvalidRoutingSlipStatus)
				}
			}
		}

		from := slip.Status
		slip.Status = status
		if drainsSlip(status) {
			slip.RemainingCents = 0
		}
		slip.UpdatedAt = s.now()
		if err := s.repos.RoutingSlips.Update(ctx, slip); err != nil {
			return err
		}

		s.logger.WithFields(logrus.Fields{
			"routing_slip": slip.Number,
			"from":         from,
			"to":           status,
		}).Info("routing_slip_status_changed")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return slip, nil
}

// LinkRoutingSlip folds the child's remaining balance into the parent.
// Drawing from a linked slip draws from its parent.
func (s *InvoiceService) LinkRoutingSlip(ctx context.Context, childNumber, parentNumber string) (*entity.RoutingSlip, error) {
	childNumber = strings.TrimSpace(childNumber)
	parentNumber = strings.TrimSpace(parentNumber)
	if childNumber == "" || parentNumber == "" || childNumber == parentNumber {
		return nil, ErrInvalidRequest
	}

	var parent *entity.RoutingSlip
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		// Lock both slips in number order.
		first, second := childNumber, parentNumber
		if second < first {
			first, second = second, first
		}
		locked := make(map[string]*entity.RoutingSlip, 2)
		for _, n := range []string{first, second} {
			slip, err := s.repos.RoutingSlips.FindByNumberForUpdate(ctx, n)
			if err != nil {
				return err
			}
			if slip == nil {
				return ErrRoutingSlipNotFound
			}
			locked[n] = slip
		}
		child := locked[childNumber]
		parent = locked[parentNumber]

		if child.Status != entity.RoutingSlipActive || parent.Status != entity.RoutingSlipActive {
			return fmt.Errorf("%w: only active slips can be linked", ErrInvalidRoutingSlipStatus)
		}
		if child.ParentNumber != nil || parent.ParentNumber != nil {
			return fmt.Errorf("%w: slip is already linked", ErrInvalidRoutingSlipStatus)
		}
		receipts, err := s.repos.Receipts.ListByRoutingSlip(ctx, child.ID)
		if err != nil {
			return err
		}
		for _, r := range receipts {
			if r.InvoiceID != nil {
				return fmt.Errorf("%w: child slip has transactions", ErrInvalidRoutingSlipStatus)
			}
		}

		now := s.now()
		parent.TotalCents += child.RemainingCents
		parent.RemainingCents += child.RemainingCents
		parent.UpdatedAt = now
		child.RemainingCents = 0
		child.Status = entity.RoutingSlipLinked
		child.ParentNumber = &parent.Number
		child.UpdatedAt = now

		if err := s.repos.RoutingSlips.Update(ctx, child); err != nil {
			return err
		}
		return s.repos.RoutingSlips.Update(ctx, parent)
	})
	if err != nil {
		return nil, err
	}
	return parent, nil
}

// drawFromRoutingSlip funds the whole invoice from its routing slip through
// one applied receipt.
func (s *InvoiceService) drawFromRoutingSlip(ctx context.Context, invoice *entity.Invoice, now time.Time) error {
	slip, err := s.repos.RoutingSlips.FindByNumberForUpdate(ctx, derefString(invoice.RoutingSlip))
	if err != nil {
		return err
	}
	for depth := 0; slip != nil && slip.Status == entity.RoutingSlipLinked && slip.ParentNumber != nil; depth++ {
		if depth >= maxSlipLinkDepth {
			return fmt.Errorf("%w: routing slip link chain too deep", ErrInvalidRoutingSlipStatus)
		}
		slip, err = s.repos.RoutingSlips.FindByNumberForUpdate(ctx, *slip.ParentNumber)
		if err != nil {
			return err
		}
	}
	if slip == nil {
		return ErrRoutingSlipNotFound
	}
	if slip.Status != entity.RoutingSlipActive {
		return fmt.Errorf("%w: routing slip %s is %s", ErrInvalidRoutingSlipStatus, slip.Number, slip.Status)
	}
	if slip.RemainingCents < invoice.TotalCents {
		return fmt.Errorf("%w: routing slip %s has %d cents, invoice needs %d", ErrInsufficientFunds, slip.Number, slip.RemainingCents, invoice.TotalCents)
	}

	slip.RemainingCents -= invoice.TotalCents
	if slip.RemainingCents == 0 {
		slip.Status = entity.RoutingSlipComplete
	}
	slip.UpdatedAt = now
	if err := s.repos.RoutingSlips.Update(ctx, slip); err != nil {
		return err
	}

	receipt := &entity.Receipt{
		ReceiptNumber: fmt.Sprintf("%s-%d", slip.Number, invoice.ID),
		AmountCents:   invoice.TotalCents,
		AppliedCents:  invoice.TotalCents,
		InvoiceID:     &invoice.ID,
		RoutingSlipID: &slip.ID,
		Status:        entity.ReceiptApplied,
		ReceiptDate:   now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repos.Receipts.Create(ctx, receipt); err != nil {
		return err
	}
	invoice.PaidCents += invoice.TotalCents
	return nil
}

// releaseToRoutingSlip returns amount to the slip it was drawn from. Slips
// that were drained (NSF, written off, refunded, void) keep a zero balance.
func (s *InvoiceService) releaseToRoutingSlip(ctx context.Context, slipID uint64, amount int64, now time.Time) error {
	if amount <= 0 {
		return nil
	}
	slip, err := s.repos.RoutingSlips.FindByIDForUpdate(ctx, slipID)
	if err != nil {
		return err
	}
	if slip == nil {
		return ErrRoutingSlipNotFound
	}
	if drainsSlip(slip.Status) {
		s.logger.WithFields(logrus.Fields{
			"routing_slip": slip.Number,
			"status":       slip.Status,
			"amount_cents": amount,
		}).Warn("routing_slip_release_skipped")
		return nil
	}
	if slip.RemainingCents+amount > slip.TotalCents {
		return mismatch("routing slip %s would exceed its total", slip.Number)
	}

	slip.RemainingCents += amount
	if slip.Status == entity.RoutingSlipComplete {
		slip.Status = entity.RoutingSlipActive
	}
	slip.UpdatedAt = now
	return s.repos.RoutingSlips.Update(ctx, slip)
}
