package service

import (
	"errors"
	"fmt"

	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
)

var (
	ErrInvalidRequest            = errors.New("invalid request")
	ErrAccountNotFound           = errors.New("account not found")
	ErrInvoiceNotFound           = errors.New("invoice not found")
	ErrReceiptNotFound           = errors.New("receipt not found")
	ErrReceiptAlreadyExists      = errors.New("receipt already exists")
	ErrReceiptAlreadyApplied     = errors.New("receipt is applied to another invoice")
	ErrRoutingSlipNotFound       = errors.New("routing slip not found")
	ErrRoutingSlipAlreadyExists  = errors.New("routing slip already exists")
	ErrInvalidRoutingSlipStatus  = errors.New("invalid routing slip status change")
	ErrInvalidTransition         = errors.New("invalid transition")
	ErrReconciliationMismatch    = errors.New("reconciliation mismatch")
	ErrInsufficientFunds         = errors.New("insufficient funds")
	ErrCompensationFailed        = errors.New("compensation failed")
	ErrPaymentMethodUnsupported  = errors.New("payment method is not supported for this account")
	ErrNotificationRejected      = errors.New("notification rejected")
	ErrSettlementSourceUndefined = errors.New("settlement source could not be determined")
)

// InvalidTransitionError reports a trigger that is not allowed from the
// invoice's current status.
type InvalidTransitionError struct {
	InvoiceID uint64
	From      entity.InvoiceStatus
	Trigger   entity.InvoiceTrigger
	Reason    string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("invalid transition: %s from %s", e.Trigger, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func invalidTransition(invoice *entity.Invoice, trigger entity.InvoiceTrigger, reason string) error {
	return &InvalidTransitionError{InvoiceID: invoice.ID, From: invoice.Status, Trigger: trigger, Reason: reason}
}

func mismatch(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrReconciliationMismatch, fmt.Sprintf(format, args...))
}
