package entity

import "time"

type InvoiceStatus string

const (
	InvoiceCreated         InvoiceStatus = "CREATED"
	InvoiceApproved        InvoiceStatus = "APPROVED"
	InvoicePaid            InvoiceStatus = "PAID"
	InvoiceCancelled       InvoiceStatus = "CANCELLED"
	InvoiceCredited        InvoiceStatus = "CREDITED"
	InvoiceRefunded        InvoiceStatus = "REFUNDED"
	InvoiceRefundRequested InvoiceStatus = "REFUND_REQUESTED"
	InvoiceOverdue         InvoiceStatus = "OVERDUE"
)

func (s InvoiceStatus) Terminal() bool {
	switch s {
	case InvoiceCancelled, InvoiceCredited, InvoiceRefunded:
		return true
	default:
		return false
	}
}

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceCreated, InvoiceApproved, InvoicePaid, InvoiceCancelled,
		InvoiceCredited, InvoiceRefunded, InvoiceRefundRequested, InvoiceOverdue:
		return true
	default:
		return false
	}
}

type InvoiceTrigger string

const (
	TriggerApprove       InvoiceTrigger = "approve"
	TriggerPay           InvoiceTrigger = "pay"
	TriggerVoid          InvoiceTrigger = "void"
	TriggerCredit        InvoiceTrigger = "credit"
	TriggerRequestRefund InvoiceTrigger = "request_refund"
	TriggerRefund        InvoiceTrigger = "refund"
	TriggerMarkOverdue   InvoiceTrigger = "mark_overdue"
)

type DisbursementStatus string

const (
	DisbursementNone         DisbursementStatus = ""
	DisbursementAcknowledged DisbursementStatus = "ACKNOWLEDGED"
	DisbursementCompleted    DisbursementStatus = "COMPLETED"
	DisbursementErrored      DisbursementStatus = "ERRORED"
	DisbursementReversed     DisbursementStatus = "REVERSED"
)

type LineItemStatus string

const (
	LineItemActive    LineItemStatus = "ACTIVE"
	LineItemCancelled LineItemStatus = "CANCELLED"
)

type Invoice struct {
	ID        uint64
	AccountID uint64

	RequestID     string
	Reference     *string
	CorrelationID string

	TotalCents       int64
	ServiceFeesCents int64
	PaidCents        int64
	RefundCents      int64

	Status        InvoiceStatus
	PaymentMethod PaymentMethod
	RoutingSlip   *string

	PaymentDate *time.Time
	RefundDate  *time.Time

	DisbursementStatus DisbursementStatus
	DisbursementDate   *time.Time
	// DisbursedCents is what the partner currently holds: the amount sent
	// less any reversals.
	DisbursedCents int64

	CreatedAt time.Time
	UpdatedAt time.Time

	LineItems []*LineItem
}

func (i *Invoice) DueCents() int64 {
	return i.TotalCents - i.PaidCents
}

// ActiveLineTotal sums the totals of line items that are not cancelled.
func (i *Invoice) ActiveLineTotal() int64 {
	var sum int64
	for _, item := range i.LineItems {
		if item != nil && item.Status == LineItemActive {
			sum += item.TotalCents
		}
	}
	return sum
}

type LineItem struct {
	ID        uint64
	InvoiceID uint64

	Description      string
	FilingFeesCents  int64
	Quantity         int32
	GSTCents         int64
	PSTCents         int64
	ServiceFeesCents int64
	TotalCents       int64

	Status LineItemStatus
}

func (l *LineItem) ComputeTotal() int64 {
	qty := int64(l.Quantity)
	if qty <= 0 {
		qty = 1
	}
	return l.FilingFeesCents*qty + l.GSTCents + l.PSTCents + l.ServiceFeesCents
}
