package entity

import "time"

type ReceiptStatus string

const (
	ReceiptUnapplied ReceiptStatus = "UNAPPLIED"
	ReceiptApplied   ReceiptStatus = "APPLIED"
	ReceiptReversed  ReceiptStatus = "REVERSED"
)

// Receipt records funds received. It is linked to at most one invoice at a
// time; RoutingSlipID is set when the funds were drawn from a routing slip.
type Receipt struct {
	ID uint64

	ReceiptNumber string
	AmountCents   int64
	AppliedCents  int64

	InvoiceID     *uint64
	RoutingSlipID *uint64

	Status      ReceiptStatus
	ReceiptDate time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r *Receipt) UnappliedCents() int64 {
	return r.AmountCents - r.AppliedCents
}
