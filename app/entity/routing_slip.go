package entity

import "time"

type RoutingSlipStatus string

const (
	RoutingSlipActive             RoutingSlipStatus = "ACTIVE"
	RoutingSlipComplete           RoutingSlipStatus = "COMPLETE"
	RoutingSlipHold               RoutingSlipStatus = "HOLD"
	RoutingSlipLinked             RoutingSlipStatus = "LINKED"
	RoutingSlipNSF                RoutingSlipStatus = "NSF"
	RoutingSlipRefundRequested    RoutingSlipStatus = "REFUND_REQUESTED"
	RoutingSlipRefundAuthorized   RoutingSlipStatus = "REFUND_AUTHORIZED"
	RoutingSlipRefundProcessed    RoutingSlipStatus = "REFUND_PROCESSED"
	RoutingSlipWriteOffRequested  RoutingSlipStatus = "WRITE_OFF_REQUESTED"
	RoutingSlipWriteOffAuthorized RoutingSlipStatus = "WRITE_OFF_AUTHORIZED"
	RoutingSlipWrittenOff         RoutingSlipStatus = "WRITTEN_OFF"
	RoutingSlipVoid               RoutingSlipStatus = "VOID"
	RoutingSlipCorrection         RoutingSlipStatus = "CORRECTION"
)

type RoutingSlip struct {
	ID uint64

	Number       string
	ParentNumber *string
	AccountID    *uint64

	TotalCents     int64
	RemainingCents int64

	Status          RoutingSlipStatus
	RoutingSlipDate time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
