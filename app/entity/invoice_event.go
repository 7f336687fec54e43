package entity

import "time"

const (
	EventDeliveryPending int32 = 1
	EventDeliverySuccess int32 = 10
	EventDeliveryFailed  int32 = 20
)

// InvoiceEvent is an outbox row written in the same transaction as the
// state change it describes.
type InvoiceEvent struct {
	ID uint64

	InvoiceID uint64
	EventType string

	OldStatus *InvoiceStatus
	NewStatus InvoiceStatus

	CorrelationID string
	PayloadJSON   *string

	DeliveryStatus   int32
	DeliveryAttempts int32
	DeliveryNextAt   *time.Time
	DeliveryLastErr  *string

	CreatedAt time.Time
	UpdatedAt time.Time
}
