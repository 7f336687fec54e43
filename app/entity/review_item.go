package entity

import "time"

type ReviewKind string

const (
	ReviewSettlementMismatch  ReviewKind = "SETTLEMENT_MISMATCH"
	ReviewConnectorFailure    ReviewKind = "CONNECTOR_FAILURE"
	ReviewCompensationFailure ReviewKind = "COMPENSATION_FAILURE"
)

const (
	ReviewOpen     = "OPEN"
	ReviewResolved = "RESOLVED"
)

type ReviewItem struct {
	ID uint64

	Kind          ReviewKind
	Reference     string
	CorrelationID string
	Reason        string
	PayloadJSON   *string
	Status        string

	CreatedAt time.Time
	UpdatedAt time.Time
}
