package entity

import "time"

type SettlementSource string

const (
	SettlementSourceCAS   SettlementSource = "CAS"
	SettlementSourceBCOL  SettlementSource = "BCOL"
	SettlementSourcePayBC SettlementSource = "PAYBC"
	SettlementSourceEJV   SettlementSource = "EJV"
)

func (s SettlementSource) Valid() bool {
	switch s {
	case SettlementSourceCAS, SettlementSourceBCOL, SettlementSourcePayBC, SettlementSourceEJV:
		return true
	default:
		return false
	}
}

const (
	SettlementProcessed = "PROCESSED"
	SettlementParked    = "PARKED"
)

// SettlementRecord is a persisted feedback line. (Source, ExternalID) is unique.
type SettlementRecord struct {
	ID uint64

	Source     SettlementSource
	ExternalID string
	Reference  string
	RecordType string

	TargetStatus string
	AmountCents  int64
	FileName     string

	ProcessingStatus string
	Reason           *string
	PayloadJSON      string
	Attempts         int32

	CreatedAt time.Time
	UpdatedAt time.Time
}

type SettlementFile struct {
	ID uint64

	FileName    string
	Source      SettlementSource
	RecordCount int32
	ParkedCount int32

	ProcessedAt time.Time
}
