package entity

import "time"

type Statement struct {
	ID uint64

	AccountID uint64
	Frequency StatementFrequency
	FromDate  time.Time
	ToDate    time.Time

	InvoiceCount int32
	TotalCents   int64

	CreatedAt time.Time
}
