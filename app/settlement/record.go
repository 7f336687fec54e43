// Package settlement parses feedback from external financial systems into
// records the reconciler can match against invoices and routing slips.
package settlement

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
)

var (
	ErrMalformedFile    = errors.New("malformed settlement file")
	ErrInvalidAmount    = errors.New("invalid settlement amount")
	ErrInvalidPayload   = errors.New("invalid settlement payload")
	ErrInvalidSignature = errors.New("invalid notification signature")
)

type Action string

const (
	ActionPayment              Action = "PAYMENT"
	ActionReversal             Action = "REVERSAL"
	ActionOnAccount            Action = "ON_ACCOUNT"
	ActionCredit               Action = "CREDIT"
	ActionRefund               Action = "REFUND"
	ActionDisbursed            Action = "DISBURSED"
	ActionDisbursementRejected Action = "DISBURSEMENT_REJECTED"
	ActionRecordOnly           Action = "RECORD_ONLY"
	ActionUnknown              Action = ""
)

const (
	TargetPaid    = "PAID"
	TargetNotPaid = "NOT PAID"
	TargetPartial = "PARTIAL"
)

// Record is one parsed feedback line. ExternalID is stable across replays
// of the same file.
type Record struct {
	Source     entity.SettlementSource
	ExternalID string
	Reference  string
	RecordType string

	TargetStatus  string
	AmountCents   int64
	ReceiptNumber string
	AppliedAt     time.Time

	ReversalReason string
	Fields         map[string]string
}

func (r *Record) Action() Action {
	switch r.Source {
	case entity.SettlementSourceCAS:
		switch r.RecordType {
		case "PAD", "BOLP", "EFTP", "DRWP":
			if r.TargetStatus == TargetNotPaid {
				return ActionRecordOnly
			}
			return ActionPayment
		case "PADR", "PAYR":
			return ActionReversal
		case "ONAC":
			return ActionOnAccount
		case "CMAP":
			return ActionCredit
		case "ADJS":
			return ActionRecordOnly
		}
	case entity.SettlementSourceBCOL:
		switch r.RecordType {
		case "PAID":
			return ActionPayment
		case "RJCT":
			return ActionReversal
		case "RFND":
			return ActionRefund
		}
	case entity.SettlementSourceEJV:
		switch r.RecordType {
		case "DISB":
			return ActionDisbursed
		case "DREJ":
			return ActionDisbursementRejected
		}
	case entity.SettlementSourcePayBC:
		switch r.RecordType {
		case "PAYMENT":
			return ActionPayment
		case "REFUND":
			return ActionRefund
		case "REVERSAL":
			return ActionReversal
		}
	}
	return ActionUnknown
}

// parseCents converts a decimal dollar string to cents, rejecting
// sub-cent precision.
func parseCents(raw string) (int64, error) {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	if raw == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	cents := d.Shift(2)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("%w: %q has sub-cent precision", ErrInvalidAmount, raw)
	}
	return cents.IntPart(), nil
}
