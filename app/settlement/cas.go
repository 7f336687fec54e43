package settlement

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
)

const casDateLayout = "02-Jan-06"

const (
	casRecordType          = "record type"
	casSourceTxnType       = "source transaction type"
	casSourceTxnNumber     = "source transaction number"
	casApplicationID       = "application id"
	casApplicationDate     = "application date"
	casApplicationAmount   = "application amount"
	casCustomerAccount     = "customer account"
	casTargetTxnType       = "target transaction type"
	casTargetTxnNumber     = "target transaction number"
	casTargetOriginal      = "target transaction original amount"
	casTargetOutstanding   = "target transaction outstanding amount"
	casTargetStatus        = "target transaction status"
	casReversalReasonCode  = "reversal reason code"
	casReversalDescription = "reversal reason description"
)

var casRequiredHeaders = []string{casRecordType, casSourceTxnNumber, casApplicationAmount, casTargetTxnNumber}

// ParseCAS reads a CAS settlement CSV. Header names are matched
// case-insensitively.
func ParseCAS(fileName string, content []byte) ([]*Record, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return []*Record{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range casRequiredHeaders {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrMalformedFile, required)
		}
	}

	records := make([]*Record, 0)
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedFile, line, err)
		}
		if isBlankRow(row) {
			continue
		}

		get := func(column string) string {
			i, ok := index[column]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		amount, err := parseCents(get(casApplicationAmount))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		record := &Record{
			Source:         entity.SettlementSourceCAS,
			Reference:      get(casTargetTxnNumber),
			RecordType:     strings.ToUpper(get(casRecordType)),
			TargetStatus:   strings.ToUpper(get(casTargetStatus)),
			AmountCents:    amount,
			ReceiptNumber:  get(casSourceTxnNumber),
			ReversalReason: strings.TrimSpace(get(casReversalReasonCode) + " " + get(casReversalDescription)),
			Fields: map[string]string{
				"file_name":                 fileName,
				"source_transaction_type":   get(casSourceTxnType),
				"customer_account":          get(casCustomerAccount),
				"target_transaction_type":   get(casTargetTxnType),
				"target_original_amount":    get(casTargetOriginal),
				"target_outstanding_amount": get(casTargetOutstanding),
			},
		}
		if d := get(casApplicationDate); d != "" {
			if applied, err := time.Parse(casDateLayout, d); err == nil {
				record.AppliedAt = applied
			}
		}

		appID := get(casApplicationID)
		if appID == "" {
			appID = record.Reference
		}
		record.ExternalID = strings.Join([]string{record.RecordType, record.ReceiptNumber, appID}, ":")

		records = append(records, record)
	}

	return records, nil
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
