package settlement

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
)

const DefaultSignatureToleranceSeconds = 300

type PayBCNotification struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		InvoiceNumber string `json:"invoice_number"`
		TransactionID string `json:"transaction_id"`
		ReceiptNumber string `json:"receipt_number"`
		Amount        string `json:"amount"`
		Reason        string `json:"reason"`
		Date          string `json:"transaction_date"`
	} `json:"data"`
}

// ParsePayBCNotification verifies the signature header and converts the
// notification into a settlement record.
func ParsePayBCNotification(payload []byte, signature, secret string, toleranceSeconds int64, now time.Time) (*Record, error) {
	if toleranceSeconds <= 0 {
		toleranceSeconds = DefaultSignatureToleranceSeconds
	}
	if !VerifySignature(payload, signature, secret, toleranceSeconds, now) {
		return nil, ErrInvalidSignature
	}

	var n PayBCNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	n.ID = strings.TrimSpace(n.ID)
	reference := strings.TrimSpace(n.Data.InvoiceNumber)
	if n.ID == "" || reference == "" {
		return nil, fmt.Errorf("%w: id and invoice_number are required", ErrInvalidPayload)
	}

	amount, err := parseCents(n.Data.Amount)
	if err != nil {
		return nil, err
	}

	var recordType string
	switch n.Type {
	case "payment.completed":
		recordType = "PAYMENT"
	case "refund.completed":
		recordType = "REFUND"
	case "payment.reversed":
		recordType = "REVERSAL"
	default:
		recordType = strings.ToUpper(n.Type)
	}

	record := &Record{
		Source:         entity.SettlementSourcePayBC,
		ExternalID:     n.ID,
		Reference:      reference,
		RecordType:     recordType,
		TargetStatus:   TargetPaid,
		AmountCents:    amount,
		ReceiptNumber:  strings.TrimSpace(n.Data.ReceiptNumber),
		ReversalReason: strings.TrimSpace(n.Data.Reason),
		Fields: map[string]string{
			"event_type":     n.Type,
			"transaction_id": strings.TrimSpace(n.Data.TransactionID),
		},
	}
	if record.ReceiptNumber == "" {
		record.ReceiptNumber = record.Fields["transaction_id"]
	}
	if n.Data.Date != "" {
		if at, err := time.Parse(time.RFC3339, n.Data.Date); err == nil {
			record.AppliedAt = at
		}
	}
	return record, nil
}

// VerifySignature checks a "t=<unix>,v1=<hex hmac>" header against the
// payload. Multiple v1 entries are accepted during secret rotation.
func VerifySignature(payload []byte, signatureHeader, secret string, toleranceSeconds int64, now time.Time) bool {
	signatureHeader = strings.TrimSpace(signatureHeader)
	if signatureHeader == "" || strings.TrimSpace(secret) == "" {
		return false
	}

	var ts string
	v1 := make([]string, 0, 1)
	for _, part := range strings.Split(signatureHeader, ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "t=") {
			ts = strings.TrimSpace(strings.TrimPrefix(part, "t="))
		}
		if strings.HasPrefix(part, "v1=") {
			v1 = append(v1, strings.TrimSpace(strings.TrimPrefix(part, "v1=")))
		}
	}
	if ts == "" || len(v1) == 0 {
		return false
	}

	tsUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	nowUnix := now.Unix()
	if nowUnix-tsUnix > toleranceSeconds || tsUnix-nowUnix > toleranceSeconds {
		return false
	}

	expected := Sign(payload, ts, secret)
	for _, sig := range v1 {
		candidate, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(candidate, expected) {
			return true
		}
	}
	return false
}

func Sign(payload []byte, ts, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(ts + "." + string(payload)))
	return mac.Sum(nil)
}
