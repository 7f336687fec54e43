package connector

import "context"

type System string

const (
	SystemCFS   System = "CFS"
	SystemBCOL  System = "BCOL"
	SystemPayBC System = "PAYBC"
	SystemEJV   System = "EJV"
)

type Operation string

const (
	OpCreateParty         Operation = "create_party"
	OpCreateAccount       Operation = "create_account"
	OpCreateSite          Operation = "create_site"
	OpCreateInvoice       Operation = "create_invoice"
	OpAdjustInvoice       Operation = "adjust_invoice"
	OpCreateReceipt       Operation = "create_receipt"
	OpApplyReceipt        Operation = "apply_receipt"
	OpUnapplyReceipt      Operation = "unapply_receipt"
	OpAdjustReceipt       Operation = "adjust_receipt"
	OpReverseReceipt      Operation = "reverse_receipt"
	OpCharge              Operation = "charge"
	OpRefund              Operation = "refund"
	OpTransactionStatus   Operation = "transaction_status"
	OpDisburse            Operation = "disburse"
	OpReverseDisbursement Operation = "reverse_disbursement"
)

type Line struct {
	Description string
	AmountCents int64
	Quantity    int32
}

// Request is one outbound call. CorrelationID ties the call back to the
// originating invoice or receipt in logs.
type Request struct {
	Operation     Operation
	CorrelationID string

	Reference     string
	PartyNumber   string
	AccountNumber string
	SiteNumber    string
	ReceiptNumber string

	AmountCents int64
	Lines       []Line

	Attributes map[string]string
}

func (r *Request) Attr(key string) string {
	if r == nil || r.Attributes == nil {
		return ""
	}
	return r.Attributes[key]
}

type Ack struct {
	System    System
	Operation Operation
	Reference string
	Status    string
	Raw       []byte
}

type Connector interface {
	System() System
	Submit(ctx context.Context, req *Request) (*Ack, error)
}
