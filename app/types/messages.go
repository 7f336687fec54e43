package types

// Request and response messages shared by the HTTP and gRPC surfaces.

type LineItemRequest struct {
	Description      string `json:"description"`
	FilingFeesCents  int64  `json:"filing_fees_cents"`
	Quantity         int32  `json:"quantity"`
	GstCents         int64  `json:"gst_cents"`
	PstCents         int64  `json:"pst_cents"`
	ServiceFeesCents int64  `json:"service_fees_cents"`
}

type CreateInvoiceRequest struct {
	RequestId     string             `json:"request_id"`
	AccountId     uint64             `json:"account_id"`
	PaymentMethod string             `json:"payment_method"`
	RoutingSlip   string             `json:"routing_slip"`
	LineItems     []*LineItemRequest `json:"line_items"`
}

type GetInvoiceRequest struct {
	Id uint64 `json:"id"`
}

type ListInvoicesRequest struct {
	AccountId     uint64 `json:"account_id"`
	HasStatus     bool   `json:"has_status"`
	Status        string `json:"status"`
	PaymentMethod string `json:"payment_method"`
	Limit         int32  `json:"limit"`
	Offset        int32  `json:"offset"`
}

type TransitionInvoiceRequest struct {
	Id      uint64 `json:"id"`
	Trigger string `json:"trigger"`
}

type PartialCancelRequest struct {
	Id          uint64   `json:"id"`
	LineItemIds []uint64 `json:"line_item_ids"`
}

type CreateReceiptRequest struct {
	ReceiptNumber string `json:"receipt_number"`
	AmountCents   int64  `json:"amount_cents"`
	ReceiptDate   string `json:"receipt_date"`
}

type ApplyReceiptRequest struct {
	ReceiptId uint64 `json:"receipt_id"`
	InvoiceId uint64 `json:"invoice_id"`
}

type RoutingSlipPaymentRequest struct {
	ReceiptNumber string `json:"receipt_number"`
	AmountCents   int64  `json:"amount_cents"`
}

type CreateRoutingSlipRequest struct {
	Number          string                       `json:"number"`
	AccountId       uint64                       `json:"account_id"`
	RoutingSlipDate string                       `json:"routing_slip_date"`
	Payments        []*RoutingSlipPaymentRequest `json:"payments"`
}

type ChangeRoutingSlipStatusRequest struct {
	Number string `json:"number"`
	Status string `json:"status"`
}

type LinkRoutingSlipRequest struct {
	Number       string `json:"number"`
	ParentNumber string `json:"parent_number"`
}

type CreateAccountRequest struct {
	Name               string `json:"name"`
	PaymentMethod      string `json:"payment_method"`
	Billable           bool   `json:"billable"`
	BcolAccountNumber  string `json:"bcol_account_number"`
	StatementFrequency string `json:"statement_frequency"`
}

type PayBCNotificationRequest struct {
	Signature string `json:"-"`
	Payload   []byte `json:"-"`
}

type LineItemResponse struct {
	Id               uint64 `json:"id"`
	Description      string `json:"description"`
	FilingFeesCents  int64  `json:"filing_fees_cents"`
	Quantity         int32  `json:"quantity"`
	GstCents         int64  `json:"gst_cents"`
	PstCents         int64  `json:"pst_cents"`
	ServiceFeesCents int64  `json:"service_fees_cents"`
	TotalCents       int64  `json:"total_cents"`
	Status           string `json:"status"`
}

type Invoice struct {
	Id                 uint64              `json:"id"`
	AccountId          uint64              `json:"account_id"`
	RequestId          string              `json:"request_id"`
	Reference          string              `json:"reference,omitempty"`
	CorrelationId      string              `json:"correlation_id"`
	TotalCents         int64               `json:"total_cents"`
	ServiceFeesCents   int64               `json:"service_fees_cents"`
	PaidCents          int64               `json:"paid_cents"`
	RefundCents        int64               `json:"refund_cents"`
	Status             string              `json:"status"`
	PaymentMethod      string              `json:"payment_method"`
	RoutingSlip        string              `json:"routing_slip,omitempty"`
	PaymentDate        string              `json:"payment_date,omitempty"`
	RefundDate         string              `json:"refund_date,omitempty"`
	DisbursementStatus string              `json:"disbursement_status,omitempty"`
	CreatedAt          string              `json:"created_at"`
	UpdatedAt          string              `json:"updated_at"`
	LineItems          []*LineItemResponse `json:"line_items"`
}

type InvoiceEnvelopeResponse struct {
	Invoice *Invoice `json:"invoice"`
}

type ListInvoicesResponse struct {
	Invoices []*Invoice `json:"invoices"`
}

type Receipt struct {
	Id             uint64 `json:"id"`
	ReceiptNumber  string `json:"receipt_number"`
	AmountCents    int64  `json:"amount_cents"`
	AppliedCents   int64  `json:"applied_cents"`
	UnappliedCents int64  `json:"unapplied_cents"`
	InvoiceId      uint64 `json:"invoice_id,omitempty"`
	RoutingSlipId  uint64 `json:"routing_slip_id,omitempty"`
	Status         string `json:"status"`
	ReceiptDate    string `json:"receipt_date"`
}

type ReceiptEnvelopeResponse struct {
	Receipt *Receipt `json:"receipt"`
	Invoice *Invoice `json:"invoice,omitempty"`
}

type RoutingSlip struct {
	Id              uint64 `json:"id"`
	Number          string `json:"number"`
	ParentNumber    string `json:"parent_number,omitempty"`
	TotalCents      int64  `json:"total_cents"`
	RemainingCents  int64  `json:"remaining_cents"`
	Status          string `json:"status"`
	RoutingSlipDate string `json:"routing_slip_date"`
}

type RoutingSlipEnvelopeResponse struct {
	RoutingSlip *RoutingSlip `json:"routing_slip"`
}

type Account struct {
	Id                 uint64 `json:"id"`
	Name               string `json:"name"`
	PaymentMethod      string `json:"payment_method"`
	Billable           bool   `json:"billable"`
	CfsStatus          string `json:"cfs_status"`
	CfsAccountNumber   string `json:"cfs_account_number,omitempty"`
	PadActivationDate  string `json:"pad_activation_date,omitempty"`
	BcolAccountNumber  string `json:"bcol_account_number,omitempty"`
	CreditCents        int64  `json:"credit_cents"`
	StatementFrequency string `json:"statement_frequency"`
}

type AccountEnvelopeResponse struct {
	Account *Account `json:"account"`
}

type NotificationResponse struct {
	Outcome string `json:"outcome"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type GetReceiptRequest struct {
	Id uint64 `json:"id"`
}

type GetRoutingSlipRequest struct {
	Number string `json:"number"`
}

type GetAccountRequest struct {
	Id uint64 `json:"id"`
}

type HealthRequest struct{}
