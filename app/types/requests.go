package types

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	maxListLimit = 500

	SignatureHeader = "PayBC-Signature"
)

var paymentMethods = map[string]bool{
	"PAD": true, "DRAWDOWN": true, "CC": true, "EFT": true, "EJV": true,
	"CASH": true, "CHEQUE": true, "WIRE": true, "ONLINE_BANKING": true,
}

var invoiceStatuses = map[string]bool{
	"CREATED": true, "APPROVED": true, "PAID": true, "CANCELLED": true,
	"CREDITED": true, "REFUNDED": true, "REFUND_REQUESTED": true, "OVERDUE": true,
}

var invoiceTriggers = map[string]bool{
	"approve": true, "pay": true, "void": true, "credit": true,
	"request_refund": true, "refund": true, "mark_overdue": true,
}

func parseIDParam(ctx echo.Context, name string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(ctx.Param(name)), 10, 64)
}

func NewCreateInvoiceRequestFromContext(ctx echo.Context) (*CreateInvoiceRequest, error) {
	var body CreateInvoiceRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.RequestId = strings.TrimSpace(body.RequestId)
	if body.RequestId == "" {
		body.RequestId = strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
	}
	body.PaymentMethod = strings.ToUpper(strings.TrimSpace(body.PaymentMethod))
	body.RoutingSlip = strings.TrimSpace(body.RoutingSlip)
	for _, li := range body.LineItems {
		if li != nil {
			li.Description = strings.TrimSpace(li.Description)
		}
	}

	return &body, nil
}

func (r *CreateInvoiceRequest) Validate() error {
	if strings.TrimSpace(r.RequestId) == "" {
		return errors.New("request_id is required")
	}
	if r.AccountId == 0 {
		return errors.New("account_id is required")
	}
	if r.PaymentMethod != "" && !paymentMethods[r.PaymentMethod] {
		return errors.New("payment_method is invalid")
	}
	if (r.PaymentMethod == "CASH" || r.PaymentMethod == "CHEQUE") && r.RoutingSlip == "" {
		return errors.New("routing_slip is required for cash and cheque")
	}
	if len(r.LineItems) == 0 {
		return errors.New("line_items must not be empty")
	}
	for _, li := range r.LineItems {
		if li == nil || strings.TrimSpace(li.Description) == "" {
			return errors.New("line item description is required")
		}
		if li.FilingFeesCents < 0 || li.GstCents < 0 || li.PstCents < 0 || li.ServiceFeesCents < 0 {
			return errors.New("line item amounts must be >= 0")
		}
		if li.Quantity < 0 {
			return errors.New("line item quantity must be >= 0")
		}
	}
	return nil
}

func NewGetInvoiceRequestFromContext(ctx echo.Context) (*GetInvoiceRequest, error) {
	id, err := parseIDParam(ctx, "id")
	if err != nil {
		return nil, err
	}
	return &GetInvoiceRequest{Id: id}, nil
}

func (r *GetInvoiceRequest) Validate() error {
	if r.Id == 0 {
		return errors.New("invalid invoice id")
	}
	return nil
}

func NewListInvoicesRequestFromContext(ctx echo.Context) (*ListInvoicesRequest, error) {
	req := &ListInvoicesRequest{
		PaymentMethod: strings.ToUpper(strings.TrimSpace(ctx.QueryParam("payment_method"))),
		Limit:         100,
	}

	if raw := strings.TrimSpace(ctx.QueryParam("account_id")); raw != "" {
		accountID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		req.AccountId = accountID
	}
	if raw := strings.TrimSpace(ctx.QueryParam("status")); raw != "" {
		req.HasStatus = true
		req.Status = strings.ToUpper(raw)
	}
	if raw := strings.TrimSpace(ctx.QueryParam("limit")); raw != "" {
		limit, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Limit = int32(limit)
	}
	if raw := strings.TrimSpace(ctx.QueryParam("offset")); raw != "" {
		offset, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Offset = int32(offset)
	}

	return req, nil
}

func (r *ListInvoicesRequest) Validate() error {
	if r.Limit == 0 {
		r.Limit = 100
	}
	if r.Limit <= 0 || r.Limit > maxListLimit {
		return errors.New("limit must be between 1 and 500")
	}
	if r.Offset < 0 {
		return errors.New("offset must be >= 0")
	}
	if r.HasStatus && !invoiceStatuses[r.Status] {
		return errors.New("invalid status")
	}
	if r.PaymentMethod != "" && !paymentMethods[r.PaymentMethod] {
		return errors.New("invalid payment_method")
	}
	return nil
}

// NewTransitionInvoiceRequestFromContext reads the trigger from the route
// when the route names one, otherwise from the body.
func NewTransitionInvoiceRequestFromContext(ctx echo.Context, trigger string) (*TransitionInvoiceRequest, error) {
	id, err := parseIDParam(ctx, "id")
	if err != nil {
		return nil, err
	}

	var body TransitionInvoiceRequest
	if trigger == "" {
		if err := ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		trigger = body.Trigger
	}
	body.Id = id
	body.Trigger = strings.ToLower(strings.TrimSpace(trigger))
	return &body, nil
}

func (r *TransitionInvoiceRequest) Validate() error {
	if r.Id == 0 {
		return errors.New("invalid invoice id")
	}
	if !invoiceTriggers[r.Trigger] {
		return errors.New("invalid trigger")
	}
	return nil
}

func NewPartialCancelRequestFromContext(ctx echo.Context) (*PartialCancelRequest, error) {
	id, err := parseIDParam(ctx, "id")
	if err != nil {
		return nil, err
	}
	var body PartialCancelRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.Id = id
	return &body, nil
}

func (r *PartialCancelRequest) Validate() error {
	if r.Id == 0 {
		return errors.New("invalid invoice id")
	}
	if len(r.LineItemIds) == 0 {
		return errors.New("line_item_ids must not be empty")
	}
	seen := make(map[uint64]bool, len(r.LineItemIds))
	for _, id := range r.LineItemIds {
		if id == 0 || seen[id] {
			return errors.New("line_item_ids must be unique and non-zero")
		}
		seen[id] = true
	}
	return nil
}

func NewCreateReceiptRequestFromContext(ctx echo.Context) (*CreateReceiptRequest, error) {
	var body CreateReceiptRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.ReceiptNumber = strings.TrimSpace(body.ReceiptNumber)
	body.ReceiptDate = strings.TrimSpace(body.ReceiptDate)
	return &body, nil
}

func (r *CreateReceiptRequest) Validate() error {
	if r.ReceiptNumber == "" {
		return errors.New("receipt_number is required")
	}
	if r.AmountCents <= 0 {
		return errors.New("amount_cents must be > 0")
	}
	return nil
}

func NewGetReceiptRequestFromContext(ctx echo.Context) (*GetReceiptRequest, error) {
	id, err := parseIDParam(ctx, "id")
	if err != nil {
		return nil, err
	}
	return &GetReceiptRequest{Id: id}, nil
}

func (r *GetReceiptRequest) Validate() error {
	if r.Id == 0 {
		return errors.New("invalid receipt id")
	}
	return nil
}

func NewApplyReceiptRequestFromContext(ctx echo.Context) (*ApplyReceiptRequest, error) {
	id, err := parseIDParam(ctx, "id")
	if err != nil {
		return nil, err
	}
	var body ApplyReceiptRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.ReceiptId = id
	return &body, nil
}

func (r *ApplyReceiptRequest) Validate() error {
	if r.ReceiptId == 0 {
		return errors.New("invalid receipt id")
	}
	if r.InvoiceId == 0 {
		return errors.New("invoice_id is required")
	}
	return nil
}

func NewCreateRoutingSlipRequestFromContext(ctx echo.Context) (*CreateRoutingSlipRequest, error) {
	var body CreateRoutingSlipRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.Number = strings.TrimSpace(body.Number)
	body.RoutingSlipDate = strings.TrimSpace(body.RoutingSlipDate)
	for _, p := range body.Payments {
		if p != nil {
			p.ReceiptNumber = strings.TrimSpace(p.ReceiptNumber)
		}
	}
	return &body, nil
}

func (r *CreateRoutingSlipRequest) Validate() error {
	if r.Number == "" {
		return errors.New("number is required")
	}
	if len(r.Payments) == 0 {
		return errors.New("payments must not be empty")
	}
	for _, p := range r.Payments {
		if p == nil || p.ReceiptNumber == "" {
			return errors.New("payment receipt_number is required")
		}
		if p.AmountCents <= 0 {
			return errors.New("payment amount_cents must be > 0")
		}
	}
	return nil
}

func NewGetRoutingSlipRequestFromContext(ctx echo.Context) (*GetRoutingSlipRequest, error) {
	return &GetRoutingSlipRequest{Number: strings.TrimSpace(ctx.Param("number"))}, nil
}

func (r *GetRoutingSlipRequest) Validate() error {
	if r.Number == "" {
		return errors.New("routing slip number is required")
	}
	return nil
}

func NewChangeRoutingSlipStatusRequestFromContext(ctx echo.Context) (*ChangeRoutingSlipStatusRequest, error) {
	var body ChangeRoutingSlipStatusRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.Number = strings.TrimSpace(ctx.Param("number"))
	body.Status = strings.ToUpper(strings.TrimSpace(body.Status))
	return &body, nil
}

func (r *ChangeRoutingSlipStatusRequest) Validate() error {
	if r.Number == "" {
		return errors.New("routing slip number is required")
	}
	if r.Status == "" {
		return errors.New("status is required")
	}
	return nil
}

func NewLinkRoutingSlipRequestFromContext(ctx echo.Context) (*LinkRoutingSlipRequest, error) {
	var body LinkRoutingSlipRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.Number = strings.TrimSpace(ctx.Param("number"))
	body.ParentNumber = strings.TrimSpace(body.ParentNumber)
	return &body, nil
}

func (r *LinkRoutingSlipRequest) Validate() error {
	if r.Number == "" || r.ParentNumber == "" {
		return errors.New("number and parent_number are required")
	}
	if r.Number == r.ParentNumber {
		return errors.New("a routing slip cannot be linked to itself")
	}
	return nil
}

func NewCreateAccountRequestFromContext(ctx echo.Context) (*CreateAccountRequest, error) {
	var body CreateAccountRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.Name = strings.TrimSpace(body.Name)
	body.PaymentMethod = strings.ToUpper(strings.TrimSpace(body.PaymentMethod))
	body.BcolAccountNumber = strings.TrimSpace(body.BcolAccountNumber)
	body.StatementFrequency = strings.ToUpper(strings.TrimSpace(body.StatementFrequency))
	return &body, nil
}

func (r *CreateAccountRequest) Validate() error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	if !paymentMethods[r.PaymentMethod] {
		return errors.New("payment_method is invalid")
	}
	if r.PaymentMethod == "DRAWDOWN" && r.BcolAccountNumber == "" {
		return errors.New("bcol_account_number is required for DRAWDOWN")
	}
	switch r.StatementFrequency {
	case "", "DAILY", "WEEKLY", "MONTHLY":
	default:
		return errors.New("statement_frequency must be DAILY, WEEKLY or MONTHLY")
	}
	return nil
}

func NewGetAccountRequestFromContext(ctx echo.Context) (*GetAccountRequest, error) {
	id, err := parseIDParam(ctx, "id")
	if err != nil {
		return nil, err
	}
	return &GetAccountRequest{Id: id}, nil
}

func (r *GetAccountRequest) Validate() error {
	if r.Id == 0 {
		return errors.New("invalid account id")
	}
	return nil
}

func NewPayBCNotificationRequestFromContext(ctx echo.Context) (*PayBCNotificationRequest, error) {
	raw, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return nil, err
	}
	return &PayBCNotificationRequest{
		Signature: strings.TrimSpace(ctx.Request().Header.Get(SignatureHeader)),
		Payload:   raw,
	}, nil
}

func (r *PayBCNotificationRequest) Validate() error {
	if r.Signature == "" {
		return errors.New("signature header is required")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	return nil
}
