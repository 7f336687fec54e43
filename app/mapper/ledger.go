package mapper

import (
	"time"

	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/types"
)

const dateLayout = "2006-01-02"

func InvoiceToProto(item *entity.Invoice) *types.Invoice {
	if item == nil {
		return nil
	}

	lines := make([]*types.LineItemResponse, 0, len(item.LineItems))
	for _, li := range item.LineItems {
		if li == nil {
			continue
		}
		lines = append(lines, &types.LineItemResponse{
			Id:               li.ID,
			Description:      li.Description,
			FilingFeesCents:  li.FilingFeesCents,
			Quantity:         li.Quantity,
			GstCents:         li.GSTCents,
			PstCents:         li.PSTCents,
			ServiceFeesCents: li.ServiceFeesCents,
			TotalCents:       li.TotalCents,
			Status:           string(li.Status),
		})
	}

	return &types.Invoice{
		Id:                 item.ID,
		AccountId:          item.AccountID,
		RequestId:          item.RequestID,
		Reference:          derefString(item.Reference),
		CorrelationId:      item.CorrelationID,
		TotalCents:         item.TotalCents,
		ServiceFeesCents:   item.ServiceFeesCents,
		PaidCents:          item.PaidCents,
		RefundCents:        item.RefundCents,
		Status:             string(item.Status),
		PaymentMethod:      string(item.PaymentMethod),
		RoutingSlip:        derefString(item.RoutingSlip),
		PaymentDate:        formatTime(item.PaymentDate),
		RefundDate:         formatTime(item.RefundDate),
		DisbursementStatus: string(item.DisbursementStatus),
		CreatedAt:          item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          item.UpdatedAt.UTC().Format(time.RFC3339),
		LineItems:          lines,
	}
}

func InvoicesToProto(items []*entity.Invoice) []*types.Invoice {
	result := make([]*types.Invoice, 0, len(items))
	for _, item := range items {
		result = append(result, InvoiceToProto(item))
	}
	return result
}

func ReceiptToProto(item *entity.Receipt) *types.Receipt {
	if item == nil {
		return nil
	}

	return &types.Receipt{
		Id:             item.ID,
		ReceiptNumber:  item.ReceiptNumber,
		AmountCents:    item.AmountCents,
		AppliedCents:   item.AppliedCents,
		UnappliedCents: item.UnappliedCents(),
		InvoiceId:      derefUint64(item.InvoiceID),
		RoutingSlipId:  derefUint64(item.RoutingSlipID),
		Status:         string(item.Status),
		ReceiptDate:    item.ReceiptDate.UTC().Format(dateLayout),
	}
}

func RoutingSlipToProto(item *entity.RoutingSlip) *types.RoutingSlip {
	if item == nil {
		return nil
	}

	return &types.RoutingSlip{
		Id:              item.ID,
		Number:          item.Number,
		ParentNumber:    derefString(item.ParentNumber),
		TotalCents:      item.TotalCents,
		RemainingCents:  item.RemainingCents,
		Status:          string(item.Status),
		RoutingSlipDate: item.RoutingSlipDate.UTC().Format(dateLayout),
	}
}

func AccountToProto(item *entity.Account) *types.Account {
	if item == nil {
		return nil
	}

	return &types.Account{
		Id:                 item.ID,
		Name:               item.Name,
		PaymentMethod:      string(item.PaymentMethod),
		Billable:           item.Billable,
		CfsStatus:          string(item.CFSStatus),
		CfsAccountNumber:   derefString(item.CFSAccountNumber),
		PadActivationDate:  formatTime(item.PADActivationDate),
		BcolAccountNumber:  derefString(item.BCOLAccountNumber),
		CreditCents:        item.CreditCents,
		StatementFrequency: string(item.StatementFrequency),
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefUint64(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}

func formatTime(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(time.RFC3339)
}
