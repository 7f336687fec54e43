package service

import (
	"time"

	"github.com/vibast-solutions/ms-go-pay-ledger/app/connector"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
)

type refundPolicy int

const (
	refundToSource refundPolicy = iota
	refundToRoutingSlip
	refundLocal
	creditOnly
)

// methodHandler describes how a payment method settles an invoice.
type methodHandler struct {
	method        entity.PaymentMethod
	system        connector.System
	initialStatus entity.InvoiceStatus
	postsToCFS    bool
	drawsFromSlip bool
	chargesOnline bool
	refund        refundPolicy
	asyncRefund   bool
	disburses     bool
}

var methodTable = map[entity.PaymentMethod]methodHandler{
	entity.PaymentMethodCC: {
		system:        connector.SystemPayBC,
		initialStatus: entity.InvoiceCreated,
		refund:        refundToSource,
		asyncRefund:   true,
		disburses:     true,
	},
	entity.PaymentMethodPAD: {
		system:        connector.SystemCFS,
		initialStatus: entity.InvoiceApproved,
		postsToCFS:    true,
		refund:        creditOnly,
		disburses:     true,
	},
	entity.PaymentMethodBCOL: {
		system:        connector.SystemBCOL,
		initialStatus: entity.InvoicePaid,
		chargesOnline: true,
		refund:        refundToSource,
		disburses:     true,
	},
	entity.PaymentMethodEFT: {
		system:        connector.SystemCFS,
		initialStatus: entity.InvoiceApproved,
		postsToCFS:    true,
		refund:        creditOnly,
		disburses:     true,
	},
	entity.PaymentMethodEJV: {
		system:        connector.SystemEJV,
		initialStatus: entity.InvoiceApproved,
		refund:        refundLocal,
		disburses:     true,
	},
	entity.PaymentMethodCash: {
		initialStatus: entity.InvoicePaid,
		drawsFromSlip: true,
		refund:        refundToRoutingSlip,
	},
	entity.PaymentMethodCheque: {
		initialStatus: entity.InvoicePaid,
		drawsFromSlip: true,
		refund:        refundToRoutingSlip,
	},
	entity.PaymentMethodWire: {
		system:        connector.SystemCFS,
		initialStatus: entity.InvoiceApproved,
		postsToCFS:    true,
		refund:        creditOnly,
	},
	entity.PaymentMethodOnlineBanking: {
		system:        connector.SystemCFS,
		initialStatus: entity.InvoiceApproved,
		postsToCFS:    true,
		refund:        creditOnly,
	},
}

func handlerFor(method entity.PaymentMethod) (methodHandler, bool) {
	h, ok := methodTable[method]
	h.method = method
	return h, ok
}

// billingMethod resolves the method an invoice is billed with. PAD accounts
// still inside their confirmation period are charged by credit card.
func billingMethod(account *entity.Account, requested entity.PaymentMethod, now time.Time) entity.PaymentMethod {
	method := requested
	if method == "" {
		method = account.PaymentMethod
	}
	if method == entity.PaymentMethodPAD && account.CFSStatus == entity.CFSAccountPendingPADActivation {
		if account.PADActivationDate == nil || now.Before(*account.PADActivationDate) {
			return entity.PaymentMethodCC
		}
	}
	return method
}

// allows reports whether the method permits trigger, with a reason when not.
func (h methodHandler) allows(trigger entity.InvoiceTrigger) (bool, string) {
	switch trigger {
	case entity.TriggerRefund:
		if h.refund == creditOnly {
			return false, string(h.method) + " invoices can only be credited or cancelled"
		}
	case entity.TriggerRequestRefund:
		if !h.asyncRefund {
			return false, string(h.method) + " does not support asynchronous refunds"
		}
	case entity.TriggerCredit:
		if h.drawsFromSlip {
			return false, "routing slip invoices are refunded to the routing slip"
		}
	}
	return true, ""
}

func cfsMethods() []entity.PaymentMethod {
	out := make([]entity.PaymentMethod, 0, len(methodTable))
	for _, m := range entity.PaymentMethods {
		if methodTable[m].postsToCFS {
			out = append(out, m)
		}
	}
	return out
}

func disbursedMethods() []entity.PaymentMethod {
	out := make([]entity.PaymentMethod, 0, len(methodTable))
	for _, m := range entity.PaymentMethods {
		if methodTable[m].disburses {
			out = append(out, m)
		}
	}
	return out
}
