package service

import "github.com/vibast-solutions/ms-go-pay-ledger/app/entity"

// Pseudo triggers used in transition errors and outbox events for operations
// that move money without changing status on their own.
const (
	triggerUnapply       entity.InvoiceTrigger = "unapply"
	triggerPartialCancel entity.InvoiceTrigger = "partial_cancel"
)

var transitions = map[entity.InvoiceStatus]map[entity.InvoiceTrigger]entity.InvoiceStatus{
	entity.InvoiceCreated: {
		entity.TriggerApprove: entity.InvoiceApproved,
		entity.TriggerVoid:    entity.InvoiceCancelled,
	},
	entity.InvoiceApproved: {
		entity.TriggerPay:         entity.InvoicePaid,
		entity.TriggerVoid:        entity.InvoiceCancelled,
		entity.TriggerMarkOverdue: entity.InvoiceOverdue,
	},
	entity.InvoiceOverdue: {
		entity.TriggerPay:  entity.InvoicePaid,
		entity.TriggerVoid: entity.InvoiceCancelled,
	},
	entity.InvoicePaid: {
		entity.TriggerVoid:          entity.InvoiceCancelled,
		entity.TriggerCredit:        entity.InvoiceCredited,
		entity.TriggerRequestRefund: entity.InvoiceRefundRequested,
		entity.TriggerRefund:        entity.InvoiceRefunded,
		entity.TriggerMarkOverdue:   entity.InvoiceOverdue,
	},
	entity.InvoiceRefundRequested: {
		entity.TriggerVoid:   entity.InvoiceCancelled,
		entity.TriggerCredit: entity.InvoiceCredited,
		entity.TriggerRefund: entity.InvoiceRefunded,
	},
}

// NextStatus returns the status reached by applying trigger to from.
func NextStatus(from entity.InvoiceStatus, trigger entity.InvoiceTrigger) (entity.InvoiceStatus, bool) {
	to, ok := transitions[from][trigger]
	return to, ok
}

func validTrigger(trigger entity.InvoiceTrigger) bool {
	switch trigger {
	case entity.TriggerApprove, entity.TriggerPay, entity.TriggerVoid, entity.TriggerCredit,
		entity.TriggerRequestRefund, entity.TriggerRefund, entity.TriggerMarkOverdue:
		return true
	default:
		return false
	}
}
