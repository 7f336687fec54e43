package entity

import "time"

type PaymentMethod string

const (
	PaymentMethodPAD           PaymentMethod = "PAD"
	PaymentMethodBCOL          PaymentMethod = "DRAWDOWN"
	PaymentMethodCC            PaymentMethod = "CC"
	PaymentMethodEFT           PaymentMethod = "EFT"
	PaymentMethodEJV           PaymentMethod = "EJV"
	PaymentMethodCash          PaymentMethod = "CASH"
	PaymentMethodCheque        PaymentMethod = "CHEQUE"
	PaymentMethodWire          PaymentMethod = "WIRE"
	PaymentMethodOnlineBanking PaymentMethod = "ONLINE_BANKING"
)

var PaymentMethods = []PaymentMethod{
	PaymentMethodPAD,
	PaymentMethodBCOL,
	PaymentMethodCC,
	PaymentMethodEFT,
	PaymentMethodEJV,
	PaymentMethodCash,
	PaymentMethodCheque,
	PaymentMethodWire,
	PaymentMethodOnlineBanking,
}

func (m PaymentMethod) Valid() bool {
	for _, candidate := range PaymentMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

type CFSAccountStatus string

const (
	CFSAccountPending              CFSAccountStatus = "PENDING"
	CFSAccountPendingPADActivation CFSAccountStatus = "PENDING_PAD_ACTIVATION"
	CFSAccountActive               CFSAccountStatus = "ACTIVE"
	CFSAccountInactive             CFSAccountStatus = "INACTIVE"
	CFSAccountFreeze               CFSAccountStatus = "FREEZE"
)

type StatementFrequency string

const (
	StatementDaily   StatementFrequency = "DAILY"
	StatementWeekly  StatementFrequency = "WEEKLY"
	StatementMonthly StatementFrequency = "MONTHLY"
)

// Account is a payer. CreditCents holds on-account credit from cancelled or
// credited invoices and is never negative.
type Account struct {
	ID uint64

	Name          string
	PaymentMethod PaymentMethod
	Billable      bool

	CFSPartyNumber   *string
	CFSAccountNumber *string
	CFSSiteNumber    *string
	CFSStatus        CFSAccountStatus

	PADActivationDate *time.Time
	BCOLAccountNumber *string

	CreditCents        int64
	StatementFrequency StatementFrequency

	CreatedAt time.Time
	UpdatedAt time.Time
}
