package service

import (
	"context"
	"time"

	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/repository"
)

const (
	defaultListLimit = int32(100)
	defaultBatchSize = int32(100)
)

// Transactor runs fn inside a database transaction carried by ctx.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type accountRepository interface {
	Create(ctx context.Context, account *entity.Account) error
	Update(ctx context.Context, account *entity.Account) error
	FindByID(ctx context.Context, id uint64) (*entity.Account, error)
	FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Account, error)
	ListPendingPADActivation(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Account, error)
	ListByStatementFrequency(ctx context.Context, frequency entity.StatementFrequency, afterID uint64, limit int32) ([]*entity.Account, error)
}

type invoiceRepository interface {
	Create(ctx context.Context, invoice *entity.Invoice) error
	Update(ctx context.Context, invoice *entity.Invoice) error
	FindByID(ctx context.Context, id uint64) (*entity.Invoice, error)
	FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Invoice, error)
	FindByRequestID(ctx context.Context, accountID uint64, requestID string) (*entity.Invoice, error)
	FindByReferenceForUpdate(ctx context.Context, reference string) (*entity.Invoice, error)
	List(ctx context.Context, filter repository.InvoiceFilter) ([]*entity.Invoice, error)
	ListStaleApproved(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Invoice, error)
	ListPendingPost(ctx context.Context, methods []entity.PaymentMethod, limit int32) ([]*entity.Invoice, error)
	ListDueDisbursement(ctx context.Context, method entity.PaymentMethod, limit int32) ([]*entity.Invoice, error)
	ListDueDisbursementReversal(ctx context.Context, method entity.PaymentMethod, limit int32) ([]*entity.Invoice, error)
	ListForStatement(ctx context.Context, accountID uint64, from, to time.Time) ([]*entity.Invoice, error)
}

type receiptRepository interface {
	Create(ctx context.Context, receipt *entity.Receipt) error
	Update(ctx context.Context, receipt *entity.Receipt) error
	FindByID(ctx context.Context, id uint64) (*entity.Receipt, error)
	FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Receipt, error)
	FindByNumber(ctx context.Context, number string) (*entity.Receipt, error)
	ListByInvoiceForUpdate(ctx context.Context, invoiceID uint64) ([]*entity.Receipt, error)
	ListByRoutingSlip(ctx context.Context, routingSlipID uint64) ([]*entity.Receipt, error)
}

type routingSlipRepository interface {
	Create(ctx context.Context, slip *entity.RoutingSlip) error
	Update(ctx context.Context, slip *entity.RoutingSlip) error
	FindByNumber(ctx context.Context, number string) (*entity.RoutingSlip, error)
	FindByNumberForUpdate(ctx context.Context, number string) (*entity.RoutingSlip, error)
	FindByIDForUpdate(ctx context.Context, id uint64) (*entity.RoutingSlip, error)
}

type settlementRepository interface {
	CreateRecord(ctx context.Context, record *entity.SettlementRecord) error
	UpdateRecord(ctx context.Context, record *entity.SettlementRecord) error
	FindRecord(ctx context.Context, source entity.SettlementSource, externalID string) (*entity.SettlementRecord, error)
	FindRecordByIDForUpdate(ctx context.Context, id uint64) (*entity.SettlementRecord, error)
	ListParked(ctx context.Context, maxAttempts int32, limit int32) ([]*entity.SettlementRecord, error)
	FindFile(ctx context.Context, fileName string) (*entity.SettlementFile, error)
	CreateFile(ctx context.Context, file *entity.SettlementFile) error
}

type invoiceEventRepository interface {
	Create(ctx context.Context, event *entity.InvoiceEvent) error
	UpdateDelivery(ctx context.Context, event *entity.InvoiceEvent) error
	ListDueDispatch(ctx context.Context, now time.Time, limit int32) ([]*entity.InvoiceEvent, error)
}

type reviewItemRepository interface {
	Create(ctx context.Context, item *entity.ReviewItem) error
	ListOpen(ctx context.Context, limit, offset int32) ([]*entity.ReviewItem, error)
}

type statementRepository interface {
	Create(ctx context.Context, statement *entity.Statement) error
	Find(ctx context.Context, accountID uint64, frequency entity.StatementFrequency, from time.Time) (*entity.Statement, error)
}

// Repositories groups the ledger store. Every repository must honour the
// transaction carried on the context by the Transactor.
type Repositories struct {
	Accounts     accountRepository
	Invoices     invoiceRepository
	Receipts     receiptRepository
	RoutingSlips routingSlipRepository
	Settlements  settlementRepository
	Events       invoiceEventRepository
	Reviews      reviewItemRepository
	Statements   statementRepository
}

func batchSize(n int32) int32 {
	if n <= 0 {
		return defaultBatchSize
	}
	return n
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}

func truncate(v string, max int) string {
	if len(v) <= max {
		return v
	}
	return v[:max]
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func stringPtr(v string) *string {
	return &v
}
