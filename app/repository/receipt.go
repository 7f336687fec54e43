package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
)

var (
	ErrReceiptNotFound      = errors.New("receipt not found")
	ErrReceiptAlreadyExists = errors.New("receipt already exists")
)

const receiptColumns = `
	id, receipt_number, amount_cents, applied_cents, invoice_id, routing_slip_id,
	status, receipt_date, created_at, updated_at`

type ReceiptRepository struct {
	db DBTX
}

func NewReceiptRepository(db DBTX) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

func (r *ReceiptRepository) Create(ctx context.Context, receipt *entity.Receipt) error {
	query := `
		INSERT INTO receipts (
			receipt_number, amount_cents, applied_cents, invoice_id, routing_slip_id,
			status, receipt_date, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		receipt.ReceiptNumber,
		receipt.AmountCents,
		receipt.AppliedCents,
		nullableUint64Value(receipt.InvoiceID),
		nullableUint64Value(receipt.RoutingSlipID),
		string(receipt.Status),
		receipt.ReceiptDate,
		receipt.CreatedAt,
		receipt.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrReceiptAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	receipt.ID = uint64(id)
	return nil
}

func (r *ReceiptRepository) Update(ctx context.Context, receipt *entity.Receipt) error {
	query := `
		UPDATE receipts SET
			amount_cents = ?,
			applied_cents = ?,
			invoice_id = ?,
			routing_slip_id = ?,
			status = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		receipt.AmountCents,
		receipt.AppliedCents,
		nullableUint64Value(receipt.InvoiceID),
		nullableUint64Value(receipt.RoutingSlipID),
		string(receipt.Status),
		receipt.UpdatedAt,
		receipt.ID,
	)
	if err != nil {
		return err
	}
	return affectedOrNotFound(result, ErrReceiptNotFound)
}

func (r *ReceiptRepository) FindByID(ctx context.Context, id uint64) (*entity.Receipt, error) {
	return r.findOne(ctx, `WHERE id = ?`, false, id)
}

func (r *ReceiptRepository) FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Receipt, error) {
	return r.findOne(ctx, `WHERE id = ?`, true, id)
}

func (r *ReceiptRepository) FindByNumber(ctx context.Context, number string) (*entity.Receipt, error) {
	return r.findOne(ctx, `WHERE receipt_number = ? LIMIT 1`, false, number)
}

func (r *ReceiptRepository) findOne(ctx context.Context, where string, forUpdate bool, args ...interface{}) (*entity.Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipts ` + where + lockClause(forUpdate)
	receipt, err := scanReceipt(conn(ctx, r.db).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return receipt, err
}

// ListByInvoiceForUpdate locks every receipt currently linked to the invoice.
func (r *ReceiptRepository) ListByInvoiceForUpdate(ctx context.Context, invoiceID uint64) ([]*entity.Receipt, error) {
	query := `SELECT ` + receiptColumns + `
		FROM receipts
		WHERE invoice_id = ?
		ORDER BY id ASC FOR UPDATE
	`
	return r.list(ctx, query, invoiceID)
}

func (r *ReceiptRepository) ListByRoutingSlip(ctx context.Context, routingSlipID uint64) ([]*entity.Receipt, error) {
	query := `SELECT ` + receiptColumns + `
		FROM receipts
		WHERE routing_slip_id = ?
		ORDER BY id ASC
	`
	return r.list(ctx, query, routingSlipID)
}

func (r *ReceiptRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.Receipt, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	receipts := make([]*entity.Receipt, 0)
	for rows.Next() {
		item, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return receipts, nil
}

func scanReceipt(scan rowScanner) (*entity.Receipt, error) {
	var (
		receipt       entity.Receipt
		invoiceID     sql.NullInt64
		routingSlipID sql.NullInt64
	)

	err := scan.Scan(
		&receipt.ID,
		&receipt.ReceiptNumber,
		&receipt.AmountCents,
		&receipt.AppliedCents,
		&invoiceID,
		&routingSlipID,
		&receipt.Status,
		&receipt.ReceiptDate,
		&receipt.CreatedAt,
		&receipt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	receipt.InvoiceID = uint64PtrFromNull(invoiceID)
	receipt.RoutingSlipID = uint64PtrFromNull(routingSlipID)
	return &receipt, nil
}
