package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
)

var (
	ErrInvoiceNotFound      = errors.New("invoice not found")
	ErrInvoiceAlreadyExists = errors.New("invoice already exists")
)

const invoiceColumns = `
	id, account_id, request_id, reference, correlation_id,
	total_cents, service_fees_cents, paid_cents, refund_cents,
	status, payment_method, routing_slip,
	payment_date, refund_date, disbursement_status, disbursement_date, disbursed_cents,
	created_at, updated_at`

type InvoiceFilter struct {
	AccountID     uint64
	HasStatus     bool
	Status        entity.InvoiceStatus
	PaymentMethod entity.PaymentMethod
	Limit         int32
	Offset        int32
}

type InvoiceRepository struct {
	db DBTX
}

func NewInvoiceRepository(db DBTX) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

func (r *InvoiceRepository) Create(ctx context.Context, invoice *entity.Invoice) error {
	query := `
		INSERT INTO invoices (
			account_id, request_id, reference, correlation_id,
			total_cents, service_fees_cents, paid_cents, refund_cents,
			status, payment_method, routing_slip,
			payment_date, refund_date, disbursement_status, disbursement_date, disbursed_cents,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	db := conn(ctx, r.db)
	result, err := db.ExecContext(ctx, query,
		invoice.AccountID,
		invoice.RequestID,
		nullableStringValue(invoice.Reference),
		invoice.CorrelationID,
		invoice.TotalCents,
		invoice.ServiceFeesCents,
		invoice.PaidCents,
		invoice.RefundCents,
		string(invoice.Status),
		string(invoice.PaymentMethod),
		nullableStringValue(invoice.RoutingSlip),
		nullableTimeValue(invoice.PaymentDate),
		nullableTimeValue(invoice.RefundDate),
		string(invoice.DisbursementStatus),
		nullableTimeValue(invoice.DisbursementDate),
		invoice.DisbursedCents,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrInvoiceAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	invoice.ID = uint64(id)

	for _, item := range invoice.LineItems {
		item.InvoiceID = invoice.ID
		if err := r.createLineItem(ctx, db, item); err != nil {
			return err
		}
	}
	return nil
}

func (r *InvoiceRepository) createLineItem(ctx context.Context, db DBTX, item *entity.LineItem) error {
	query := `
		INSERT INTO payment_line_items (
			invoice_id, description, filing_fees_cents, quantity,
			gst_cents, pst_cents, service_fees_cents, total_cents, status
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := db.ExecContext(ctx, query,
		item.InvoiceID,
		item.Description,
		item.FilingFeesCents,
		item.Quantity,
		item.GSTCents,
		item.PSTCents,
		item.ServiceFeesCents,
		item.TotalCents,
		string(item.Status),
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	item.ID = uint64(id)
	return nil
}

// Update writes the invoice row and the status of each loaded line item.
func (r *InvoiceRepository) Update(ctx context.Context, invoice *entity.Invoice) error {
	query := `
		UPDATE invoices SET
			reference = ?,
			total_cents = ?,
			service_fees_cents = ?,
			paid_cents = ?,
			refund_cents = ?,
			status = ?,
			payment_method = ?,
			routing_slip = ?,
			payment_date = ?,
			refund_date = ?,
			disbursement_status = ?,
			disbursement_date = ?,
			disbursed_cents = ?,
			updated_at = ?
		WHERE id = ?
	`

	db := conn(ctx, r.db)
	result, err := db.ExecContext(ctx, query,
		nullableStringValue(invoice.Reference),
		invoice.TotalCents,
		invoice.ServiceFeesCents,
		invoice.PaidCents,
		invoice.RefundCents,
		string(invoice.Status),
		string(invoice.PaymentMethod),
		nullableStringValue(invoice.RoutingSlip),
		nullableTimeValue(invoice.PaymentDate),
		nullableTimeValue(invoice.RefundDate),
		string(invoice.DisbursementStatus),
		nullableTimeValue(invoice.DisbursementDate),
		invoice.DisbursedCents,
		invoice.UpdatedAt,
		invoice.ID,
	)
	if err != nil {
		return err
	}
	if err := affectedOrNotFound(result, ErrInvoiceNotFound); err != nil {
		return err
	}

	for _, item := range invoice.LineItems {
		if _, err := db.ExecContext(ctx,
			`UPDATE payment_line_items SET status = ? WHERE id = ? AND invoice_id = ?`,
			string(item.Status), item.ID, invoice.ID,
		); err != nil {
			return err
		}
	}
	return nil
}

func (r *InvoiceRepository) FindByID(ctx context.Context, id uint64) (*entity.Invoice, error) {
	return r.findOne(ctx, `WHERE id = ?`, false, id)
}

func (r *InvoiceRepository) FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Invoice, error) {
	return r.findOne(ctx, `WHERE id = ?`, true, id)
}

func (r *InvoiceRepository) FindByRequestID(ctx context.Context, accountID uint64, requestID string) (*entity.Invoice, error) {
	return r.findOne(ctx, `WHERE account_id = ? AND request_id = ? LIMIT 1`, false, accountID, requestID)
}

func (r *InvoiceRepository) FindByReferenceForUpdate(ctx context.Context, reference string) (*entity.Invoice, error) {
	return r.findOne(ctx, `WHERE reference = ? LIMIT 1`, true, reference)
}

func (r *InvoiceRepository) findOne(ctx context.Context, where string, forUpdate bool, args ...interface{}) (*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices ` + where + lockClause(forUpdate)

	db := conn(ctx, r.db)
	invoice, err := scanInvoice(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	items, err := r.lineItems(ctx, db, invoice.ID, forUpdate)
	if err != nil {
		return nil, err
	}
	invoice.LineItems = items
	return invoice, nil
}

func (r *InvoiceRepository) lineItems(ctx context.Context, db DBTX, invoiceID uint64, forUpdate bool) ([]*entity.LineItem, error) {
	query := `
		SELECT id, invoice_id, description, filing_fees_cents, quantity,
			gst_cents, pst_cents, service_fees_cents, total_cents, status
		FROM payment_line_items
		WHERE invoice_id = ?
		ORDER BY id ASC` + lockClause(forUpdate)

	rows, err := db.QueryContext(ctx, query, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*entity.LineItem, 0)
	for rows.Next() {
		item := &entity.LineItem{}
		if err := rows.Scan(
			&item.ID,
			&item.InvoiceID,
			&item.Description,
			&item.FilingFeesCents,
			&item.Quantity,
			&item.GSTCents,
			&item.PSTCents,
			&item.ServiceFeesCents,
			&item.TotalCents,
			&item.Status,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *InvoiceRepository) List(ctx context.Context, filter InvoiceFilter) ([]*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices`

	conditions := make([]string, 0, 3)
	args := make([]interface{}, 0, 5)

	if filter.AccountID > 0 {
		conditions = append(conditions, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.HasStatus {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if strings.TrimSpace(string(filter.PaymentMethod)) != "" {
		conditions = append(conditions, "payment_method = ?")
		args = append(args, string(filter.PaymentMethod))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	return r.list(ctx, query, args...)
}

// ListStaleApproved returns APPROVED invoices created at or before cutoff.
func (r *InvoiceRepository) ListStaleApproved(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE status = ? AND created_at <= ?
		ORDER BY created_at ASC
		LIMIT ?
	`
	return r.list(ctx, query, string(entity.InvoiceApproved), cutoff, limit)
}

// ListPendingPost returns open invoices not yet posted to CFS.
func (r *InvoiceRepository) ListPendingPost(ctx context.Context, methods []entity.PaymentMethod, limit int32) ([]*entity.Invoice, error) {
	if len(methods) == 0 {
		return []*entity.Invoice{}, nil
	}

	placeholders := make([]string, 0, len(methods))
	args := make([]interface{}, 0, len(methods)+3)
	args = append(args, string(entity.InvoiceCreated), string(entity.InvoiceApproved))
	for _, m := range methods {
		placeholders = append(placeholders, "?")
		args = append(args, string(m))
	}
	args = append(args, limit)

	query := `SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE status IN (?, ?)
		  AND reference IS NULL
		  AND payment_method IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY id ASC
		LIMIT ?
	`
	return r.list(ctx, query, args...)
}

// ListDueDisbursement returns paid invoices whose disbursement has not been
// sent yet or previously errored.
func (r *InvoiceRepository) ListDueDisbursement(ctx context.Context, method entity.PaymentMethod, limit int32) ([]*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE payment_method = ?
		  AND status = ?
		  AND disbursement_status IN (?, ?)
		ORDER BY id ASC
		LIMIT ?
	`
	return r.list(ctx, query,
		string(method),
		string(entity.InvoicePaid),
		string(entity.DisbursementNone),
		string(entity.DisbursementErrored),
		limit,
	)
}

// ListDueDisbursementReversal returns invoices whose partner holds more
// than the invoice still supports: closed invoices with funds disbursed, and
// open ones reduced by partial cancellation after disbursement.
func (r *InvoiceRepository) ListDueDisbursementReversal(ctx context.Context, method entity.PaymentMethod, limit int32) ([]*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE payment_method = ?
		  AND disbursement_status = ?
		  AND disbursed_cents > 0
		  AND (status IN (?, ?, ?) OR disbursed_cents > total_cents - service_fees_cents)
		ORDER BY id ASC
		LIMIT ?
	`
	return r.list(ctx, query,
		string(method),
		string(entity.DisbursementCompleted),
		string(entity.InvoiceCancelled),
		string(entity.InvoiceRefunded),
		string(entity.InvoiceCredited),
		limit,
	)
}

func (r *InvoiceRepository) ListForStatement(ctx context.Context, accountID uint64, from, to time.Time) ([]*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE account_id = ? AND created_at >= ? AND created_at < ?
		ORDER BY id ASC
	`
	return r.list(ctx, query, accountID, from, to)
}

func (r *InvoiceRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.Invoice, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]*entity.Invoice, 0)
	for rows.Next() {
		item, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}

func scanInvoice(scan rowScanner) (*entity.Invoice, error) {
	var (
		invoice          entity.Invoice
		reference        sql.NullString
		routingSlip      sql.NullString
		paymentDate      sql.NullTime
		refundDate       sql.NullTime
		disbursementDate sql.NullTime
	)

	err := scan.Scan(
		&invoice.ID,
		&invoice.AccountID,
		&invoice.RequestID,
		&reference,
		&invoice.CorrelationID,
		&invoice.TotalCents,
		&invoice.ServiceFeesCents,
		&invoice.PaidCents,
		&invoice.RefundCents,
		&invoice.Status,
		&invoice.PaymentMethod,
		&routingSlip,
		&paymentDate,
		&refundDate,
		&invoice.DisbursementStatus,
		&disbursementDate,
		&invoice.DisbursedCents,
		&invoice.CreatedAt,
		&invoice.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	invoice.Reference = stringPtrFromNull(reference)
	invoice.RoutingSlip = stringPtrFromNull(routingSlip)
	invoice.PaymentDate = timePtrFromNull(paymentDate)
	invoice.RefundDate = timePtrFromNull(refundDate)
	invoice.DisbursementDate = timePtrFromNull(disbursementDate)
	return &invoice, nil
}
