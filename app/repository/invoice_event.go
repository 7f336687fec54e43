package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
)

var ErrInvoiceEventNotFound = errors.New("invoice event not found")

type InvoiceEventRepository struct {
	db DBTX
}

func NewInvoiceEventRepository(db DBTX) *InvoiceEventRepository {
	return &InvoiceEventRepository{db: db}
}

func (r *InvoiceEventRepository) Create(ctx context.Context, event *entity.InvoiceEvent) error {
	query := `
		INSERT INTO invoice_events (
			invoice_id, event_type, old_status, new_status, correlation_id, payload_json,
			delivery_status, delivery_attempts, delivery_next_at, delivery_last_error,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var oldStatus interface{}
	if event.OldStatus != nil {
		oldStatus = string(*event.OldStatus)
	}

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		event.InvoiceID,
		event.EventType,
		oldStatus,
		string(event.NewStatus),
		event.CorrelationID,
		nullableStringValue(event.PayloadJSON),
		event.DeliveryStatus,
		event.DeliveryAttempts,
		nullableTimeValue(event.DeliveryNextAt),
		nullableStringValue(event.DeliveryLastErr),
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = uint64(id)
	return nil
}

func (r *InvoiceEventRepository) UpdateDelivery(ctx context.Context, event *entity.InvoiceEvent) error {
	query := `
		UPDATE invoice_events SET
			delivery_status = ?,
			delivery_attempts = ?,
			delivery_next_at = ?,
			delivery_last_error = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		event.DeliveryStatus,
		event.DeliveryAttempts,
		nullableTimeValue(event.DeliveryNextAt),
		nullableStringValue(event.DeliveryLastErr),
		event.UpdatedAt,
		event.ID,
	)
	if err != nil {
		return err
	}
	return affectedOrNotFound(result, ErrInvoiceEventNotFound)
}

func (r *InvoiceEventRepository) ListDueDispatch(ctx context.Context, now time.Time, limit int32) ([]*entity.InvoiceEvent, error) {
	query := `
		SELECT id, invoice_id, event_type, old_status, new_status, correlation_id, payload_json,
			delivery_status, delivery_attempts, delivery_next_at, delivery_last_error,
			created_at, updated_at
		FROM invoice_events
		WHERE delivery_status = ?
		  AND delivery_next_at IS NOT NULL
		  AND delivery_next_at <= ?
		ORDER BY delivery_next_at ASC
		LIMIT ?
	`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, entity.EventDeliveryPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]*entity.InvoiceEvent, 0)
	for rows.Next() {
		var (
			event     entity.InvoiceEvent
			oldStatus sql.NullString
			payload   sql.NullString
			nextAt    sql.NullTime
			lastErr   sql.NullString
		)
		if err := rows.Scan(
			&event.ID,
			&event.InvoiceID,
			&event.EventType,
			&oldStatus,
			&event.NewStatus,
			&event.CorrelationID,
			&payload,
			&event.DeliveryStatus,
			&event.DeliveryAttempts,
			&nextAt,
			&lastErr,
			&event.CreatedAt,
			&event.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if oldStatus.Valid {
			s := entity.InvoiceStatus(oldStatus.String)
			event.OldStatus = &s
		}
		event.PayloadJSON = stringPtrFromNull(payload)
		event.DeliveryNextAt = timePtrFromNull(nextAt)
		event.DeliveryLastErr = stringPtrFromNull(lastErr)
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
