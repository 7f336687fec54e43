package repository

import (
	"context"
	"database/sql"

	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
)

type ReviewItemRepository struct {
	db DBTX
}

func NewReviewItemRepository(db DBTX) *ReviewItemRepository {
	return &ReviewItemRepository{db: db}
}

func (r *ReviewItemRepository) Create(ctx context.Context, item *entity.ReviewItem) error {
	query := `
		INSERT INTO review_items (
			kind, reference, correlation_id, reason, payload_json, status, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		string(item.Kind),
		item.Reference,
		item.CorrelationID,
		item.Reason,
		nullableStringValue(item.PayloadJSON),
		item.Status,
		item.CreatedAt,
		item.UpdatedAt,
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

func (r *ReviewItemRepository) ListOpen(ctx context.Context, limit, offset int32) ([]*entity.ReviewItem, error) {
	query := `
		SELECT id, kind, reference, correlation_id, reason, payload_json, status, created_at, updated_at
		FROM review_items
		WHERE status = ?
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, entity.ReviewOpen, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*entity.ReviewItem, 0)
	for rows.Next() {
		var (
			item    entity.ReviewItem
			payload sql.NullString
		)
		if err := rows.Scan(
			&item.ID,
			&item.Kind,
			&item.Reference,
			&item.CorrelationID,
			&item.Reason,
			&payload,
			&item.Status,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		item.PayloadJSON = stringPtrFromNull(payload)
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
