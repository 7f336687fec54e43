package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
)

var (
	ErrRoutingSlipNotFound      = errors.New("routing slip not found")
	ErrRoutingSlipAlreadyExists = errors.New("routing slip already exists")
)

const routingSlipColumns = `
	id, number, parent_number, account_id, total_cents, remaining_cents,
	status, routing_slip_date, created_at, updated_at`

type RoutingSlipRepository struct {
	db DBTX
}

func NewRoutingSlipRepository(db DBTX) *RoutingSlipRepository {
	return &RoutingSlipRepository{db: db}
}

func (r *RoutingSlipRepository) Create(ctx context.Context, slip *entity.RoutingSlip) error {
	query := `
		INSERT INTO routing_slips (
			number, parent_number, account_id, total_cents, remaining_cents,
			status, routing_slip_date, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		slip.Number,
		nullableStringValue(slip.ParentNumber),
		nullableUint64Value(slip.AccountID),
		slip.TotalCents,
		slip.RemainingCents,
		string(slip.Status),
		slip.RoutingSlipDate,
		slip.CreatedAt,
		slip.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrRoutingSlipAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	slip.ID = uint64(id)
	return nil
}

// Update persists the slip. remaining_cents carries a CHECK (>= 0) constraint.
func (r *RoutingSlipRepository) Update(ctx context.Context, slip *entity.RoutingSlip) error {
	query := `
		UPDATE routing_slips SET
			parent_number = ?,
			account_id = ?,
			total_cents = ?,
			remaining_cents = ?,
			status = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		nullableStringValue(slip.ParentNumber),
		nullableUint64Value(slip.AccountID),
		slip.TotalCents,
		slip.RemainingCents,
		string(slip.Status),
		slip.UpdatedAt,
		slip.ID,
	)
	if err != nil {
		return err
	}
	return affectedOrNotFound(result, ErrRoutingSlipNotFound)
}

func (r *RoutingSlipRepository) FindByNumber(ctx context.Context, number string) (*entity.RoutingSlip, error) {
	return r.findOne(ctx, `WHERE number = ?`, false, number)
}

func (r *RoutingSlipRepository) FindByNumberForUpdate(ctx context.Context, number string) (*entity.RoutingSlip, error) {
	return r.findOne(ctx, `WHERE number = ?`, true, number)
}

func (r *RoutingSlipRepository) FindByIDForUpdate(ctx context.Context, id uint64) (*entity.RoutingSlip, error) {
	return r.findOne(ctx, `WHERE id = ?`, true, id)
}

func (r *RoutingSlipRepository) findOne(ctx context.Context, where string, forUpdate bool, args ...interface{}) (*entity.RoutingSlip, error) {
	query := `SELECT ` + routingSlipColumns + ` FROM routing_slips ` + where + lockClause(forUpdate)

	var (
		slip         entity.RoutingSlip
		parentNumber sql.NullString
		accountID    sql.NullInt64
	)
	err := conn(ctx, r.db).QueryRowContext(ctx, query, args...).Scan(
		&slip.ID,
		&slip.Number,
		&parentNumber,
		&accountID,
		&slip.TotalCents,
		&slip.RemainingCents,
		&slip.Status,
		&slip.RoutingSlipDate,
		&slip.CreatedAt,
		&slip.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	slip.ParentNumber = stringPtrFromNull(parentNumber)
	slip.AccountID = uint64PtrFromNull(accountID)
	return &slip, nil
}
