package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
)

var ErrStatementAlreadyExists = errors.New("statement already exists")

type StatementRepository struct {
	db DBTX
}

func NewStatementRepository(db DBTX) *StatementRepository {
	return &StatementRepository{db: db}
}

func (r *StatementRepository) Create(ctx context.Context, statement *entity.Statement) error {
	query := `
		INSERT INTO statements (
			account_id, frequency, from_date, to_date, invoice_count, total_cents, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		statement.AccountID,
		string(statement.Frequency),
		statement.FromDate,
		statement.ToDate,
		statement.InvoiceCount,
		statement.TotalCents,
		statement.CreatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrStatementAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	statement.ID = uint64(id)
	return nil
}

func (r *StatementRepository) Find(ctx context.Context, accountID uint64, frequency entity.StatementFrequency, from time.Time) (*entity.Statement, error) {
	query := `
		SELECT id, account_id, frequency, from_date, to_date, invoice_count, total_cents, created_at
		FROM statements
		WHERE account_id = ? AND frequency = ? AND from_date = ?
	`

	var statement entity.Statement
	err := conn(ctx, r.db).QueryRowContext(ctx, query, accountID, string(frequency), from).Scan(
		&statement.ID,
		&statement.AccountID,
		&statement.Frequency,
		&statement.FromDate,
		&statement.ToDate,
		&statement.InvoiceCount,
		&statement.TotalCents,
		&statement.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &statement, nil
}
