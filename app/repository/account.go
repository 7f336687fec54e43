package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
)

var ErrAccountNotFound = errors.New("account not found")

const accountColumns = `
	id, name, payment_method, billable,
	cfs_party_number, cfs_account_number, cfs_site_number, cfs_status,
	pad_activation_date, bcol_account_number, credit_cents, statement_frequency,
	created_at, updated_at`

type AccountRepository struct {
	db DBTX
}

func NewAccountRepository(db DBTX) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, account *entity.Account) error {
	query := `
		INSERT INTO accounts (
			name, payment_method, billable,
			cfs_party_number, cfs_account_number, cfs_site_number, cfs_status,
			pad_activation_date, bcol_account_number, credit_cents, statement_frequency,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		account.Name,
		string(account.PaymentMethod),
		account.Billable,
		nullableStringValue(account.CFSPartyNumber),
		nullableStringValue(account.CFSAccountNumber),
		nullableStringValue(account.CFSSiteNumber),
		string(account.CFSStatus),
		nullableTimeValue(account.PADActivationDate),
		nullableStringValue(account.BCOLAccountNumber),
		account.CreditCents,
		string(account.StatementFrequency),
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	account.ID = uint64(id)
	return nil
}

func (r *AccountRepository) Update(ctx context.Context, account *entity.Account) error {
	query := `
		UPDATE accounts SET
			name = ?,
			payment_method = ?,
			billable = ?,
			cfs_party_number = ?,
			cfs_account_number = ?,
			cfs_site_number = ?,
			cfs_status = ?,
			pad_activation_date = ?,
			bcol_account_number = ?,
			credit_cents = ?,
			statement_frequency = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		account.Name,
		string(account.PaymentMethod),
		account.Billable,
		nullableStringValue(account.CFSPartyNumber),
		nullableStringValue(account.CFSAccountNumber),
		nullableStringValue(account.CFSSiteNumber),
		string(account.CFSStatus),
		nullableTimeValue(account.PADActivationDate),
		nullableStringValue(account.BCOLAccountNumber),
		account.CreditCents,
		string(account.StatementFrequency),
		account.UpdatedAt,
		account.ID,
	)
	if err != nil {
		return err
	}
	return affectedOrNotFound(result, ErrAccountNotFound)
}

func (r *AccountRepository) FindByID(ctx context.Context, id uint64) (*entity.Account, error) {
	return r.findByID(ctx, id, false)
}

func (r *AccountRepository) FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Account, error) {
	return r.findByID(ctx, id, true)
}

func (r *AccountRepository) findByID(ctx context.Context, id uint64, forUpdate bool) (*entity.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?` + lockClause(forUpdate)

	account, err := scanAccount(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return account, err
}

// ListPendingPADActivation returns PAD accounts whose confirmation period ends before cutoff.
func (r *AccountRepository) ListPendingPADActivation(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts
		WHERE cfs_status = ?
		  AND pad_activation_date IS NOT NULL
		  AND pad_activation_date <= ?
		ORDER BY pad_activation_date ASC
		LIMIT ?
	`
	return r.list(ctx, query, string(entity.CFSAccountPendingPADActivation), cutoff, limit)
}

func (r *AccountRepository) ListByStatementFrequency(ctx context.Context, frequency entity.StatementFrequency, afterID uint64, limit int32) ([]*entity.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts
		WHERE statement_frequency = ? AND billable = TRUE AND id > ?
		ORDER BY id ASC
		LIMIT ?
	`
	return r.list(ctx, query, string(frequency), afterID, limit)
}

func (r *AccountRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.Account, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]*entity.Account, 0)
	for rows.Next() {
		item, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

func scanAccount(scan rowScanner) (*entity.Account, error) {
	var (
		account       entity.Account
		partyNumber   sql.NullString
		accountNumber sql.NullString
		siteNumber    sql.NullString
		padDate       sql.NullTime
		bcolNumber    sql.NullString
	)

	err := scan.Scan(
		&account.ID,
		&account.Name,
		&account.PaymentMethod,
		&account.Billable,
		&partyNumber,
		&accountNumber,
		&siteNumber,
		&account.CFSStatus,
		&padDate,
		&bcolNumber,
		&account.CreditCents,
		&account.StatementFrequency,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	account.CFSPartyNumber = stringPtrFromNull(partyNumber)
	account.CFSAccountNumber = stringPtrFromNull(accountNumber)
	account.CFSSiteNumber = stringPtrFromNull(siteNumber)
	account.PADActivationDate = timePtrFromNull(padDate)
	account.BCOLAccountNumber = stringPtrFromNull(bcolNumber)
	return &account, nil
}
