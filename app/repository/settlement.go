package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
)

var (
	ErrSettlementRecordExists   = errors.New("settlement record already exists")
	ErrSettlementRecordNotFound = errors.New("settlement record not found")
	ErrSettlementFileExists     = errors.New("settlement file already processed")
)

const settlementRecordColumns = `
	id, source, external_id, reference, record_type, target_status, amount_cents,
	file_name, processing_status, reason, payload_json, attempts, created_at, updated_at`

type SettlementRepository struct {
	db DBTX
}

func NewSettlementRepository(db DBTX) *SettlementRepository {
	return &SettlementRepository{db: db}
}

// CreateRecord inserts a record, returning ErrSettlementRecordExists when the
// (source, external_id) pair was seen before.
func (r *SettlementRepository) CreateRecord(ctx context.Context, record *entity.SettlementRecord) error {
	query := `
		INSERT INTO settlement_records (
			source, external_id, reference, record_type, target_status, amount_cents,
			file_name, processing_status, reason, payload_json, attempts, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		string(record.Source),
		record.ExternalID,
		record.Reference,
		record.RecordType,
		record.TargetStatus,
		record.AmountCents,
		record.FileName,
		record.ProcessingStatus,
		nullableStringValue(record.Reason),
		record.PayloadJSON,
		record.Attempts,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrSettlementRecordExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	record.ID = uint64(id)
	return nil
}

func (r *SettlementRepository) UpdateRecord(ctx context.Context, record *entity.SettlementRecord) error {
	query := `
		UPDATE settlement_records SET
			processing_status = ?,
			reason = ?,
			attempts = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		record.ProcessingStatus,
		nullableStringValue(record.Reason),
		record.Attempts,
		record.UpdatedAt,
		record.ID,
	)
	if err != nil {
		return err
	}
	return affectedOrNotFound(result, ErrSettlementRecordNotFound)
}

func (r *SettlementRepository) FindRecord(ctx context.Context, source entity.SettlementSource, externalID string) (*entity.SettlementRecord, error) {
	query := `SELECT ` + settlementRecordColumns + `
		FROM settlement_records
		WHERE source = ? AND external_id = ?
	`
	record, err := scanSettlementRecord(conn(ctx, r.db).QueryRowContext(ctx, query, string(source), externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return record, err
}

func (r *SettlementRepository) FindRecordByIDForUpdate(ctx context.Context, id uint64) (*entity.SettlementRecord, error) {
	query := `SELECT ` + settlementRecordColumns + ` FROM settlement_records WHERE id = ? FOR UPDATE`
	record, err := scanSettlementRecord(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return record, err
}

func (r *SettlementRepository) ListParked(ctx context.Context, maxAttempts int32, limit int32) ([]*entity.SettlementRecord, error) {
	query := `SELECT ` + settlementRecordColumns + `
		FROM settlement_records
		WHERE processing_status = ? AND attempts < ?
		ORDER BY updated_at ASC
		LIMIT ?
	`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, entity.SettlementParked, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*entity.SettlementRecord, 0)
	for rows.Next() {
		item, err := scanSettlementRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *SettlementRepository) FindFile(ctx context.Context, fileName string) (*entity.SettlementFile, error) {
	query := `
		SELECT id, file_name, source, record_count, parked_count, processed_at
		FROM settlement_files
		WHERE file_name = ?
	`

	var file entity.SettlementFile
	err := conn(ctx, r.db).QueryRowContext(ctx, query, fileName).Scan(
		&file.ID,
		&file.FileName,
		&file.Source,
		&file.RecordCount,
		&file.ParkedCount,
		&file.ProcessedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func (r *SettlementRepository) CreateFile(ctx context.Context, file *entity.SettlementFile) error {
	query := `
		INSERT INTO settlement_files (file_name, source, record_count, parked_count, processed_at)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		file.FileName,
		string(file.Source),
		file.RecordCount,
		file.ParkedCount,
		file.ProcessedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrSettlementFileExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	file.ID = uint64(id)
	return nil
}

func scanSettlementRecord(scan rowScanner) (*entity.SettlementRecord, error) {
	var (
		record entity.SettlementRecord
		reason sql.NullString
	)

	err := scan.Scan(
		&record.ID,
		&record.Source,
		&record.ExternalID,
		&record.Reference,
		&record.RecordType,
		&record.TargetStatus,
		&record.AmountCents,
		&record.FileName,
		&record.ProcessingStatus,
		&reason,
		&record.PayloadJSON,
		&record.Attempts,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Reason = stringPtrFromNull(reason)
	return &record, nil
}
