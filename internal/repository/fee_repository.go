package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/shule-api/internal/models"
)

const feeColumns = "id, student_id, academic_year, term, total_amount, paid_amount, balance, status, created_at, updated_at"

// FeeRepository provides persistence for fee ledger records.
type FeeRepository struct {
	db *sqlx.DB
}

// NewFeeRepository creates a new fee repository.
func NewFeeRepository(db *sqlx.DB) *FeeRepository {
	return &FeeRepository{db: db}
}

// List returns fee records with optional filtering and pagination.
func (r *FeeRepository) List(ctx context.Context, filter models.FeeFilter) ([]models.FeeRecord, int, error) {
	base := "FROM fee_records WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.AcademicYear != "" {
		conditions = append(conditions, fmt.Sprintf("academic_year = $%d", len(args)+1))
		args = append(args, filter.AcademicYear)
	}
	if filter.Term > 0 {
		conditions = append(conditions, fmt.Sprintf("term = $%d", len(args)+1))
		args = append(args, filter.Term)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", feeColumns, base, size, offset)
	var records []models.FeeRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list fee records: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count fee records: %w", err)
	}

	return records, total, nil
}

// FindByID loads a fee record by id.
func (r *FeeRepository) FindByID(ctx context.Context, id string) (*models.FeeRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM fee_records WHERE id = $1", feeColumns)
	var record models.FeeRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// FindByStudentTerm loads a student's record for one year/term pair.
// At most one record exists per (student, year, term).
func (r *FeeRepository) FindByStudentTerm(ctx context.Context, studentID, academicYear string, term int) (*models.FeeRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM fee_records WHERE student_id = $1 AND academic_year = $2 AND term = $3 LIMIT 1", feeColumns)
	var record models.FeeRecord
	if err := r.db.GetContext(ctx, &record, query, studentID, academicYear, term); err != nil {
		return nil, err
	}
	return &record, nil
}

// FindByIDTx loads a fee record inside a transaction, locking the row so
// concurrent payment applications serialise on it.
func (r *FeeRepository) FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.FeeRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM fee_records WHERE id = $1 FOR UPDATE", feeColumns)
	var record models.FeeRecord
	if err := tx.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// FindLatestOutstandingTx returns the newest record with a positive
// balance for the student, row-locked. Paybill confirmations credit this
// record.
func (r *FeeRepository) FindLatestOutstandingTx(ctx context.Context, tx *sqlx.Tx, studentID string) (*models.FeeRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM fee_records WHERE student_id = $1 AND balance > 0 ORDER BY created_at DESC LIMIT 1 FOR UPDATE", feeColumns)
	var record models.FeeRecord
	if err := tx.GetContext(ctx, &record, query, studentID); err != nil {
		return nil, err
	}
	return &record, nil
}

// Create stores a new fee record.
func (r *FeeRepository) Create(ctx context.Context, record *models.FeeRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	const query = `INSERT INTO fee_records (id, student_id, academic_year, term, total_amount, paid_amount, balance, status, created_at, updated_at) VALUES (:id, :student_id, :academic_year, :term, :total_amount, :paid_amount, :balance, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("create fee record: %w", err)
	}
	return nil
}

// BulkCreate inserts many fee records within one transaction.
func (r *FeeRepository) BulkCreate(ctx context.Context, records []models.FeeRecord) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk create fee records: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	for i := range records {
		payload := records[i]
		if payload.ID == "" {
			payload.ID = uuid.NewString()
		}
		if payload.CreatedAt.IsZero() {
			payload.CreatedAt = now
		}
		payload.UpdatedAt = now

		if _, err = tx.NamedExecContext(ctx, `INSERT INTO fee_records (id, student_id, academic_year, term, total_amount, paid_amount, balance, status, created_at, updated_at) VALUES (:id, :student_id, :academic_year, :term, :total_amount, :paid_amount, :balance, :status, :created_at, :updated_at)`, &payload); err != nil {
			return fmt.Errorf("bulk insert fee record: %w", err)
		}
		records[i] = payload
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk create fee records: %w", err)
	}
	return nil
}

// ApplyPaymentTx persists recomputed ledger fields inside the caller's
// transaction.
func (r *FeeRepository) ApplyPaymentTx(ctx context.Context, tx *sqlx.Tx, record *models.FeeRecord) error {
	record.UpdatedAt = time.Now().UTC()
	const query = `UPDATE fee_records SET paid_amount = :paid_amount, balance = :balance, status = :status, updated_at = :updated_at WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("apply payment to fee record: %w", err)
	}
	return nil
}

// ListDefaulters returns outstanding records ordered by balance, largest
// first.
func (r *FeeRepository) ListDefaulters(ctx context.Context, academicYear string, term int) ([]models.FeeRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM fee_records WHERE balance > 0 AND status IN ('PENDING', 'PARTIAL', 'OVERDUE')", feeColumns)
	var args []interface{}
	if academicYear != "" {
		args = append(args, academicYear)
		query += fmt.Sprintf(" AND academic_year = $%d", len(args))
	}
	if term > 0 {
		args = append(args, term)
		query += fmt.Sprintf(" AND term = $%d", len(args))
	}
	query += " ORDER BY balance DESC"

	var records []models.FeeRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("list fee defaulters: %w", err)
	}
	return records, nil
}

// MarkOverdue flags unpaid records for a year/term created before the
// cutoff.
func (r *FeeRepository) MarkOverdue(ctx context.Context, academicYear string, term int, cutoff time.Time) (int64, error) {
	const query = `UPDATE fee_records SET status = 'OVERDUE', updated_at = NOW() WHERE academic_year = $1 AND term = $2 AND balance > 0 AND status IN ('PENDING', 'PARTIAL') AND created_at < $3`
	res, err := r.db.ExecContext(ctx, query, academicYear, term, cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark fee records overdue: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count overdue fee records: %w", err)
	}
	return count, nil
}
