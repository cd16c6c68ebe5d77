package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/shule-api/internal/models"
)

const paymentColumns = "id, student_id, fee_record_id, amount, method, status, phone, mpesa_request_id, mpesa_receipt, transaction_date, receipt_number, paid_by, notes, created_at, updated_at"

// PaymentRepository provides persistence for payments.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository creates a new payment repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// List returns payments with optional filtering and pagination.
func (r *PaymentRepository) List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error) {
	base := "FROM payments WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Method != "" {
		conditions = append(conditions, fmt.Sprintf("method = $%d", len(args)+1))
		args = append(args, filter.Method)
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)+1))
		args = append(args, *filter.To)
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", paymentColumns, base, size, offset)
	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}

	return payments, total, nil
}

// FindByID loads a payment by id.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	query := fmt.Sprintf("SELECT %s FROM payments WHERE id = $1", paymentColumns)
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, id); err != nil {
		return nil, err
	}
	return &payment, nil
}

// Create stores a new payment.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	return r.insert(ctx, r.db, payment)
}

// CreateTx stores a new payment inside the caller's transaction.
func (r *PaymentRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error {
	return r.insert(ctx, tx, payment)
}

func (r *PaymentRepository) insert(ctx context.Context, exec sqlx.ExtContext, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.ReceiptNumber == "" {
		payment.ReceiptNumber = models.GenerateReceiptNumber()
	}
	now := time.Now().UTC()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now

	const query = `INSERT INTO payments (id, student_id, fee_record_id, amount, method, status, phone, mpesa_request_id, mpesa_receipt, transaction_date, receipt_number, paid_by, notes, created_at, updated_at) VALUES (:id, :student_id, :fee_record_id, :amount, :method, :status, :phone, :mpesa_request_id, :mpesa_receipt, :transaction_date, :receipt_number, :paid_by, :notes, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, payment); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// ConsumePendingTx locks and returns the pending payment correlated with
// the provider request id. sql.ErrNoRows means the callback was already
// processed or references an unknown request; callers acknowledge without
// side effects. The row lock closes the race between near-simultaneous
// duplicate callbacks.
func (r *PaymentRepository) ConsumePendingTx(ctx context.Context, tx *sqlx.Tx, requestID string) (*models.Payment, error) {
	query := fmt.Sprintf("SELECT %s FROM payments WHERE mpesa_request_id = $1 AND status = $2 FOR UPDATE", paymentColumns)
	var payment models.Payment
	if err := tx.GetContext(ctx, &payment, query, requestID, models.PaymentPending); err != nil {
		return nil, err
	}
	return &payment, nil
}

// ExistsByMpesaReceiptTx reports whether a payment already carries the
// provider receipt. Paybill confirmations are deduplicated on it.
func (r *PaymentRepository) ExistsByMpesaReceiptTx(ctx context.Context, tx *sqlx.Tx, receipt string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM payments WHERE mpesa_receipt = $1)`
	var exists bool
	if err := tx.GetContext(ctx, &exists, query, receipt); err != nil {
		return false, fmt.Errorf("check payment by receipt: %w", err)
	}
	return exists, nil
}

// MarkCompletedTx transitions a payment to its terminal COMPLETED state.
func (r *PaymentRepository) MarkCompletedTx(ctx context.Context, tx *sqlx.Tx, id, mpesaReceipt string, transactionDate *time.Time) error {
	const query = `UPDATE payments SET status = $1, mpesa_receipt = $2, transaction_date = $3, updated_at = $4 WHERE id = $5`
	if _, err := tx.ExecContext(ctx, query, models.PaymentCompleted, mpesaReceipt, transactionDate, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("mark payment completed: %w", err)
	}
	return nil
}

// MarkFailedTx transitions a payment to its terminal FAILED state.
func (r *PaymentRepository) MarkFailedTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	const query = `UPDATE payments SET status = $1, updated_at = $2 WHERE id = $3`
	if _, err := tx.ExecContext(ctx, query, models.PaymentFailed, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("mark payment failed: %w", err)
	}
	return nil
}

// LinkFeeRecordTx attaches a payment to the ledger entry it settled.
func (r *PaymentRepository) LinkFeeRecordTx(ctx context.Context, tx *sqlx.Tx, paymentID, feeRecordID string) error {
	const query = `UPDATE payments SET fee_record_id = $1, updated_at = $2 WHERE id = $3`
	if _, err := tx.ExecContext(ctx, query, feeRecordID, time.Now().UTC(), paymentID); err != nil {
		return fmt.Errorf("link payment to fee record: %w", err)
	}
	return nil
}

// ListStalePending returns M-Pesa payments stuck in PENDING since before
// the cutoff, for provider status reconciliation.
func (r *PaymentRepository) ListStalePending(ctx context.Context, cutoff time.Time) ([]models.Payment, error) {
	query := fmt.Sprintf("SELECT %s FROM payments WHERE status = $1 AND method = $2 AND created_at < $3 ORDER BY created_at ASC", paymentColumns)
	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, models.PaymentPending, models.MethodMpesa, cutoff); err != nil {
		return nil, fmt.Errorf("list stale pending payments: %w", err)
	}
	return payments, nil
}

// Stats aggregates completed collections for common reporting windows.
func (r *PaymentRepository) Stats(ctx context.Context, now time.Time) (*models.PaymentStats, error) {
	const query = `SELECT
		COALESCE(SUM(amount), 0) AS total,
		COALESCE(SUM(amount) FILTER (WHERE created_at >= $1), 0) AS today,
		COALESCE(SUM(amount) FILTER (WHERE created_at >= $2), 0) AS week,
		COALESCE(SUM(amount) FILTER (WHERE created_at >= $3), 0) AS month
	FROM payments WHERE status = 'COMPLETED'`

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekStart := dayStart.AddDate(0, 0, -int(now.Weekday()))
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	var total, today, week, month decimal.Decimal
	if err := r.db.QueryRowxContext(ctx, query, dayStart, weekStart, monthStart).Scan(&total, &today, &week, &month); err != nil {
		return nil, fmt.Errorf("payment stats: %w", err)
	}

	return &models.PaymentStats{
		TotalCollected: total,
		Today:          today,
		ThisWeek:       week,
		ThisMonth:      month,
	}, nil
}
