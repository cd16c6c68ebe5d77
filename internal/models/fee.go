package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeeStatus represents the settlement state of a fee record.
type FeeStatus string

// Possible fee statuses.
const (
	FeePending FeeStatus = "PENDING"
	FeePartial FeeStatus = "PARTIAL"
	FeePaid    FeeStatus = "PAID"
	FeeOverdue FeeStatus = "OVERDUE"
)

// FeeRecord is the per-student, per-term balance ledger entry.
type FeeRecord struct {
	ID           string          `db:"id" json:"id"`
	StudentID    string          `db:"student_id" json:"student_id"`
	AcademicYear string          `db:"academic_year" json:"academic_year"`
	Term         int             `db:"term" json:"term"`
	TotalAmount  decimal.Decimal `db:"total_amount" json:"total_amount"`
	PaidAmount   decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	Balance      decimal.Decimal `db:"balance" json:"balance"`
	Status       FeeStatus       `db:"status" json:"status"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// Apply credits a completed payment against the record and recomputes the
// derived fields. Overpayment leaves a negative balance for refund
// accounting while the status clamps to PAID.
func (f FeeRecord) Apply(amount decimal.Decimal) FeeRecord {
	f.PaidAmount = f.PaidAmount.Add(amount)
	f.Balance = f.TotalAmount.Sub(f.PaidAmount)
	if f.Balance.LessThanOrEqual(decimal.Zero) {
		f.Status = FeePaid
	} else {
		f.Status = FeePartial
	}
	return f
}

// Outstanding reports whether the record still carries a positive balance.
func (f FeeRecord) Outstanding() bool {
	return f.Balance.GreaterThan(decimal.Zero)
}

// FeeFilter describes query params for listing fee records.
type FeeFilter struct {
	StudentID    string
	AcademicYear string
	Term         int
	Status       string
	Page         int
	PageSize     int
}
