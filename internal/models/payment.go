package models

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod identifies how money was transferred.
type PaymentMethod string

// Supported payment methods.
const (
	MethodMpesa        PaymentMethod = "MPESA"
	MethodCash         PaymentMethod = "CASH"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
)

// PaymentStatus is the payment state machine. PENDING transitions to
// COMPLETED or FAILED exactly once; terminal states are immutable.
type PaymentStatus string

// Payment states.
const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// Payment is one attempted or completed money transfer.
type Payment struct {
	ID              string          `db:"id" json:"id"`
	StudentID       string          `db:"student_id" json:"student_id"`
	FeeRecordID     *string         `db:"fee_record_id" json:"fee_record_id,omitempty"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	Method          PaymentMethod   `db:"method" json:"method"`
	Status          PaymentStatus   `db:"status" json:"status"`
	Phone           string          `db:"phone" json:"phone,omitempty"`
	MpesaRequestID  string          `db:"mpesa_request_id" json:"mpesa_request_id,omitempty"`
	MpesaReceipt    string          `db:"mpesa_receipt" json:"mpesa_receipt,omitempty"`
	TransactionDate *time.Time      `db:"transaction_date" json:"transaction_date,omitempty"`
	ReceiptNumber   string          `db:"receipt_number" json:"receipt_number"`
	PaidBy          string          `db:"paid_by" json:"paid_by,omitempty"`
	Notes           string          `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// PaymentFilter describes query params for listing payments.
type PaymentFilter struct {
	StudentID string
	Status    string
	Method    string
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

// PaymentStats aggregates completed collections over common windows.
type PaymentStats struct {
	TotalCollected decimal.Decimal `json:"total_collected"`
	Today          decimal.Decimal `json:"today"`
	ThisWeek       decimal.Decimal `json:"this_week"`
	ThisMonth      decimal.Decimal `json:"this_month"`
}

// GenerateReceiptNumber produces a unique human-readable receipt reference.
func GenerateReceiptNumber() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	suffix := int64(0)
	if err == nil {
		suffix = n.Int64()
	}
	return fmt.Sprintf("REC-%d-%03d", time.Now().UnixMilli(), suffix)
}
