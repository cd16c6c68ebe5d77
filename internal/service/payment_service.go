package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/shule-api/internal/models"
	appErrors "github.com/noah-isme/shule-api/pkg/errors"
	"github.com/noah-isme/shule-api/pkg/export"
	"github.com/noah-isme/shule-api/pkg/mpesa"
	"github.com/noah-isme/shule-api/pkg/sms"
)

type paymentRepository interface {
	List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error)
	FindByID(ctx context.Context, id string) (*models.Payment, error)
	Create(ctx context.Context, payment *models.Payment) error
	CreateTx(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error
	ConsumePendingTx(ctx context.Context, tx *sqlx.Tx, requestID string) (*models.Payment, error)
	ExistsByMpesaReceiptTx(ctx context.Context, tx *sqlx.Tx, receipt string) (bool, error)
	MarkCompletedTx(ctx context.Context, tx *sqlx.Tx, id, mpesaReceipt string, transactionDate *time.Time) error
	MarkFailedTx(ctx context.Context, tx *sqlx.Tx, id string) error
	LinkFeeRecordTx(ctx context.Context, tx *sqlx.Tx, paymentID, feeRecordID string) error
	ListStalePending(ctx context.Context, cutoff time.Time) ([]models.Payment, error)
	Stats(ctx context.Context, now time.Time) (*models.PaymentStats, error)
}

type paymentFeeRepository interface {
	FindByID(ctx context.Context, id string) (*models.FeeRecord, error)
	FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.FeeRecord, error)
	FindLatestOutstandingTx(ctx context.Context, tx *sqlx.Tx, studentID string) (*models.FeeRecord, error)
	ApplyPaymentTx(ctx context.Context, tx *sqlx.Tx, record *models.FeeRecord) error
}

type paymentStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByAdmissionNumber(ctx context.Context, admissionNumber string) (*models.Student, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

var phoneDigits = regexp.MustCompile(`^254[17]\d{8}$`)

// NormalizePhone converts Kenyan subscriber numbers to the canonical
// 254XXXXXXXXX form Daraja expects. Accepted inputs: 07XX/01XX local
// form, bare 7XX/1XX, and already-prefixed 254 numbers with or without
// a leading plus.
func NormalizePhone(phone string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
	cleaned = strings.TrimPrefix(cleaned, "+")

	switch {
	case strings.HasPrefix(cleaned, "0") && len(cleaned) == 10:
		cleaned = "254" + cleaned[1:]
	case (strings.HasPrefix(cleaned, "7") || strings.HasPrefix(cleaned, "1")) && len(cleaned) == 9:
		cleaned = "254" + cleaned
	}

	if !phoneDigits.MatchString(cleaned) {
		return "", fmt.Errorf("invalid phone number %q", phone)
	}
	return cleaned, nil
}

// STKPaymentRequest initiates an M-Pesa STK push against a student account.
type STKPaymentRequest struct {
	StudentID   string          `json:"student_id" validate:"required"`
	FeeRecordID string          `json:"fee_record_id"`
	Amount      decimal.Decimal `json:"amount"`
	Phone       string          `json:"phone" validate:"required"`
	PaidBy      string          `json:"paid_by"`
}

// ManualPaymentRequest records an offline payment (cash or bank deposit).
type ManualPaymentRequest struct {
	StudentID   string          `json:"student_id" validate:"required"`
	FeeRecordID string          `json:"fee_record_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method" validate:"required,oneof=CASH BANK_TRANSFER"`
	PaidBy      string          `json:"paid_by"`
	Notes       string          `json:"notes"`
}

// CallbackOutcome reports what a provider callback did, for logging. The
// HTTP response to the provider is an acknowledgement either way.
type CallbackOutcome struct {
	PaymentID string
	Status    models.PaymentStatus
	Ignored   bool
}

// PaymentService drives the payment lifecycle: initiation, provider
// callbacks, ledger settlement and reconciliation.
type PaymentService struct {
	payments      paymentRepository
	fees          paymentFeeRepository
	students      paymentStudentRepository
	tx            txRunner
	gateway       mpesa.Gateway
	sender        sms.Sender
	pdf           *export.PDFExporter
	metrics       *MetricsService
	validator     *validator.Validate
	logger        *zap.Logger
	pendingMaxAge time.Duration
	schoolName    string
}

// NewPaymentService instantiates PaymentService. Gateway, sender, pdf and
// metrics may be nil; the corresponding features degrade gracefully.
func NewPaymentService(
	payments paymentRepository,
	fees paymentFeeRepository,
	students paymentStudentRepository,
	tx txRunner,
	gateway mpesa.Gateway,
	sender sms.Sender,
	pdf *export.PDFExporter,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	pendingMaxAge time.Duration,
	schoolName string,
) *PaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if pendingMaxAge <= 0 {
		pendingMaxAge = 15 * time.Minute
	}
	if schoolName == "" {
		schoolName = "Shule"
	}
	return &PaymentService{
		payments:      payments,
		fees:          fees,
		students:      students,
		tx:            tx,
		gateway:       gateway,
		sender:        sender,
		pdf:           pdf,
		metrics:       metrics,
		validator:     validate,
		logger:        logger,
		pendingMaxAge: pendingMaxAge,
		schoolName:    schoolName,
	}
}

// List returns payments with pagination metadata.
func (s *PaymentService) List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, *models.Pagination, error) {
	payments, total, err := s.payments.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	}
	return payments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get loads a single payment.
func (s *PaymentService) Get(ctx context.Context, id string) (*models.Payment, error) {
	payment, err := s.payments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	return payment, nil
}

// InitiateSTKPush validates the request, pushes the STK prompt to the
// payer's phone and records a PENDING payment correlated by
// CheckoutRequestID.
func (s *PaymentService) InitiateSTKPush(ctx context.Context, req STKPaymentRequest) (*models.Payment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if !req.Amount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "amount must be positive")
	}
	if s.gateway == nil {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "M-Pesa gateway not configured")
	}

	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid phone number")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	var feeRecordID *string
	if req.FeeRecordID != "" {
		record, err := s.fees.FindByID(ctx, req.FeeRecordID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "fee record not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fee record")
		}
		if record.StudentID != student.ID {
			return nil, appErrors.Clone(appErrors.ErrValidation, "fee record does not belong to the student")
		}
		feeRecordID = &record.ID
	}

	// Daraja rejects fractional amounts; round half up to the shilling.
	push, err := s.gateway.STKPush(ctx, mpesa.STKPushRequest{
		PhoneNumber:      phone,
		Amount:           req.Amount.Round(0).IntPart(),
		AccountReference: student.AdmissionNumber,
		TransactionDesc:  fmt.Sprintf("School fees %s", student.AdmissionNumber),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "STK push failed")
	}

	payment := &models.Payment{
		StudentID:      student.ID,
		FeeRecordID:    feeRecordID,
		Amount:         req.Amount,
		Method:         models.MethodMpesa,
		Status:         models.PaymentPending,
		Phone:          phone,
		MpesaRequestID: push.CheckoutRequestID,
		ReceiptNumber:  models.GenerateReceiptNumber(),
		PaidBy:         req.PaidBy,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment")
	}

	if s.metrics != nil {
		s.metrics.PaymentInitiated()
	}
	s.logger.Info("STK push initiated",
		zap.String("payment_id", payment.ID),
		zap.String("checkout_request_id", push.CheckoutRequestID),
		zap.String("student_id", student.ID))
	return payment, nil
}

// HandleSTKCallback settles the payment the provider reports on. The
// pending row is consumed under lock inside the same transaction as the
// status write and the ledger update, so duplicate and late callbacks
// find nothing to consume and become no-ops. Errors other than ignorable
// duplicates bubble up so the caller can log, but the HTTP layer always
// acknowledges the provider.
func (s *PaymentService) HandleSTKCallback(ctx context.Context, cb mpesa.STKCallback) (*CallbackOutcome, error) {
	parsed := mpesa.ParseSTKCallback(cb)
	if parsed.CheckoutRequestID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "callback missing CheckoutRequestID")
	}

	outcome := &CallbackOutcome{}
	var settled *models.Payment
	var settledBalance decimal.Decimal
	var settledStudent string

	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		payment, err := s.payments.ConsumePendingTx(ctx, tx, parsed.CheckoutRequestID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				outcome.Ignored = true
				return nil
			}
			return fmt.Errorf("consume pending payment: %w", err)
		}
		outcome.PaymentID = payment.ID

		if !parsed.Success() {
			if err := s.payments.MarkFailedTx(ctx, tx, payment.ID); err != nil {
				return err
			}
			outcome.Status = models.PaymentFailed
			return nil
		}

		transactionDate := parseTransactionTime(parsed.TransactionDate)
		if err := s.payments.MarkCompletedTx(ctx, tx, payment.ID, parsed.ReceiptNumber, transactionDate); err != nil {
			return err
		}
		outcome.Status = models.PaymentCompleted

		record, err := s.resolveLedgerRecordTx(ctx, tx, payment)
		if err != nil {
			return err
		}
		if record == nil {
			s.logger.Warn("completed payment has no outstanding fee record",
				zap.String("payment_id", payment.ID),
				zap.String("student_id", payment.StudentID))
			settled = payment
			settledStudent = payment.StudentID
			return nil
		}

		updated := record.Apply(payment.Amount)
		if err := s.fees.ApplyPaymentTx(ctx, tx, &updated); err != nil {
			return err
		}
		if payment.FeeRecordID == nil {
			if err := s.payments.LinkFeeRecordTx(ctx, tx, payment.ID, record.ID); err != nil {
				return err
			}
		}

		settled = payment
		settledBalance = updated.Balance
		settledStudent = payment.StudentID
		return nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to process STK callback")
	}

	if outcome.Ignored {
		if s.metrics != nil {
			s.metrics.CallbackIgnored()
		}
		s.logger.Info("duplicate or unknown STK callback ignored",
			zap.String("checkout_request_id", parsed.CheckoutRequestID))
		return outcome, nil
	}

	switch outcome.Status {
	case models.PaymentCompleted:
		if s.metrics != nil {
			s.metrics.PaymentCompleted()
		}
		s.notifyPayment(ctx, settled, settledStudent, settledBalance)
	case models.PaymentFailed:
		if s.metrics != nil {
			s.metrics.PaymentFailed()
		}
		s.logger.Info("STK payment failed",
			zap.String("payment_id", outcome.PaymentID),
			zap.Int("result_code", parsed.ResultCode),
			zap.String("result_desc", mpesa.ResultMessage(parsed.ResultCode)))
	}
	return outcome, nil
}

// resolveLedgerRecordTx picks the ledger entry a completed payment
// settles: the record chosen at initiation when present, otherwise the
// student's newest outstanding record. A nil record with nil error means
// nothing to credit.
func (s *PaymentService) resolveLedgerRecordTx(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) (*models.FeeRecord, error) {
	if payment.FeeRecordID != nil {
		record, err := s.fees.FindByIDTx(ctx, tx, *payment.FeeRecordID)
		if err != nil {
			return nil, fmt.Errorf("load fee record: %w", err)
		}
		return record, nil
	}
	record, err := s.fees.FindLatestOutstandingTx(ctx, tx, payment.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find outstanding fee record: %w", err)
	}
	return record, nil
}

// HandleC2BConfirmation records a direct paybill payment. The bill
// reference is the student admission number; the credit lands on the
// student's newest outstanding fee record. Confirmations are
// deduplicated on the provider transaction id.
func (s *PaymentService) HandleC2BConfirmation(ctx context.Context, conf mpesa.C2BConfirmation) (*CallbackOutcome, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(conf.TransAmount))
	if err != nil || !amount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid transaction amount")
	}
	if conf.TransID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "confirmation missing TransID")
	}

	phone := conf.MSISDN
	if normalized, err := NormalizePhone(conf.MSISDN); err == nil {
		phone = normalized
	}

	student, err := s.students.FindByAdmissionNumber(ctx, strings.TrimSpace(conf.BillRefNumber))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Money already moved; record it for manual allocation.
			s.logger.Warn("paybill confirmation references unknown admission number",
				zap.String("bill_ref", conf.BillRefNumber),
				zap.String("trans_id", conf.TransID))
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	transactionDate := parseTransactionTime(conf.TransTime)
	outcome := &CallbackOutcome{}
	var settledBalance decimal.Decimal
	var settled *models.Payment

	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		exists, err := s.payments.ExistsByMpesaReceiptTx(ctx, tx, conf.TransID)
		if err != nil {
			return err
		}
		if exists {
			outcome.Ignored = true
			return nil
		}

		payment := &models.Payment{
			StudentID:       student.ID,
			Amount:          amount,
			Method:          models.MethodMpesa,
			Status:          models.PaymentCompleted,
			Phone:           phone,
			MpesaReceipt:    conf.TransID,
			TransactionDate: transactionDate,
			ReceiptNumber:   models.GenerateReceiptNumber(),
			PaidBy:          strings.TrimSpace(conf.FirstName),
		}

		record, err := s.fees.FindLatestOutstandingTx(ctx, tx, student.ID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("find outstanding fee record: %w", err)
		}
		if record != nil {
			payment.FeeRecordID = &record.ID
		}

		if err := s.payments.CreateTx(ctx, tx, payment); err != nil {
			return err
		}
		if record != nil {
			updated := record.Apply(amount)
			if err := s.fees.ApplyPaymentTx(ctx, tx, &updated); err != nil {
				return err
			}
			settledBalance = updated.Balance
		}

		outcome.PaymentID = payment.ID
		outcome.Status = models.PaymentCompleted
		settled = payment
		return nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to process paybill confirmation")
	}

	if outcome.Ignored {
		if s.metrics != nil {
			s.metrics.CallbackIgnored()
		}
		s.logger.Info("duplicate paybill confirmation ignored", zap.String("trans_id", conf.TransID))
		return outcome, nil
	}

	if s.metrics != nil {
		s.metrics.PaymentCompleted()
	}
	s.notifyPayment(ctx, settled, student.ID, settledBalance)
	return outcome, nil
}

// RecordManualPayment settles an offline payment against the ledger in
// one transaction.
func (s *PaymentService) RecordManualPayment(ctx context.Context, req ManualPaymentRequest) (*models.Payment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if !req.Amount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "amount must be positive")
	}

	var payment *models.Payment
	var settledBalance decimal.Decimal
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		record, err := s.fees.FindByIDTx(ctx, tx, req.FeeRecordID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "fee record not found")
			}
			return fmt.Errorf("load fee record: %w", err)
		}
		if record.StudentID != req.StudentID {
			return appErrors.Clone(appErrors.ErrValidation, "fee record does not belong to the student")
		}

		now := time.Now().UTC()
		payment = &models.Payment{
			StudentID:       req.StudentID,
			FeeRecordID:     &record.ID,
			Amount:          req.Amount,
			Method:          models.PaymentMethod(req.Method),
			Status:          models.PaymentCompleted,
			TransactionDate: &now,
			ReceiptNumber:   models.GenerateReceiptNumber(),
			PaidBy:          req.PaidBy,
			Notes:           req.Notes,
		}
		if err := s.payments.CreateTx(ctx, tx, payment); err != nil {
			return err
		}

		updated := record.Apply(req.Amount)
		if err := s.fees.ApplyPaymentTx(ctx, tx, &updated); err != nil {
			return err
		}
		settledBalance = updated.Balance
		return nil
	})
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment")
	}

	if s.metrics != nil {
		s.metrics.PaymentCompleted()
	}
	s.logger.Info("manual payment recorded",
		zap.String("payment_id", payment.ID),
		zap.String("method", string(payment.Method)),
		zap.String("balance", settledBalance.StringFixed(2)))
	return payment, nil
}

// QueryStatus asks the provider for the live status of a pending STK
// payment. Terminal payments answer from the database.
func (s *PaymentService) QueryStatus(ctx context.Context, paymentID string) (*models.Payment, *mpesa.STKQueryResponse, error) {
	payment, err := s.Get(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	if payment.Status != models.PaymentPending || payment.MpesaRequestID == "" {
		return payment, nil, nil
	}
	if s.gateway == nil {
		return payment, nil, nil
	}

	status, err := s.gateway.STKQuery(ctx, payment.MpesaRequestID)
	if err != nil {
		// Daraja answers with an error while the prompt is still open.
		s.logger.Debug("STK query inconclusive",
			zap.String("payment_id", paymentID),
			zap.Error(err))
		return payment, nil, nil
	}
	return payment, status, nil
}

// ReconcileStalePending resolves payments stuck in PENDING longer than
// the configured window by querying the provider and replaying the
// result through the regular settlement path.
func (s *PaymentService) ReconcileStalePending(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.pendingMaxAge)
	stale, err := s.payments.ListStalePending(ctx, cutoff)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list stale payments")
	}

	resolved := 0
	for _, payment := range stale {
		if err := s.ReconcilePayment(ctx, payment.ID, payment.MpesaRequestID); err != nil {
			s.logger.Warn("payment reconciliation failed",
				zap.String("payment_id", payment.ID),
				zap.Error(err))
			continue
		}
		resolved++
	}
	return resolved, nil
}

// ReconcilePayment queries the provider for one stuck payment and applies
// the verdict. An inconclusive provider answer leaves the payment
// pending for the next sweep.
func (s *PaymentService) ReconcilePayment(ctx context.Context, paymentID, checkoutRequestID string) error {
	if s.gateway == nil || checkoutRequestID == "" {
		return nil
	}

	status, err := s.gateway.STKQuery(ctx, checkoutRequestID)
	if err != nil {
		return nil
	}

	resultCode, err := strconv.Atoi(strings.TrimSpace(status.ResultCode))
	if err != nil {
		return nil
	}

	cb := mpesa.STKCallback{}
	cb.Body.StkCallback.CheckoutRequestID = checkoutRequestID
	cb.Body.StkCallback.ResultCode = resultCode
	cb.Body.StkCallback.ResultDesc = status.ResultDesc
	if resultCode == 0 {
		// Success without metadata: the amount is taken from the stored
		// payment row, the Daraja receipt arrives empty and stays so.
		s.logger.Info("stale payment confirmed by provider query",
			zap.String("payment_id", paymentID))
	}

	_, err = s.HandleSTKCallback(ctx, cb)
	return err
}

// Stats aggregates collections for dashboards.
func (s *PaymentService) Stats(ctx context.Context) (*models.PaymentStats, error) {
	stats, err := s.payments.Stats(ctx, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment stats")
	}
	return stats, nil
}

// ReceiptPDF renders a printable receipt for a completed payment.
func (s *PaymentService) ReceiptPDF(ctx context.Context, paymentID string) ([]byte, error) {
	if s.pdf == nil {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "PDF rendering not configured")
	}

	payment, err := s.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentCompleted {
		return nil, appErrors.Clone(appErrors.ErrValidation, "receipt available only for completed payments")
	}

	student, err := s.students.FindByID(ctx, payment.StudentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	balance := ""
	if payment.FeeRecordID != nil {
		if record, err := s.fees.FindByID(ctx, *payment.FeeRecordID); err == nil {
			balance = record.Balance.StringFixed(2)
		}
	}

	reference := payment.MpesaReceipt
	if reference == "" {
		reference = string(payment.Method)
	}
	issuedAt := payment.CreatedAt
	if payment.TransactionDate != nil {
		issuedAt = *payment.TransactionDate
	}

	payload, err := s.pdf.RenderReceipt(export.Receipt{
		SchoolName:    s.schoolName,
		ReceiptNumber: payment.ReceiptNumber,
		StudentName:   student.FullName(),
		Admission:     student.AdmissionNumber,
		Amount:        payment.Amount.StringFixed(2),
		Method:        string(payment.Method),
		Reference:     reference,
		Balance:       balance,
		IssuedAt:      issuedAt.Format("02 Jan 2006 15:04"),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render receipt")
	}
	return payload, nil
}

// notifyPayment sends the confirmation SMS after the transaction has
// committed. Delivery failure never affects the settled payment.
func (s *PaymentService) notifyPayment(ctx context.Context, payment *models.Payment, studentID string, balance decimal.Decimal) {
	if s.sender == nil || payment == nil {
		return
	}
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		s.logger.Warn("payment confirmation skipped, student lookup failed",
			zap.String("payment_id", payment.ID), zap.Error(err))
		return
	}
	phone := payment.Phone
	if phone == "" {
		phone = student.GuardianPhone
	}
	if phone == "" {
		return
	}
	if err := s.sender.SendPaymentConfirmation(ctx, phone, student.FullName(), payment.Amount, payment.ReceiptNumber, balance); err != nil {
		s.logger.Warn("payment confirmation SMS failed",
			zap.String("payment_id", payment.ID), zap.Error(err))
	}
}

// parseTransactionTime decodes Daraja's yyyymmddhhmmss timestamps. The
// provider clock is Nairobi time.
func parseTransactionTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	loc, err := time.LoadLocation("Africa/Nairobi")
	if err != nil {
		loc = time.FixedZone("EAT", 3*60*60)
	}
	t, err := time.ParseInLocation("20060102150405", raw, loc)
	if err != nil {
		return nil
	}
	return &t
}
