package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/shule-api/internal/models"
	appErrors "github.com/noah-isme/shule-api/pkg/errors"
	"github.com/noah-isme/shule-api/pkg/mpesa"
)

// stubTxRunner executes the closure without a real transaction; the mock
// repositories ignore the tx argument.
type stubTxRunner struct {
	calls int
	err   error
}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	return fn(nil)
}

type mockPaymentRepo struct {
	payments map[string]*models.Payment
	seq      int
}

func newMockPaymentRepo() *mockPaymentRepo {
	return &mockPaymentRepo{payments: map[string]*models.Payment{}}
}

func (m *mockPaymentRepo) List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error) {
	var out []models.Payment
	for _, p := range m.payments {
		out = append(out, *p)
	}
	return out, len(out), nil
}

func (m *mockPaymentRepo) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *p
	return &clone, nil
}

func (m *mockPaymentRepo) Create(ctx context.Context, payment *models.Payment) error {
	m.seq++
	if payment.ID == "" {
		payment.ID = fmt.Sprintf("pay-%d", m.seq)
	}
	stored := *payment
	m.payments[payment.ID] = &stored
	return nil
}

func (m *mockPaymentRepo) CreateTx(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error {
	return m.Create(ctx, payment)
}

func (m *mockPaymentRepo) ConsumePendingTx(ctx context.Context, tx *sqlx.Tx, requestID string) (*models.Payment, error) {
	for _, p := range m.payments {
		if p.MpesaRequestID == requestID && p.Status == models.PaymentPending {
			clone := *p
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockPaymentRepo) ExistsByMpesaReceiptTx(ctx context.Context, tx *sqlx.Tx, receipt string) (bool, error) {
	for _, p := range m.payments {
		if p.MpesaReceipt == receipt {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockPaymentRepo) MarkCompletedTx(ctx context.Context, tx *sqlx.Tx, id, mpesaReceipt string, transactionDate *time.Time) error {
	p, ok := m.payments[id]
	if !ok {
		return sql.ErrNoRows
	}
	p.Status = models.PaymentCompleted
	p.MpesaReceipt = mpesaReceipt
	p.TransactionDate = transactionDate
	return nil
}

func (m *mockPaymentRepo) MarkFailedTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	p, ok := m.payments[id]
	if !ok {
		return sql.ErrNoRows
	}
	p.Status = models.PaymentFailed
	return nil
}

func (m *mockPaymentRepo) LinkFeeRecordTx(ctx context.Context, tx *sqlx.Tx, paymentID, feeRecordID string) error {
	p, ok := m.payments[paymentID]
	if !ok {
		return sql.ErrNoRows
	}
	p.FeeRecordID = &feeRecordID
	return nil
}

func (m *mockPaymentRepo) ListStalePending(ctx context.Context, cutoff time.Time) ([]models.Payment, error) {
	var out []models.Payment
	for _, p := range m.payments {
		if p.Status == models.PaymentPending && p.Method == models.MethodMpesa && p.CreatedAt.Before(cutoff) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockPaymentRepo) Stats(ctx context.Context, now time.Time) (*models.PaymentStats, error) {
	total := decimal.Zero
	for _, p := range m.payments {
		if p.Status == models.PaymentCompleted {
			total = total.Add(p.Amount)
		}
	}
	return &models.PaymentStats{TotalCollected: total}, nil
}

type mockLedgerRepo struct {
	records map[string]*models.FeeRecord
	// ordered newest first, mirrors FindLatestOutstandingTx ordering
	order []string
}

func newMockLedgerRepo(records ...*models.FeeRecord) *mockLedgerRepo {
	m := &mockLedgerRepo{records: map[string]*models.FeeRecord{}}
	for _, r := range records {
		m.records[r.ID] = r
		m.order = append(m.order, r.ID)
	}
	return m
}

func (m *mockLedgerRepo) FindByID(ctx context.Context, id string) (*models.FeeRecord, error) {
	return m.FindByIDTx(ctx, nil, id)
}

func (m *mockLedgerRepo) FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.FeeRecord, error) {
	r, ok := m.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *r
	return &clone, nil
}

func (m *mockLedgerRepo) FindLatestOutstandingTx(ctx context.Context, tx *sqlx.Tx, studentID string) (*models.FeeRecord, error) {
	for _, id := range m.order {
		r := m.records[id]
		if r.StudentID == studentID && r.Balance.IsPositive() {
			clone := *r
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockLedgerRepo) ApplyPaymentTx(ctx context.Context, tx *sqlx.Tx, record *models.FeeRecord) error {
	stored, ok := m.records[record.ID]
	if !ok {
		return sql.ErrNoRows
	}
	*stored = *record
	return nil
}

type mockPayerStudentRepo struct {
	students map[string]models.Student
}

func (m *mockPayerStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	s, ok := m.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (m *mockPayerStudentRepo) FindByAdmissionNumber(ctx context.Context, admissionNumber string) (*models.Student, error) {
	for _, s := range m.students {
		if s.AdmissionNumber == admissionNumber {
			student := s
			return &student, nil
		}
	}
	return nil, sql.ErrNoRows
}

type stubGateway struct {
	pushResp  *mpesa.STKPushResponse
	pushErr   error
	queryResp *mpesa.STKQueryResponse
	queryErr  error
	pushCalls int
	lastPush  mpesa.STKPushRequest
}

func (g *stubGateway) STKPush(ctx context.Context, req mpesa.STKPushRequest) (*mpesa.STKPushResponse, error) {
	g.pushCalls++
	g.lastPush = req
	if g.pushErr != nil {
		return nil, g.pushErr
	}
	return g.pushResp, nil
}

func (g *stubGateway) STKQuery(ctx context.Context, checkoutRequestID string) (*mpesa.STKQueryResponse, error) {
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	return g.queryResp, nil
}

func (g *stubGateway) RegisterC2BURLs(ctx context.Context, validationURL, confirmationURL string) error {
	return nil
}

type paymentFixture struct {
	payments *mockPaymentRepo
	fees     *mockLedgerRepo
	students *mockPayerStudentRepo
	gateway  *stubGateway
	sender   *recordingSender
	svc      *PaymentService
}

func newPaymentFixture(fees *mockLedgerRepo) *paymentFixture {
	f := &paymentFixture{
		payments: newMockPaymentRepo(),
		fees:     fees,
		students: &mockPayerStudentRepo{students: map[string]models.Student{
			"stu-1": testStudent("stu-1", "ADM001", "0712345678"),
		}},
		gateway: &stubGateway{pushResp: &mpesa.STKPushResponse{
			MerchantRequestID: "merch-1",
			CheckoutRequestID: "ws_CO_1",
			ResponseCode:      "0",
		}},
		sender: &recordingSender{},
	}
	f.svc = NewPaymentService(f.payments, f.fees, f.students, &stubTxRunner{}, f.gateway, f.sender, nil, nil, nil, zap.NewNop(), time.Minute, "Shule Academy")
	return f
}

func outstandingRecord(id, studentID string, total, paid int64) *models.FeeRecord {
	totalD := decimal.NewFromInt(total)
	paidD := decimal.NewFromInt(paid)
	status := models.FeePending
	if paid > 0 {
		status = models.FeePartial
	}
	return &models.FeeRecord{
		ID:           id,
		StudentID:    studentID,
		AcademicYear: "2026",
		Term:         1,
		TotalAmount:  totalD,
		PaidAmount:   paidD,
		Balance:      totalD.Sub(paidD),
		Status:       status,
	}
}

func successCallback(t *testing.T, checkoutRequestID string, amount float64, receipt string) mpesa.STKCallback {
	t.Helper()
	payload := fmt.Sprintf(`{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "merch-1",
				"CheckoutRequestID": %q,
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": %v},
						{"Name": "MpesaReceiptNumber", "Value": %q},
						{"Name": "TransactionDate", "Value": 20260828143000},
						{"Name": "PhoneNumber", "Value": 254712345678}
					]
				}
			}
		}
	}`, checkoutRequestID, amount, receipt)

	var cb mpesa.STKCallback
	require.NoError(t, json.Unmarshal([]byte(payload), &cb))
	return cb
}

func failureCallback(checkoutRequestID string, code int) mpesa.STKCallback {
	var cb mpesa.STKCallback
	cb.Body.StkCallback.CheckoutRequestID = checkoutRequestID
	cb.Body.StkCallback.ResultCode = code
	cb.Body.StkCallback.ResultDesc = mpesa.ResultMessage(code)
	return cb
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "0712345678", want: "254712345678"},
		{in: "0112345678", want: "254112345678"},
		{in: "712345678", want: "254712345678"},
		{in: "254712345678", want: "254712345678"},
		{in: "+254712345678", want: "254712345678"},
		{in: "0712 345 678", want: "254712345678"},
		{in: "0812345678", wantErr: true},
		{in: "07123", wantErr: true},
		{in: "", wantErr: true},
		{in: "not-a-phone", wantErr: true},
	}
	for _, tc := range cases {
		got, err := NormalizePhone(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestInitiateSTKPushCreatesPendingPayment(t *testing.T) {
	f := newPaymentFixture(newMockLedgerRepo(outstandingRecord("fee-1", "stu-1", 15000, 0)))

	payment, err := f.svc.InitiateSTKPush(context.Background(), STKPaymentRequest{
		StudentID:   "stu-1",
		FeeRecordID: "fee-1",
		Amount:      decimal.NewFromInt(5000),
		Phone:       "0712345678",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, payment.Status)
	assert.Equal(t, models.MethodMpesa, payment.Method)
	assert.Equal(t, "ws_CO_1", payment.MpesaRequestID)
	assert.Equal(t, "254712345678", payment.Phone)
	require.NotNil(t, payment.FeeRecordID)
	assert.Equal(t, "fee-1", *payment.FeeRecordID)
	assert.NotEmpty(t, payment.ReceiptNumber)
	assert.Equal(t, 1, f.gateway.pushCalls)
}

func TestInitiateSTKPushRoundsAmountHalfUp(t *testing.T) {
	cases := []struct {
		amount string
		want   int64
	}{
		{amount: "5000.40", want: 5000},
		{amount: "5000.50", want: 5001},
		{amount: "5000.60", want: 5001},
	}
	for _, tc := range cases {
		f := newPaymentFixture(newMockLedgerRepo(outstandingRecord("fee-1", "stu-1", 15000, 0)))

		_, err := f.svc.InitiateSTKPush(context.Background(), STKPaymentRequest{
			StudentID: "stu-1",
			Amount:    decimal.RequireFromString(tc.amount),
			Phone:     "0712345678",
		})
		require.NoError(t, err, tc.amount)
		assert.Equal(t, tc.want, f.gateway.lastPush.Amount, tc.amount)
	}
}

func TestInitiateSTKPushGatewayFailure(t *testing.T) {
	f := newPaymentFixture(newMockLedgerRepo())
	f.gateway.pushErr = errors.New("connection refused")

	_, err := f.svc.InitiateSTKPush(context.Background(), STKPaymentRequest{
		StudentID: "stu-1",
		Amount:    decimal.NewFromInt(5000),
		Phone:     "0712345678",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnavailable.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.payments.payments)
}

func TestInitiateSTKPushRejectsForeignFeeRecord(t *testing.T) {
	f := newPaymentFixture(newMockLedgerRepo(outstandingRecord("fee-1", "stu-other", 15000, 0)))

	_, err := f.svc.InitiateSTKPush(context.Background(), STKPaymentRequest{
		StudentID:   "stu-1",
		FeeRecordID: "fee-1",
		Amount:      decimal.NewFromInt(5000),
		Phone:       "0712345678",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, f.gateway.pushCalls)
}

func TestHandleSTKCallbackSettlesPaymentAndLedger(t *testing.T) {
	f := newPaymentFixture(newMockLedgerRepo(outstandingRecord("fee-1", "stu-1", 15000, 0)))

	payment, err := f.svc.InitiateSTKPush(context.Background(), STKPaymentRequest{
		StudentID:   "stu-1",
		FeeRecordID: "fee-1",
		Amount:      decimal.NewFromInt(5000),
		Phone:       "0712345678",
	})
	require.NoError(t, err)

	outcome, err := f.svc.HandleSTKCallback(context.Background(), successCallback(t, "ws_CO_1", 5000, "SGR7TYPX1Q"))
	require.NoError(t, err)
	assert.False(t, outcome.Ignored)
	assert.Equal(t, models.PaymentCompleted, outcome.Status)

	stored := f.payments.payments[payment.ID]
	assert.Equal(t, models.PaymentCompleted, stored.Status)
	assert.Equal(t, "SGR7TYPX1Q", stored.MpesaReceipt)
	require.NotNil(t, stored.TransactionDate)

	record := f.fees.records["fee-1"]
	assert.True(t, record.PaidAmount.Equal(decimal.NewFromInt(5000)))
	assert.True(t, record.Balance.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, models.FeePartial, record.Status)

	require.Len(t, f.sender.confirmations, 1)
}

func TestHandleSTKCallbackDuplicateIsNoOp(t *testing.T) {
	f := newPaymentFixture(newMockLedgerRepo(outstandingRecord("fee-1", "stu-1", 15000, 0)))

	_, err := f.svc.InitiateSTKPush(context.Background(), STKPaymentRequest{
		StudentID:   "stu-1",
		FeeRecordID: "fee-1",
		Amount:      decimal.NewFromInt(5000),
		Phone:       "0712345678",
	})
	require.NoError(t, err)

	first, err := f.svc.HandleSTKCallback(context.Background(), successCallback(t, "ws_CO_1", 5000, "SGR7TYPX1Q"))
	require.NoError(t, err)
	assert.False(t, first.Ignored)

	second, err := f.svc.HandleSTKCallback(context.Background(), successCallback(t, "ws_CO_1", 5000, "SGR7TYPX1Q"))
	require.NoError(t, err)
	assert.True(t, second.Ignored)

	// Ledger credited exactly once.
	record := f.fees.records["fee-1"]
	assert.True(t, record.PaidAmount.Equal(decimal.NewFromInt(5000)))
	assert.Len(t, f.sender.confirmations, 1)
}

func TestHandleSTKCallbackUnknownRequestIsIgnored(t *testing.T) {
	f := newPaymentFixture(newMockLedgerRepo())

	outcome, err := f.svc.HandleSTKCallback(context.Background(), successCallback(t, "ws_CO_unknown", 5000, "SGR7TYPX1Q"))
	require.NoError(t, err)
	assert.True(t, outcome.Ignored)
}

func TestHandleSTKCallbackFailureLeavesLedgerUntouched(t *testing.T) {
	f := newPaymentFixture(newMockLedgerRepo(outstandingRecord("fee-1", "stu-1", 15000, 0)))

	payment, err := f.svc.InitiateSTKPush(context.Background(), STKPaymentRequest{
		StudentID:   "stu-1",
		FeeRecordID: "fee-1",
		Amount:      decimal.NewFromInt(5000),
		Phone:       "0712345678",
	})
	require.NoError(t, err)

	outcome, err := f.svc.HandleSTKCallback(context.Background(), failureCallback("ws_CO_1", 1032))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, outcome.Status)

	assert.Equal(t, models.PaymentFailed, f.payments.payments[payment.ID].Status)
	record := f.fees.records["fee-1"]
	assert.True(t, record.PaidAmount.IsZero())
	assert.Empty(t, f.sender.confirmations)
}

func TestHandleSTKCallbackOverpaymentGoesNegative(t *testing.T) {
	f := newPaymentFixture(newMockLedgerRepo(outstandingRecord("fee-1", "stu-1", 10000, 8000)))

	_, err := f.svc.InitiateSTKPush(context.Background(), STKPaymentRequest{
		StudentID:   "stu-1",
		FeeRecordID: "fee-1",
		Amount:      decimal.NewFromInt(5000),
		Phone:       "0712345678",
	})
	require.NoError(t, err)

	_, err = f.svc.HandleSTKCallback(context.Background(), successCallback(t, "ws_CO_1", 5000, "SGR7TYPX1Q"))
	require.NoError(t, err)

	record := f.fees.records["fee-1"]
	assert.True(t, record.Balance.Equal(decimal.NewFromInt(-3000)))
	assert.Equal(t, models.FeePaid, record.Status)
}

func TestHandleC2BConfirmationCreditsNewestOutstanding(t *testing.T) {
	// Newest record first in the mock's ordering.
	fees := newMockLedgerRepo(
		outstandingRecord("fee-term2", "stu-1", 15000, 0),
		outstandingRecord("fee-term1", "stu-1", 15000, 12000),
	)
	f := newPaymentFixture(fees)

	outcome, err := f.svc.HandleC2BConfirmation(context.Background(), mpesa.C2BConfirmation{
		TransID:       "SGR7TYPX1Q",
		TransTime:     "20260828143000",
		TransAmount:   "7000.00",
		BillRefNumber: "ADM001",
		MSISDN:        "254712345678",
		FirstName:     "MARY",
	})
	require.NoError(t, err)
	assert.False(t, outcome.Ignored)
	assert.Equal(t, models.PaymentCompleted, outcome.Status)

	// The newest outstanding record took the credit.
	assert.True(t, fees.records["fee-term2"].PaidAmount.Equal(decimal.NewFromInt(7000)))
	assert.True(t, fees.records["fee-term1"].PaidAmount.Equal(decimal.NewFromInt(12000)))

	payment := f.payments.payments[outcome.PaymentID]
	assert.Equal(t, models.MethodMpesa, payment.Method)
	assert.Equal(t, "SGR7TYPX1Q", payment.MpesaReceipt)
	require.NotNil(t, payment.FeeRecordID)
	assert.Equal(t, "fee-term2", *payment.FeeRecordID)
	require.Len(t, f.sender.confirmations, 1)
}

func TestHandleC2BConfirmationDuplicateTransID(t *testing.T) {
	f := newPaymentFixture(newMockLedgerRepo(outstandingRecord("fee-1", "stu-1", 15000, 0)))

	conf := mpesa.C2BConfirmation{
		TransID:       "SGR7TYPX1Q",
		TransTime:     "20260828143000",
		TransAmount:   "5000.00",
		BillRefNumber: "ADM001",
		MSISDN:        "254712345678",
	}
	first, err := f.svc.HandleC2BConfirmation(context.Background(), conf)
	require.NoError(t, err)
	assert.False(t, first.Ignored)

	second, err := f.svc.HandleC2BConfirmation(context.Background(), conf)
	require.NoError(t, err)
	assert.True(t, second.Ignored)

	assert.True(t, f.fees.records["fee-1"].PaidAmount.Equal(decimal.NewFromInt(5000)))
	assert.Len(t, f.payments.payments, 1)
}

func TestHandleC2BConfirmationUnknownStudent(t *testing.T) {
	f := newPaymentFixture(newMockLedgerRepo())

	_, err := f.svc.HandleC2BConfirmation(context.Background(), mpesa.C2BConfirmation{
		TransID:       "SGR7TYPX1Q",
		TransAmount:   "5000.00",
		BillRefNumber: "NOPE",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestRecordManualPayment(t *testing.T) {
	f := newPaymentFixture(newMockLedgerRepo(outstandingRecord("fee-1", "stu-1", 15000, 0)))

	payment, err := f.svc.RecordManualPayment(context.Background(), ManualPaymentRequest{
		StudentID:   "stu-1",
		FeeRecordID: "fee-1",
		Amount:      decimal.NewFromInt(15000),
		Method:      "CASH",
		PaidBy:      "Mary Kamau",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, payment.Status)
	assert.Equal(t, models.MethodCash, payment.Method)

	record := f.fees.records["fee-1"]
	assert.True(t, record.Balance.IsZero())
	assert.Equal(t, models.FeePaid, record.Status)
}

func TestRecordManualPaymentWrongStudent(t *testing.T) {
	f := newPaymentFixture(newMockLedgerRepo(outstandingRecord("fee-1", "stu-other", 15000, 0)))

	_, err := f.svc.RecordManualPayment(context.Background(), ManualPaymentRequest{
		StudentID:   "stu-1",
		FeeRecordID: "fee-1",
		Amount:      decimal.NewFromInt(5000),
		Method:      "CASH",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestReconcilePaymentAppliesProviderVerdict(t *testing.T) {
	f := newPaymentFixture(newMockLedgerRepo(outstandingRecord("fee-1", "stu-1", 15000, 0)))

	payment, err := f.svc.InitiateSTKPush(context.Background(), STKPaymentRequest{
		StudentID:   "stu-1",
		FeeRecordID: "fee-1",
		Amount:      decimal.NewFromInt(5000),
		Phone:       "0712345678",
	})
	require.NoError(t, err)

	f.gateway.queryResp = &mpesa.STKQueryResponse{
		CheckoutRequestID: "ws_CO_1",
		ResultCode:        "1032",
		ResultDesc:        "Request cancelled by user",
	}
	require.NoError(t, f.svc.ReconcilePayment(context.Background(), payment.ID, "ws_CO_1"))
	assert.Equal(t, models.PaymentFailed, f.payments.payments[payment.ID].Status)
}

func TestReconcilePaymentInconclusiveQueryLeavesPending(t *testing.T) {
	f := newPaymentFixture(newMockLedgerRepo(outstandingRecord("fee-1", "stu-1", 15000, 0)))

	payment, err := f.svc.InitiateSTKPush(context.Background(), STKPaymentRequest{
		StudentID:   "stu-1",
		FeeRecordID: "fee-1",
		Amount:      decimal.NewFromInt(5000),
		Phone:       "0712345678",
	})
	require.NoError(t, err)

	f.gateway.queryErr = errors.New("The transaction is being processed")
	require.NoError(t, f.svc.ReconcilePayment(context.Background(), payment.ID, "ws_CO_1"))
	assert.Equal(t, models.PaymentPending, f.payments.payments[payment.ID].Status)
}
