package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/shule-api/internal/models"
	appErrors "github.com/noah-isme/shule-api/pkg/errors"
)

type mockFeeRepo struct {
	records    []models.FeeRecord
	created    []models.FeeRecord
	defaulters []models.FeeRecord
	listErr    error
	createErr  error
}

func (m *mockFeeRepo) List(ctx context.Context, filter models.FeeFilter) ([]models.FeeRecord, int, error) {
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	return m.records, len(m.records), nil
}

func (m *mockFeeRepo) FindByID(ctx context.Context, id string) (*models.FeeRecord, error) {
	for i := range m.records {
		if m.records[i].ID == id {
			record := m.records[i]
			return &record, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockFeeRepo) FindByStudentTerm(ctx context.Context, studentID, academicYear string, term int) (*models.FeeRecord, error) {
	for i := range m.records {
		r := m.records[i]
		if r.StudentID == studentID && r.AcademicYear == academicYear && r.Term == term {
			return &r, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockFeeRepo) BulkCreate(ctx context.Context, records []models.FeeRecord) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, records...)
	return nil
}

func (m *mockFeeRepo) ListDefaulters(ctx context.Context, academicYear string, term int) ([]models.FeeRecord, error) {
	return m.defaulters, nil
}

func (m *mockFeeRepo) MarkOverdue(ctx context.Context, academicYear string, term int, cutoff time.Time) (int64, error) {
	return int64(len(m.defaulters)), nil
}

type mockStudentRepo struct {
	students map[string]models.Student
	byGrade  []models.Student
}

func (m *mockStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	student, ok := m.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &student, nil
}

func (m *mockStudentRepo) ListActiveByGrade(ctx context.Context, grade string) ([]models.Student, error) {
	return m.byGrade, nil
}

type recordingSender struct {
	confirmations []string
	reminders     []string
	err           error
}

func (r *recordingSender) SendPaymentConfirmation(ctx context.Context, phone, studentName string, amount decimal.Decimal, receipt string, newBalance decimal.Decimal) error {
	if r.err != nil {
		return r.err
	}
	r.confirmations = append(r.confirmations, phone)
	return nil
}

func (r *recordingSender) SendFeeReminder(ctx context.Context, phone, studentName, admissionNumber string, balance decimal.Decimal) error {
	if r.err != nil {
		return r.err
	}
	r.reminders = append(r.reminders, phone)
	return nil
}

func testStudent(id, admission, phone string) models.Student {
	return models.Student{
		ID:              id,
		AdmissionNumber: admission,
		FirstName:       "Wanjiku",
		LastName:        "Kamau",
		Grade:           "Grade 4",
		GuardianName:    "Mary Kamau",
		GuardianPhone:   phone,
		Active:          true,
	}
}

func TestFeeServiceGenerateRecordsSkipsCovered(t *testing.T) {
	fees := &mockFeeRepo{records: []models.FeeRecord{
		{ID: "fee-1", StudentID: "stu-1", AcademicYear: "2026", Term: 1},
	}}
	students := &mockStudentRepo{byGrade: []models.Student{
		testStudent("stu-1", "ADM001", "0712345678"),
		testStudent("stu-2", "ADM002", "0712345679"),
	}}
	svc := NewFeeService(fees, students, nil, nil, nil, zap.NewNop())

	created, err := svc.GenerateRecords(context.Background(), GenerateFeeRecordsRequest{
		AcademicYear: "2026",
		Term:         1,
		Grade:        "Grade 4",
		TotalAmount:  decimal.NewFromInt(15000),
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "stu-2", created[0].StudentID)
	assert.Equal(t, models.FeePending, created[0].Status)
	assert.True(t, created[0].Balance.Equal(decimal.NewFromInt(15000)))
	assert.True(t, created[0].PaidAmount.IsZero())
}

func TestFeeServiceGenerateRecordsLargeCohortNoDuplicates(t *testing.T) {
	fees := &mockFeeRepo{}
	students := &mockStudentRepo{}
	for i := 0; i < 60; i++ {
		id := fmt.Sprintf("stu-%d", i)
		students.byGrade = append(students.byGrade, testStudent(id, fmt.Sprintf("ADM%03d", i), "0712345678"))
		fees.records = append(fees.records, models.FeeRecord{
			ID: fmt.Sprintf("fee-%d", i), StudentID: id, AcademicYear: "2026", Term: 1,
		})
	}
	svc := NewFeeService(fees, students, nil, nil, nil, zap.NewNop())

	created, err := svc.GenerateRecords(context.Background(), GenerateFeeRecordsRequest{
		AcademicYear: "2026",
		Term:         1,
		Grade:        "Grade 4",
		TotalAmount:  decimal.NewFromInt(15000),
	})
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Empty(t, fees.created)
}

func TestFeeServiceGenerateRecordsRejectsNonPositiveAmount(t *testing.T) {
	svc := NewFeeService(&mockFeeRepo{}, &mockStudentRepo{}, nil, nil, nil, zap.NewNop())

	_, err := svc.GenerateRecords(context.Background(), GenerateFeeRecordsRequest{
		AcademicYear: "2026",
		Term:         1,
		Grade:        "Grade 4",
		TotalAmount:  decimal.Zero,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestFeeServiceDefaultersSkipsMissingStudents(t *testing.T) {
	fees := &mockFeeRepo{defaulters: []models.FeeRecord{
		{ID: "fee-1", StudentID: "stu-1", Balance: decimal.NewFromInt(5000)},
		{ID: "fee-2", StudentID: "stu-gone", Balance: decimal.NewFromInt(3000)},
	}}
	students := &mockStudentRepo{students: map[string]models.Student{
		"stu-1": testStudent("stu-1", "ADM001", "0712345678"),
	}}
	svc := NewFeeService(fees, students, nil, nil, nil, zap.NewNop())

	defaulters, err := svc.Defaulters(context.Background(), "2026", 1)
	require.NoError(t, err)
	require.Len(t, defaulters, 1)
	assert.Equal(t, "ADM001", defaulters[0].Student.AdmissionNumber)
}

func TestFeeServiceExportDefaultersCSV(t *testing.T) {
	fees := &mockFeeRepo{defaulters: []models.FeeRecord{
		{
			ID:          "fee-1",
			StudentID:   "stu-1",
			TotalAmount: decimal.NewFromInt(15000),
			PaidAmount:  decimal.NewFromInt(5000),
			Balance:     decimal.NewFromInt(10000),
			Status:      models.FeePartial,
		},
	}}
	students := &mockStudentRepo{students: map[string]models.Student{
		"stu-1": testStudent("stu-1", "ADM001", "0712345678"),
	}}
	svc := NewFeeService(fees, students, nil, nil, nil, zap.NewNop())

	payload, err := svc.ExportDefaultersCSV(context.Background(), "2026", 1)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(payload)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Admission No,Student,Grade,Guardian Phone,Total,Paid,Balance,Status", lines[0])
	assert.Equal(t, "ADM001,Wanjiku Kamau,Grade 4,0712345678,15000.00,5000.00,10000.00,PARTIAL", lines[1])
}

func TestFeeServiceSendReminders(t *testing.T) {
	fees := &mockFeeRepo{defaulters: []models.FeeRecord{
		{ID: "fee-1", StudentID: "stu-1", Balance: decimal.NewFromInt(5000)},
		{ID: "fee-2", StudentID: "stu-2", Balance: decimal.NewFromInt(3000)},
	}}
	students := &mockStudentRepo{students: map[string]models.Student{
		"stu-1": testStudent("stu-1", "ADM001", "0712345678"),
		"stu-2": testStudent("stu-2", "ADM002", ""),
	}}
	sender := &recordingSender{}
	svc := NewFeeService(fees, students, sender, nil, nil, zap.NewNop())

	result, err := svc.SendReminders(context.Background(), "2026", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Failed)
	require.Len(t, sender.reminders, 1)
	assert.True(t, strings.HasPrefix(sender.reminders[0], "07"))
}

func TestFeeServiceSendRemindersWithoutSender(t *testing.T) {
	svc := NewFeeService(&mockFeeRepo{}, &mockStudentRepo{}, nil, nil, nil, zap.NewNop())

	_, err := svc.SendReminders(context.Background(), "2026", 1)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnavailable.Code, appErrors.FromError(err).Code)
}
