package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/shule-api/internal/models"
	appErrors "github.com/noah-isme/shule-api/pkg/errors"
	"github.com/noah-isme/shule-api/pkg/export"
	"github.com/noah-isme/shule-api/pkg/sms"
)

type feeRecordRepository interface {
	List(ctx context.Context, filter models.FeeFilter) ([]models.FeeRecord, int, error)
	FindByID(ctx context.Context, id string) (*models.FeeRecord, error)
	FindByStudentTerm(ctx context.Context, studentID, academicYear string, term int) (*models.FeeRecord, error)
	BulkCreate(ctx context.Context, records []models.FeeRecord) error
	ListDefaulters(ctx context.Context, academicYear string, term int) ([]models.FeeRecord, error)
	MarkOverdue(ctx context.Context, academicYear string, term int, cutoff time.Time) (int64, error)
}

type feeStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ListActiveByGrade(ctx context.Context, grade string) ([]models.Student, error)
}

// GenerateFeeRecordsRequest seeds one fee record per active student.
type GenerateFeeRecordsRequest struct {
	AcademicYear string          `json:"academic_year" validate:"required"`
	Term         int             `json:"term" validate:"required,min=1,max=3"`
	Grade        string          `json:"grade" validate:"required"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
}

// Defaulter pairs an outstanding fee record with the owing student.
type Defaulter struct {
	Record  models.FeeRecord `json:"record"`
	Student models.Student   `json:"student"`
}

// FeeService manages fee records, defaulter reporting and reminders.
type FeeService struct {
	fees      feeRecordRepository
	students  feeStudentRepository
	sender    sms.Sender
	csv       *export.CSVExporter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewFeeService instantiates FeeService. The SMS sender may be nil when
// the messaging credentials are absent.
func NewFeeService(fees feeRecordRepository, students feeStudentRepository, sender sms.Sender, csv *export.CSVExporter, validate *validator.Validate, logger *zap.Logger) *FeeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	return &FeeService{
		fees:      fees,
		students:  students,
		sender:    sender,
		csv:       csv,
		validator: validate,
		logger:    logger,
	}
}

// List returns fee records with pagination metadata.
func (s *FeeService) List(ctx context.Context, filter models.FeeFilter) ([]models.FeeRecord, *models.Pagination, error) {
	records, total, err := s.fees.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list fee records")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	}
	return records, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get loads a single fee record.
func (s *FeeService) Get(ctx context.Context, id string) (*models.FeeRecord, error) {
	record, err := s.fees.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "fee record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fee record")
	}
	return record, nil
}

// GenerateRecords creates a term fee record for every active student in
// the requested grade. Students who already hold a record for the
// year/term pair are skipped.
func (s *FeeService) GenerateRecords(ctx context.Context, req GenerateFeeRecordsRequest) ([]models.FeeRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid fee generation payload")
	}
	if !req.TotalAmount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "total amount must be positive")
	}

	students, err := s.students.ListActiveByGrade(ctx, req.Grade)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	if len(students) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no active students in grade %s", req.Grade))
	}

	var records []models.FeeRecord
	for _, student := range students {
		// One record per (student, year, term); re-running generation
		// must never duplicate a student's ledger row.
		_, err := s.fees.FindByStudentTerm(ctx, student.ID, req.AcademicYear, req.Term)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing fee record")
		}
		records = append(records, models.FeeRecord{
			StudentID:    student.ID,
			AcademicYear: req.AcademicYear,
			Term:         req.Term,
			TotalAmount:  req.TotalAmount,
			PaidAmount:   decimal.Zero,
			Balance:      req.TotalAmount,
			Status:       models.FeePending,
		})
	}
	if len(records) == 0 {
		return []models.FeeRecord{}, nil
	}

	if err := s.fees.BulkCreate(ctx, records); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create fee records")
	}
	s.logger.Info("fee records generated",
		zap.String("academic_year", req.AcademicYear),
		zap.Int("term", req.Term),
		zap.String("grade", req.Grade),
		zap.Int("count", len(records)))
	return records, nil
}

// Defaulters returns outstanding records joined with student details,
// largest balance first.
func (s *FeeService) Defaulters(ctx context.Context, academicYear string, term int) ([]Defaulter, error) {
	records, err := s.fees.ListDefaulters(ctx, academicYear, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list defaulters")
	}

	defaulters := make([]Defaulter, 0, len(records))
	for _, record := range records {
		student, err := s.students.FindByID(ctx, record.StudentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				s.logger.Warn("fee record references missing student",
					zap.String("fee_record_id", record.ID),
					zap.String("student_id", record.StudentID))
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		}
		defaulters = append(defaulters, Defaulter{Record: record, Student: *student})
	}
	return defaulters, nil
}

// ExportDefaultersCSV renders the defaulter report as CSV.
func (s *FeeService) ExportDefaultersCSV(ctx context.Context, academicYear string, term int) ([]byte, error) {
	defaulters, err := s.Defaulters(ctx, academicYear, term)
	if err != nil {
		return nil, err
	}

	dataset := export.Dataset{
		Headers: []string{"Admission No", "Student", "Grade", "Guardian Phone", "Total", "Paid", "Balance", "Status"},
	}
	for _, d := range defaulters {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Admission No":   d.Student.AdmissionNumber,
			"Student":        d.Student.FullName(),
			"Grade":          d.Student.Grade,
			"Guardian Phone": d.Student.GuardianPhone,
			"Total":          d.Record.TotalAmount.StringFixed(2),
			"Paid":           d.Record.PaidAmount.StringFixed(2),
			"Balance":        d.Record.Balance.StringFixed(2),
			"Status":         string(d.Record.Status),
		})
	}
	payload, err := s.csv.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render defaulters CSV")
	}
	return payload, nil
}

// ReminderResult summarises a reminder batch.
type ReminderResult struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// SendReminders delivers a fee reminder SMS to every defaulter's
// guardian. Failures are counted, not fatal.
func (s *FeeService) SendReminders(ctx context.Context, academicYear string, term int) (*ReminderResult, error) {
	if s.sender == nil {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "SMS sender not configured")
	}

	defaulters, err := s.Defaulters(ctx, academicYear, term)
	if err != nil {
		return nil, err
	}

	result := &ReminderResult{}
	for _, d := range defaulters {
		if d.Student.GuardianPhone == "" {
			result.Skipped++
			continue
		}
		err := s.sender.SendFeeReminder(ctx, d.Student.GuardianPhone, d.Student.FullName(), d.Student.AdmissionNumber, d.Record.Balance)
		if err != nil {
			result.Failed++
			s.logger.Warn("fee reminder delivery failed",
				zap.String("student_id", d.Student.ID),
				zap.Error(err))
			continue
		}
		result.Sent++
	}
	return result, nil
}

// MarkOverdue flags unpaid records past the cutoff date.
func (s *FeeService) MarkOverdue(ctx context.Context, academicYear string, term int, cutoff time.Time) (int64, error) {
	count, err := s.fees.MarkOverdue(ctx, academicYear, term, cutoff)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark overdue records")
	}
	if count > 0 {
		s.logger.Info("fee records marked overdue",
			zap.String("academic_year", academicYear),
			zap.Int("term", term),
			zap.Int64("count", count))
	}
	return count, nil
}
