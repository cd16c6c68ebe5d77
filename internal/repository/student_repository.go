package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/shule-api/internal/models"
)

const studentColumns = "id, admission_number, first_name, last_name, grade, guardian_name, guardian_phone, active, created_at, updated_at"

// StudentRepository resolves students for payment and notification flows.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository creates a new student repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByID loads a student by id.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE id = $1", studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByAdmissionNumber resolves the account reference carried on paybill
// confirmations.
func (r *StudentRepository) FindByAdmissionNumber(ctx context.Context, admissionNumber string) (*models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE admission_number = $1", studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, admissionNumber); err != nil {
		return nil, err
	}
	return &student, nil
}

// ListActiveByGrade returns active students in a grade, used when
// generating term fee records.
func (r *StudentRepository) ListActiveByGrade(ctx context.Context, grade string) ([]models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE grade = $1 AND active = TRUE ORDER BY admission_number ASC", studentColumns)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, grade); err != nil {
		return nil, fmt.Errorf("list students by grade: %w", err)
	}
	return students, nil
}
