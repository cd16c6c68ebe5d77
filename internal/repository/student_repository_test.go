package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var studentTestTime = time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

func newStudentMock(t *testing.T) (*StudentRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStudentRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func studentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "admission_number", "first_name", "last_name", "grade",
		"guardian_name", "guardian_phone", "active", "created_at", "updated_at",
	})
}

func TestStudentRepositoryFindByAdmissionNumber(t *testing.T) {
	repo, mock := newStudentMock(t)

	rows := studentRows().AddRow(
		"stu-1", "ADM001", "Wanjiku", "Kamau", "Grade 4",
		"Mary Kamau", "254712345678", true, studentTestTime, studentTestTime,
	)
	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT id, admission_number, first_name, last_name, grade, guardian_name, guardian_phone, active, created_at, updated_at FROM students WHERE admission_number = $1",
	)).WithArgs("ADM001").WillReturnRows(rows)

	student, err := repo.FindByAdmissionNumber(context.Background(), "ADM001")
	require.NoError(t, err)
	assert.Equal(t, "stu-1", student.ID)
	assert.Equal(t, "Wanjiku", student.FirstName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryFindByAdmissionNumberMissing(t *testing.T) {
	repo, mock := newStudentMock(t)

	mock.ExpectQuery("SELECT .+ FROM students WHERE admission_number").
		WithArgs("ADM404").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByAdmissionNumber(context.Background(), "ADM404")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryListActiveByGrade(t *testing.T) {
	repo, mock := newStudentMock(t)

	rows := studentRows().
		AddRow("stu-1", "ADM001", "Wanjiku", "Kamau", "Grade 4", "Mary Kamau", "254712345678", true, studentTestTime, studentTestTime).
		AddRow("stu-2", "ADM002", "Brian", "Otieno", "Grade 4", "Jane Otieno", "254722000111", true, studentTestTime, studentTestTime)
	mock.ExpectQuery(regexp.QuoteMeta(
		"WHERE grade = $1 AND active = TRUE ORDER BY admission_number ASC",
	)).WithArgs("Grade 4").WillReturnRows(rows)

	students, err := repo.ListActiveByGrade(context.Background(), "Grade 4")
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, "ADM002", students[1].AdmissionNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}
