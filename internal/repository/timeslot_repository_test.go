package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/shule-api/internal/models"
)

func newTimeSlotMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func timeSlotRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "class_id", "subject_id", "teacher_id", "day_of_week", "start_time", "end_time", "room", "academic_year", "term", "created_at", "updated_at"}).
		AddRow("slot-1", "class-a", "sub-1", "teacher-1", "Monday", "08:00", "09:00", "R1", "2026", 1, now, now)
}

func TestTimeSlotRepositoryListByDay(t *testing.T) {
	db, mock, cleanup := newTimeSlotMock(t)
	defer cleanup()
	repo := NewTimeSlotRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, class_id, subject_id, teacher_id, day_of_week, start_time, end_time, room, academic_year, term, created_at, updated_at FROM time_slots WHERE academic_year = $1 AND term = $2 AND day_of_week = $3")).
		WithArgs("2026", 1, models.Monday).
		WillReturnRows(timeSlotRows())

	slots, err := repo.ListByDay(context.Background(), "2026", 1, models.Monday)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "08:00", slots[0].StartTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimeSlotRepositoryListAppliesFilters(t *testing.T) {
	db, mock, cleanup := newTimeSlotMock(t)
	defer cleanup()
	repo := NewTimeSlotRepository(db)

	mock.ExpectQuery("SELECT id, class_id, .* FROM time_slots WHERE 1=1 AND class_id = \\$1 AND academic_year = \\$2 AND term = \\$3 ORDER BY").
		WithArgs("class-a", "2026", 1).
		WillReturnRows(timeSlotRows())
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM time_slots WHERE 1=1 AND class_id = \\$1 AND academic_year = \\$2 AND term = \\$3").
		WithArgs("class-a", "2026", 1).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	slots, total, err := repo.List(context.Background(), models.TimeSlotFilter{ClassID: "class-a", AcademicYear: "2026", Term: 1})
	require.NoError(t, err)
	assert.Len(t, slots, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimeSlotRepositoryCreateAssignsID(t *testing.T) {
	db, mock, cleanup := newTimeSlotMock(t)
	defer cleanup()
	repo := NewTimeSlotRepository(db)

	mock.ExpectExec("INSERT INTO time_slots").
		WithArgs(sqlmock.AnyArg(), "class-a", "sub-1", "teacher-1", "Monday", "08:00", "09:00", "R1", "2026", 1, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	slot := &models.TimeSlot{
		ClassID:      "class-a",
		SubjectID:    "sub-1",
		TeacherID:    "teacher-1",
		DayOfWeek:    models.Monday,
		StartTime:    "08:00",
		EndTime:      "09:00",
		Room:         "R1",
		AcademicYear: "2026",
		Term:         1,
	}
	require.NoError(t, repo.Create(context.Background(), slot))
	assert.NotEmpty(t, slot.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimeSlotRepositoryDeleteByClassReturnsCount(t *testing.T) {
	db, mock, cleanup := newTimeSlotMock(t)
	defer cleanup()
	repo := NewTimeSlotRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM time_slots WHERE class_id = $1 AND academic_year = $2 AND term = $3")).
		WithArgs("class-a", "2026", 1).
		WillReturnResult(sqlmock.NewResult(0, 7))

	count, err := repo.DeleteByClass(context.Background(), "class-a", "2026", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
