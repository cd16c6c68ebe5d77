package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/shule-api/internal/models"
)

const timeSlotColumns = "id, class_id, subject_id, teacher_id, day_of_week, start_time, end_time, room, academic_year, term, created_at, updated_at"

// TimeSlotRepository provides persistence for timetable slots.
type TimeSlotRepository struct {
	db *sqlx.DB
}

// NewTimeSlotRepository creates a new time slot repository.
func NewTimeSlotRepository(db *sqlx.DB) *TimeSlotRepository {
	return &TimeSlotRepository{db: db}
}

// List returns slots with optional filtering and pagination.
func (r *TimeSlotRepository) List(ctx context.Context, filter models.TimeSlotFilter) ([]models.TimeSlot, int, error) {
	base := "FROM time_slots WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.AcademicYear != "" {
		conditions = append(conditions, fmt.Sprintf("academic_year = $%d", len(args)+1))
		args = append(args, filter.AcademicYear)
	}
	if filter.Term > 0 {
		conditions = append(conditions, fmt.Sprintf("term = $%d", len(args)+1))
		args = append(args, filter.Term)
	}
	if filter.DayOfWeek != "" {
		conditions = append(conditions, fmt.Sprintf("day_of_week = $%d", len(args)+1))
		args = append(args, filter.DayOfWeek)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY day_of_week ASC, start_time ASC LIMIT %d OFFSET %d", timeSlotColumns, base, size, offset)
	var slots []models.TimeSlot
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list time slots: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count time slots: %w", err)
	}

	return slots, total, nil
}

// FindByID loads a slot by id.
func (r *TimeSlotRepository) FindByID(ctx context.Context, id string) (*models.TimeSlot, error) {
	query := fmt.Sprintf("SELECT %s FROM time_slots WHERE id = $1", timeSlotColumns)
	var slot models.TimeSlot
	if err := r.db.GetContext(ctx, &slot, query, id); err != nil {
		return nil, err
	}
	return &slot, nil
}

// ListByDay returns all slots sharing an academic year, term and day.
// The conflict checker compares candidates against this set.
func (r *TimeSlotRepository) ListByDay(ctx context.Context, academicYear string, term int, day models.DayOfWeek) ([]models.TimeSlot, error) {
	query := fmt.Sprintf("SELECT %s FROM time_slots WHERE academic_year = $1 AND term = $2 AND day_of_week = $3", timeSlotColumns)
	var slots []models.TimeSlot
	if err := r.db.SelectContext(ctx, &slots, query, academicYear, term, day); err != nil {
		return nil, fmt.Errorf("list slots by day: %w", err)
	}
	return slots, nil
}

// ListByClass returns a class timetable ordered by day and start time.
func (r *TimeSlotRepository) ListByClass(ctx context.Context, classID, academicYear string, term int) ([]models.TimeSlot, error) {
	query := fmt.Sprintf("SELECT %s FROM time_slots WHERE class_id = $1", timeSlotColumns)
	args := []interface{}{classID}
	if academicYear != "" {
		args = append(args, academicYear)
		query += fmt.Sprintf(" AND academic_year = $%d", len(args))
	}
	if term > 0 {
		args = append(args, term)
		query += fmt.Sprintf(" AND term = $%d", len(args))
	}
	query += " ORDER BY day_of_week ASC, start_time ASC"

	var slots []models.TimeSlot
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("list slots by class: %w", err)
	}
	return slots, nil
}

// ListByTeacher returns a teacher timetable ordered by day and start time.
func (r *TimeSlotRepository) ListByTeacher(ctx context.Context, teacherID, academicYear string, term int) ([]models.TimeSlot, error) {
	query := fmt.Sprintf("SELECT %s FROM time_slots WHERE teacher_id = $1", timeSlotColumns)
	args := []interface{}{teacherID}
	if academicYear != "" {
		args = append(args, academicYear)
		query += fmt.Sprintf(" AND academic_year = $%d", len(args))
	}
	if term > 0 {
		args = append(args, term)
		query += fmt.Sprintf(" AND term = $%d", len(args))
	}
	query += " ORDER BY day_of_week ASC, start_time ASC"

	var slots []models.TimeSlot
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("list slots by teacher: %w", err)
	}
	return slots, nil
}

// Create stores a new slot.
func (r *TimeSlotRepository) Create(ctx context.Context, slot *models.TimeSlot) error {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = now
	}
	slot.UpdatedAt = now

	const query = `INSERT INTO time_slots (id, class_id, subject_id, teacher_id, day_of_week, start_time, end_time, room, academic_year, term, created_at, updated_at) VALUES (:id, :class_id, :subject_id, :teacher_id, :day_of_week, :start_time, :end_time, :room, :academic_year, :term, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, slot); err != nil {
		return fmt.Errorf("create time slot: %w", err)
	}
	return nil
}

// Update modifies a slot.
func (r *TimeSlotRepository) Update(ctx context.Context, slot *models.TimeSlot) error {
	slot.UpdatedAt = time.Now().UTC()
	const query = `UPDATE time_slots SET class_id = :class_id, subject_id = :subject_id, teacher_id = :teacher_id, day_of_week = :day_of_week, start_time = :start_time, end_time = :end_time, room = :room, academic_year = :academic_year, term = :term, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, slot); err != nil {
		return fmt.Errorf("update time slot: %w", err)
	}
	return nil
}

// Delete removes a slot by id.
func (r *TimeSlotRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM time_slots WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete time slot: %w", err)
	}
	return nil
}

// DeleteByClass wipes a class timetable, optionally narrowed to a
// year/term, returning the number of removed slots.
func (r *TimeSlotRepository) DeleteByClass(ctx context.Context, classID, academicYear string, term int) (int64, error) {
	query := "DELETE FROM time_slots WHERE class_id = $1"
	args := []interface{}{classID}
	if academicYear != "" {
		args = append(args, academicYear)
		query += fmt.Sprintf(" AND academic_year = $%d", len(args))
	}
	if term > 0 {
		args = append(args, term)
		query += fmt.Sprintf(" AND term = $%d", len(args))
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete class time slots: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted time slots: %w", err)
	}
	return count, nil
}

// Statistics summarises a year/term timetable.
type TimetableStatistics struct {
	TotalSlots     int            `json:"total_slots"`
	UniqueTeachers int            `json:"unique_teachers"`
	UniqueClasses  int            `json:"unique_classes"`
	SlotsByDay     map[string]int `json:"slots_by_day"`
}

// Statistics aggregates slot counts for a year and term.
func (r *TimeSlotRepository) Statistics(ctx context.Context, academicYear string, term int) (*TimetableStatistics, error) {
	const query = `SELECT day_of_week, COUNT(*) AS slots, COUNT(DISTINCT teacher_id) AS teachers, COUNT(DISTINCT class_id) AS classes FROM time_slots WHERE academic_year = $1 AND term = $2 GROUP BY day_of_week`
	rows, err := r.db.QueryxContext(ctx, query, academicYear, term)
	if err != nil {
		return nil, fmt.Errorf("timetable statistics: %w", err)
	}
	defer rows.Close()

	stats := &TimetableStatistics{SlotsByDay: map[string]int{}}
	for rows.Next() {
		var day string
		var slots, teachers, classes int
		if err := rows.Scan(&day, &slots, &teachers, &classes); err != nil {
			return nil, fmt.Errorf("scan timetable statistics: %w", err)
		}
		stats.SlotsByDay[day] = slots
		stats.TotalSlots += slots
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("timetable statistics rows: %w", err)
	}

	// Distinct counts cannot be summed across days; fetch them separately.
	const distinctQuery = `SELECT COUNT(DISTINCT teacher_id), COUNT(DISTINCT class_id) FROM time_slots WHERE academic_year = $1 AND term = $2`
	if err := r.db.QueryRowxContext(ctx, distinctQuery, academicYear, term).Scan(&stats.UniqueTeachers, &stats.UniqueClasses); err != nil {
		return nil, fmt.Errorf("timetable distinct counts: %w", err)
	}

	return stats, nil
}
