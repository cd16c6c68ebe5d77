package models

import (
	"strings"
	"time"
)

// DayOfWeek is the scheduling day enum.
type DayOfWeek string

// Days a lesson may be scheduled on.
const (
	Monday    DayOfWeek = "Monday"
	Tuesday   DayOfWeek = "Tuesday"
	Wednesday DayOfWeek = "Wednesday"
	Thursday  DayOfWeek = "Thursday"
	Friday    DayOfWeek = "Friday"
	Saturday  DayOfWeek = "Saturday"
	Sunday    DayOfWeek = "Sunday"
)

var days = []DayOfWeek{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

// ParseDayOfWeek normalises a day name, case-insensitively.
func ParseDayOfWeek(raw string) (DayOfWeek, bool) {
	for _, d := range days {
		if strings.EqualFold(string(d), raw) {
			return d, true
		}
	}
	return "", false
}

// TimeSlot is one scheduled lesson in the timetable.
type TimeSlot struct {
	ID           string    `db:"id" json:"id"`
	ClassID      string    `db:"class_id" json:"class_id"`
	SubjectID    string    `db:"subject_id" json:"subject_id"`
	TeacherID    string    `db:"teacher_id" json:"teacher_id"`
	DayOfWeek    DayOfWeek `db:"day_of_week" json:"day_of_week"`
	StartTime    string    `db:"start_time" json:"start_time"` // HH:MM
	EndTime      string    `db:"end_time" json:"end_time"`     // HH:MM
	Room         string    `db:"room" json:"room,omitempty"`
	AcademicYear string    `db:"academic_year" json:"academic_year"`
	Term         int       `db:"term" json:"term"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// TimeSlotFilter describes query params for listing slots.
type TimeSlotFilter struct {
	ClassID      string
	TeacherID    string
	AcademicYear string
	Term         int
	DayOfWeek    string
	Page         int
	PageSize     int
}

// ConflictType tags the dimension on which two slots collide.
type ConflictType string

// Conflict dimensions.
const (
	ConflictTeacher ConflictType = "teacher"
	ConflictClass   ConflictType = "class"
	ConflictRoom    ConflictType = "room"
)

// SlotConflict describes one collision between a candidate and an
// existing slot. A single overlapping slot may yield several conflicts,
// one per dimension.
type SlotConflict struct {
	Type    ConflictType `json:"type"`
	Message string       `json:"message"`
	Slot    TimeSlot     `json:"slot"`
}

// SlotConflictError carries the full conflict list for a rejected slot.
type SlotConflictError struct {
	Conflicts []SlotConflict `json:"conflicts"`
}

// Error implements the error interface.
func (e *SlotConflictError) Error() string {
	if e == nil || len(e.Conflicts) == 0 {
		return "scheduling conflicts detected"
	}
	return e.Conflicts[0].Message
}
