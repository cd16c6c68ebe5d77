package models

import "time"

// Student represents a learner registered in the school.
type Student struct {
	ID              string    `db:"id" json:"id"`
	AdmissionNumber string    `db:"admission_number" json:"admission_number"`
	FirstName       string    `db:"first_name" json:"first_name"`
	LastName        string    `db:"last_name" json:"last_name"`
	Grade           string    `db:"grade" json:"grade"`
	GuardianName    string    `db:"guardian_name" json:"guardian_name"`
	GuardianPhone   string    `db:"guardian_phone" json:"guardian_phone"`
	Active          bool      `db:"active" json:"active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// FullName joins the student's names for messages and receipts.
func (s Student) FullName() string {
	return s.FirstName + " " + s.LastName
}
