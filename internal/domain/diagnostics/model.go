package diagnostics

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/heartflow/clinic/pkg/calendar"
)

type Status string

const (
	StatusScheduled Status = "Scheduled"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
)

func ParseStatus(s string) (Status, bool) {
	for _, v := range []Status{StatusScheduled, StatusCompleted, StatusCancelled} {
		if strings.EqualFold(strings.TrimSpace(s), string(v)) {
			return v, true
		}
	}
	return "", false
}

// Test is an entry in the diagnostic test catalogue.
type Test struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
}

type Appointment struct {
	ID                uuid.UUID          `json:"id"`
	PatientID         uuid.UUID          `json:"patient_id"`
	PatientName       string             `json:"patient_name"`
	TestID            uuid.UUID          `json:"test_id"`
	TestName          string             `json:"test_name"`
	BookedBy          uuid.UUID          `json:"booked_by"`
	AssignedStaffID   *uuid.UUID         `json:"assigned_staff_id"`
	AssignedStaffName string             `json:"assigned_staff_name,omitempty"`
	Date              calendar.Date      `json:"date"`
	Time              calendar.TimeOfDay `json:"time"`
	Status            Status             `json:"status"`
	Notes             string             `json:"notes"`
	Result            *Result            `json:"result,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// AssignedTo reports whether staffID is the appointment's assigned staff.
func (a *Appointment) AssignedTo(staffID uuid.UUID) bool {
	return a.AssignedStaffID != nil && *a.AssignedStaffID == staffID
}

type Result struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	ResultSummary string    `json:"result_summary"`
	ReportURL     string    `json:"report_url"`
	RecordedBy    uuid.UUID `json:"recorded_by"`
	RecordedAt    time.Time `json:"recorded_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type AppointmentFilter struct {
	StaffID    *uuid.UUID
	PatientID  *uuid.UUID
	Date       *calendar.Date
	Statuses   []Status
	WithResult bool
	Ascending  bool
}

// Summary counts a staff member's assignments.
type Summary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
	Today     int `json:"today"`
}
