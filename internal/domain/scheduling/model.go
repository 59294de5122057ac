package scheduling

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

// ParseStatus accepts any casing of a status name.
func ParseStatus(s string) (Status, bool) {
	for _, st := range []Status{StatusScheduled, StatusCompleted, StatusCancelled} {
		if strings.EqualFold(s, string(st)) {
			return st, true
		}
	}
	return "", false
}

// Terminal reports whether no further status change is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Availability is a recurring weekly working window for one doctor.
type Availability struct {
	ID         uuid.UUID          `json:"id"`
	DoctorID   uuid.UUID          `json:"doctor_id"`
	DoctorName string             `json:"doctor_name,omitempty"`
	DayOfWeek  string             `json:"day_of_week"`
	StartTime  calendar.TimeOfDay `json:"start_time"`
	EndTime    calendar.TimeOfDay `json:"end_time"`
	CreatedAt  time.Time          `json:"created_at"`
}

// Contains reports whether t lies in the window. Both ends are inclusive.
func (a *Availability) Contains(t calendar.TimeOfDay) bool {
	return t >= a.StartTime && t <= a.EndTime
}

type Leave struct {
	ID        uuid.UUID     `json:"id"`
	DoctorID  uuid.UUID     `json:"doctor_id"`
	Date      calendar.Date `json:"date"`
	Reason    string        `json:"reason"`
	CreatedAt time.Time     `json:"created_at"`
}

type Appointment struct {
	ID          uuid.UUID          `json:"id"`
	PatientID   uuid.UUID          `json:"patient_id"`
	PatientName string             `json:"patient_name,omitempty"`
	DoctorID    uuid.UUID          `json:"doctor_id"`
	DoctorName  string             `json:"doctor_name,omitempty"`
	Date        calendar.Date      `json:"date"`
	Time        calendar.TimeOfDay `json:"time"`
	Status      Status             `json:"status"`
	Notes       string             `json:"notes"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// At returns the appointment's start in loc.
func (a *Appointment) At(loc *time.Location) time.Time {
	return calendar.Combine(a.Date, a.Time, loc)
}

// Elapsed reports whether a Scheduled appointment's start lies strictly
// before now.
func (a *Appointment) Elapsed(now time.Time, loc *time.Location) bool {
	return a.Status == StatusScheduled && a.At(loc).Before(now)
}

// Decision is the outcome of an availability check.
type Decision struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

const (
	ReasonOnLeave      = "Doctor is on leave on this date"
	ReasonOutsideHours = "Requested time is outside the doctor's working hours"
	ReasonSlotTaken    = "This time slot is already booked"
	ReasonChanged      = "The appointment was changed by someone else, reload and try again"
)

func notWorkingOn(day string) string {
	return "Doctor is not available on " + day
}

type AppointmentFilter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Statuses  []Status
	Date      *calendar.Date
	// From keeps appointments on or after this date.
	From             *calendar.Date
	ExcludeCancelled bool
	// Ascending orders oldest first; the default is newest first.
	Ascending bool
}

// Scope narrows AppointmentFilter to the parties it names. Date and status
// filters are dropped.
func (f AppointmentFilter) Scope() AppointmentScope {
	return AppointmentScope{DoctorID: f.DoctorID, PatientID: f.PatientID}
}

// AppointmentScope selects appointments by party.
type AppointmentScope struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
}

type AvailabilityFilter struct {
	DoctorID   *uuid.UUID
	DoctorName string
}

// RecentPatient is a patient a doctor has seen, with the latest visit.
type RecentPatient struct {
	PatientID uuid.UUID          `json:"patient_id"`
	Name      string             `json:"name"`
	Email     string             `json:"email"`
	LastDate  calendar.Date      `json:"last_visit_date"`
	LastTime  calendar.TimeOfDay `json:"last_visit_time"`
}

type Dashboard struct {
	TotalPatients     int `json:"total_patients"`
	TodayAppointments int `json:"today_appointments"`
}
