package referral

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending  Status = "Pending"
	StatusAccepted Status = "Accepted"
	StatusRejected Status = "Rejected"
	StatusOngoing  Status = "Ongoing"
)

func ParseStatus(s string) (Status, bool) {
	for _, v := range []Status{StatusPending, StatusAccepted, StatusRejected, StatusOngoing} {
		if strings.EqualFold(strings.TrimSpace(s), string(v)) {
			return v, true
		}
	}
	return "", false
}

// Referral is a GP's request for a cardiologist to see a patient. The
// patient may not have an account yet; administrative staff link one once
// they are registered.
type Referral struct {
	ID               uuid.UUID  `json:"id"`
	GPID             uuid.UUID  `json:"gp_id"`
	GPName           string     `json:"gp_name,omitempty"`
	ReferredToID     uuid.UUID  `json:"referred_to_id"`
	ReferredToName   string     `json:"referred_to_name,omitempty"`
	PatientFirstName string     `json:"patient_first_name"`
	PatientLastName  string     `json:"patient_last_name"`
	PatientEmail     string     `json:"patient_email"`
	PatientPhone     string     `json:"patient_phone"`
	Reason           string     `json:"reason"`
	Summary          string     `json:"summary"`
	DoctorNotes      string     `json:"doctor_notes"`
	Status           Status     `json:"status"`
	LinkedPatientID  *uuid.UUID `json:"linked_patient_id"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (r *Referral) PatientName() string {
	return strings.TrimSpace(r.PatientFirstName + " " + r.PatientLastName)
}

// Stage selects referrals by where they are in the intake workflow.
type Stage string

const (
	// StagePending covers referrals still waiting on the cardiologist or on
	// a patient account: Pending, or Ongoing with no linked patient.
	StagePending Stage = "pending"
	// StageOngoing covers Ongoing referrals linked to a patient account.
	StageOngoing Stage = "ongoing"
)

func ParseStage(s string) (Stage, bool) {
	switch Stage(strings.ToLower(strings.TrimSpace(s))) {
	case StagePending:
		return StagePending, true
	case StageOngoing:
		return StageOngoing, true
	}
	return "", false
}

type Filter struct {
	GPID         *uuid.UUID
	ReferredToID *uuid.UUID
	Stage        Stage
}

type SonographyStatus string

const (
	SonographyPending   SonographyStatus = "Pending"
	SonographyCompleted SonographyStatus = "Completed"
)

// SonographyReferral asks a sonographer to scan one of a cardiologist's
// patients.
type SonographyReferral struct {
	ID              uuid.UUID        `json:"id"`
	DoctorID        uuid.UUID        `json:"doctor_id"`
	DoctorName      string           `json:"doctor_name,omitempty"`
	SonographerID   uuid.UUID        `json:"sonographer_id"`
	SonographerName string           `json:"sonographer_name,omitempty"`
	PatientID       uuid.UUID        `json:"patient_id"`
	PatientName     string           `json:"patient_name,omitempty"`
	AppointmentID   *uuid.UUID       `json:"appointment_id"`
	Reason          string           `json:"reason"`
	Status          SonographyStatus `json:"status"`
	ReportURL       string           `json:"report_url"`
	ReportNotes     string           `json:"report_notes"`
	CreatedAt       time.Time        `json:"created_at"`
	CompletedAt     *time.Time       `json:"completed_at"`
}

func (s *SonographyReferral) HasReport() bool {
	return s.Status == SonographyCompleted && s.ReportURL != ""
}

type SonographyFilter struct {
	DoctorID      *uuid.UUID
	SonographerID *uuid.UUID
}

// Report is the part of a sonography referral the sonographer fills in.
type Report struct {
	ReferralID  uuid.UUID  `json:"referral_id"`
	PatientName string     `json:"patient_name"`
	ReportURL   string     `json:"report_url"`
	ReportNotes string     `json:"report_notes"`
	CompletedAt *time.Time `json:"completed_at"`
}
