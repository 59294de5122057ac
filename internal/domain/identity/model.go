package identity

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/heartflow/clinic/internal/platform/auth"
)

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Role         auth.Role `json:"role"`
	Phone        string    `json:"phone"`
	IsVerified   bool      `json:"is_verified"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Profile is the role specific part of an account. Details holds the JSON of
// one of the *Details structs below, chosen by the user's role.
type Profile struct {
	UserID    uuid.UUID       `json:"user_id"`
	UniqueID  *string         `json:"unique_id,omitempty"`
	Details   json.RawMessage `json:"details"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Account is a user joined with its profile.
type Account struct {
	User
	UniqueID string          `json:"unique_id,omitempty"`
	Profile  json.RawMessage `json:"profile"`
}

type PatientDetails struct {
	DateOfBirth        string `json:"date_of_birth,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Gender             string `json:"gender,omitempty" validate:"omitempty,max=20"`
	Address            string `json:"address,omitempty"`
	Country            string `json:"country,omitempty" validate:"omitempty,max=55"`
	EmergencyContact   string `json:"emergency_contact,omitempty" validate:"omitempty,max=100"`
	InsuranceProvider  string `json:"insurance_provider,omitempty" validate:"omitempty,max=100"`
	InsuranceID        string `json:"insurance_id,omitempty" validate:"omitempty,max=50"`
	MedicalReferenceNo string `json:"medical_reference_no,omitempty" validate:"omitempty,max=50"`
	MedicalHistory     string `json:"medical_history,omitempty"`
}

type DoctorDetails struct {
	DateOfBirth       string  `json:"date_of_birth,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Gender            string  `json:"gender,omitempty" validate:"omitempty,max=20"`
	Address           string  `json:"address,omitempty"`
	Specialization    string  `json:"specialization,omitempty" validate:"omitempty,max=100"`
	LicenseNumber     string  `json:"license_number,omitempty" validate:"omitempty,max=50"`
	YearsOfExperience int     `json:"years_of_experience,omitempty" validate:"gte=0,lte=80"`
	Fees              float64 `json:"fees,omitempty" validate:"gte=0"`
	Bio               string  `json:"bio,omitempty"`
}

type NurseDetails struct {
	Department    string `json:"department,omitempty" validate:"omitempty,max=100"`
	LicenseNumber string `json:"license_number,omitempty" validate:"omitempty,max=50"`
	Shift         string `json:"shift,omitempty" validate:"omitempty,oneof=Morning Evening Night"`
}

type SonographerDetails struct {
	Certification string `json:"certification,omitempty" validate:"omitempty,max=100"`
	Department    string `json:"department,omitempty" validate:"omitempty,max=100"`
}

type StaffDetails struct {
	Department      string `json:"department,omitempty" validate:"omitempty,max=100"`
	Position        string `json:"position,omitempty" validate:"omitempty,max=100"`
	OfficeLocation  string `json:"office_location,omitempty" validate:"omitempty,max=100"`
	Shift           string `json:"shift,omitempty" validate:"omitempty,oneof=Morning Evening Night"`
	ExtensionNumber string `json:"extension_number,omitempty" validate:"omitempty,max=10"`
}

type GPDetails struct {
	PracticeName  string `json:"practice_name,omitempty" validate:"omitempty,max=150"`
	LicenseNumber string `json:"license_number,omitempty" validate:"omitempty,max=50"`
	Address       string `json:"address,omitempty"`
}

// AccountFilter narrows account listings. Query matches names and email, the
// patient number for patients and the specialization for doctors.
type AccountFilter struct {
	Roles []auth.Role
	Query string
}
