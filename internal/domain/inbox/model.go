package inbox

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeAppointmentCreated   Type = "appointment_created"
	TypeAppointmentUpdated   Type = "appointment_updated"
	TypeAppointmentCancelled Type = "appointment_cancelled"
	TypeAppointmentReminder  Type = "appointment_reminder"
	TypeReferralReceived     Type = "referral_received"
	TypeDiagnosticUpdate     Type = "diagnostic_update"
)

type Notification struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	Type          Type       `json:"type"`
	Title         string     `json:"title"`
	Message       string     `json:"message"`
	IsRead        bool       `json:"is_read"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Notice is a request to notify one user. When Template and EmailTo are set
// the notice is also emailed.
type Notice struct {
	UserID        uuid.UUID
	Type          Type
	Title         string
	Message       string
	AppointmentID *uuid.UUID

	EmailTo  string
	Template string
	Data     map[string]string
}
