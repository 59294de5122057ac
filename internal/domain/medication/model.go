package medication

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityModerate Severity = "Moderate"
	SeverityHigh     Severity = "High"
)

// ParseSeverity accepts a severity in any letter case.
func ParseSeverity(s string) (Severity, bool) {
	for _, v := range []Severity{SeverityLow, SeverityModerate, SeverityHigh} {
		if strings.EqualFold(strings.TrimSpace(s), string(v)) {
			return v, true
		}
	}
	return "", false
}

type Medication struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Interaction records that two medications interact. The pair is stored in
// the order it was entered; lookups check both orders.
type Interaction struct {
	ID              uuid.UUID `json:"id"`
	Medication1ID   uuid.UUID `json:"medication_1"`
	Medication1Name string    `json:"medication_1_name"`
	Medication2ID   uuid.UUID `json:"medication_2"`
	Medication2Name string    `json:"medication_2_name"`
	Severity        Severity  `json:"severity"`
	Description     string    `json:"description"`
	CreatedAt       time.Time `json:"created_at"`
}

type Prescription struct {
	ID            uuid.UUID           `json:"id"`
	AppointmentID uuid.UUID           `json:"appointment_id"`
	PatientID     uuid.UUID           `json:"patient_id"`
	DoctorID      uuid.UUID           `json:"doctor_id"`
	DoctorName    string              `json:"doctor_name"`
	Notes         string              `json:"notes"`
	CreatedAt     time.Time           `json:"created_at"`
	Items         []*PrescriptionItem `json:"items"`
}

type PrescriptionItem struct {
	ID             uuid.UUID `json:"id"`
	PrescriptionID uuid.UUID `json:"-"`
	MedicationID   uuid.UUID `json:"medication_id"`
	MedicationName string    `json:"medication_name"`
	Dosage         string    `json:"dosage"`
	Frequency      string    `json:"frequency"`
	Duration       string    `json:"duration"`
}

// Finding is one interacting pair among the medications being checked, in
// the order the caller listed them.
type Finding struct {
	Medication1ID uuid.UUID `json:"medication_1_id"`
	Medication2ID uuid.UUID `json:"medication_2_id"`
	Severity      Severity  `json:"severity"`
	Description   string    `json:"description"`
}

// CheckResult splits findings into blocking conflicts and warnings.
type CheckResult struct {
	Conflicts []Finding `json:"conflicts"`
	Warnings  []Finding `json:"warnings"`
}

// Blocked reports whether any High severity pair was found.
func (r *CheckResult) Blocked() bool { return len(r.Conflicts) > 0 }

type pairKey struct{ a, b uuid.UUID }

// CheckInteractions checks every unordered pair of ids once against known,
// looking the pair up in both orders. Repeated ids are checked once.
func CheckInteractions(ids []uuid.UUID, known []*Interaction) *CheckResult {
	index := make(map[pairKey]*Interaction, len(known))
	for _, in := range known {
		index[pairKey{in.Medication1ID, in.Medication2ID}] = in
	}

	ids = dedupe(ids)
	res := &CheckResult{Conflicts: []Finding{}, Warnings: []Finding{}}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := ids[i], ids[j]
			in, ok := index[pairKey{a, b}]
			if !ok {
				in, ok = index[pairKey{b, a}]
			}
			if !ok {
				continue
			}
			f := Finding{Medication1ID: a, Medication2ID: b, Severity: in.Severity, Description: in.Description}
			if in.Severity == SeverityHigh {
				res.Conflicts = append(res.Conflicts, f)
			} else {
				res.Warnings = append(res.Warnings, f)
			}
		}
	}
	return res
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
