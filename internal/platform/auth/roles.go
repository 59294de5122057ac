package auth

import "strings"

// Role is a user's single clinic role. Tokens carry it in the roles claim.
type Role string

const (
	RoleAdmin               Role = "admin"
	RoleCardiologist        Role = "cardiologist"
	RoleNurse               Role = "nurse"
	RoleSonographer         Role = "sonographer"
	RoleAdministrativeStaff Role = "administrative_staff"
	RolePatient             Role = "patient"
	RoleGeneralPractitioner Role = "general_practitioner"
	RoleGroupManager        Role = "group_manager"
	RoleITStaff             Role = "it_staff"
)

var roleLabels = map[Role]string{
	RoleAdmin:               "Admin",
	RoleCardiologist:        "Cardiologist",
	RoleNurse:               "Nurse",
	RoleSonographer:         "Sonographer",
	RoleAdministrativeStaff: "Administrative Staff",
	RolePatient:             "Patient",
	RoleGeneralPractitioner: "General Practitioner",
	RoleGroupManager:        "Group Manager",
	RoleITStaff:             "IT Staff",
}

// Label returns the display name, e.g. "Administrative Staff".
func (r Role) Label() string {
	if l, ok := roleLabels[r]; ok {
		return l
	}
	return string(r)
}

func (r Role) Valid() bool {
	_, ok := roleLabels[r]
	return ok
}

// ParseRole accepts either the code ("administrative_staff") or the display
// label ("Administrative Staff"), case-insensitively.
func ParseRole(s string) (Role, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, " ", "_")
	norm = strings.ReplaceAll(norm, "-", "_")
	r := Role(norm)
	if r.Valid() {
		return r, true
	}
	return "", false
}

// Roles converts role codes for RequireRole.
func Roles(rs ...Role) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}
