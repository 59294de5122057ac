package identity

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/heartflow/clinic/internal/platform/auth"
)

// roleStrategy describes how accounts of one role are registered and how
// their profile details are shaped.
type roleStrategy struct {
	// selfRegister allows the role through the public registration endpoint.
	selfRegister bool
	// details returns a zero value of the role's details struct.
	details func() interface{}
	// uniqueID assigns the human facing account number, if the role has one.
	uniqueID func() (string, error)
}

var strategies = map[auth.Role]roleStrategy{
	auth.RolePatient: {
		selfRegister: true,
		details:      func() interface{} { return &PatientDetails{} },
		uniqueID:     newPatientNumber,
	},
	auth.RoleCardiologist: {
		selfRegister: true,
		details:      func() interface{} { return &DoctorDetails{} },
	},
	auth.RoleNurse: {
		selfRegister: true,
		details:      func() interface{} { return &NurseDetails{} },
	},
	auth.RoleSonographer: {
		selfRegister: true,
		details:      func() interface{} { return &SonographerDetails{} },
	},
	auth.RoleAdministrativeStaff: {
		selfRegister: true,
		details:      func() interface{} { return &StaffDetails{} },
	},
	auth.RoleGeneralPractitioner: {
		selfRegister: true,
		details:      func() interface{} { return &GPDetails{} },
	},
	auth.RoleAdmin: {
		details: func() interface{} { return &StaffDetails{} },
	},
	auth.RoleITStaff: {
		details: func() interface{} { return &StaffDetails{} },
	},
	auth.RoleGroupManager: {
		details: func() interface{} { return &StaffDetails{} },
	},
}

func strategyFor(r auth.Role) (roleStrategy, bool) {
	s, ok := strategies[r]
	return s, ok
}

// decodeDetails unmarshals raw on top of base (which may already hold stored
// values) so that a partial update only touches the fields it names.
func (s roleStrategy) decodeDetails(base, raw json.RawMessage) (interface{}, error) {
	d := s.details()
	if len(base) > 0 {
		if err := json.Unmarshal(base, d); err != nil {
			return nil, fmt.Errorf("decode stored profile: %w", err)
		}
	}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

const patientNumberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// newPatientNumber returns an id like PAT-7KQ2MX.
func newPatientNumber() (string, error) {
	b := make([]byte, 6)
	max := big.NewInt(int64(len(patientNumberAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate patient number: %w", err)
		}
		b[i] = patientNumberAlphabet[n.Int64()]
	}
	return "PAT-" + string(b), nil
}
