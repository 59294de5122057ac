// Package sandbox seeds reference data and reproducible demo patients for
// development and demo environments.
package sandbox

import (
	"fmt"
	"math/rand"
	"strings"
)

// SyntheticPatient is a generated demo patient.
type SyntheticPatient struct {
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	Gender      string
	DateOfBirth string
	Address     string
	Country     string
	History     string
}

var (
	firstNamesMale = []string{
		"James", "Robert", "John", "Michael", "David", "William", "Richard",
		"Joseph", "Thomas", "Daniel", "Matthew", "Anthony", "Mark", "Paul",
		"Andrew", "Kevin", "Brian", "George", "Edward", "Samuel",
	}
	firstNamesFemale = []string{
		"Mary", "Patricia", "Jennifer", "Linda", "Elizabeth", "Susan",
		"Jessica", "Sarah", "Karen", "Margaret", "Emily", "Michelle",
		"Amanda", "Rebecca", "Laura", "Anna", "Emma", "Rachel", "Helen",
		"Catherine",
	}
	lastNames = []string{
		"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller",
		"Davis", "Wilson", "Anderson", "Taylor", "Moore", "Jackson", "Martin",
		"Lee", "Thompson", "White", "Harris", "Clark", "Lewis", "Walker",
		"Young", "Allen", "King", "Wright", "Hill", "Green", "Baker",
	}
	streets = []string{
		"12 High Street", "45 Station Road", "7 Church Lane", "89 Park Avenue",
		"23 Mill Road", "156 Victoria Street", "3 Queens Road", "61 Green Lane",
	}
	cities = []string{
		"London", "Manchester", "Birmingham", "Leeds", "Bristol", "Liverpool",
		"Sheffield", "Nottingham",
	}
	cardiacHistory = []string{
		"Essential hypertension",
		"Hyperlipidaemia",
		"Atrial fibrillation",
		"Stable angina",
		"Type 2 diabetes mellitus",
		"Previous myocardial infarction",
		"Heart failure with reduced ejection fraction",
		"Palpitations under investigation",
	}
)

// DataGenerator produces reproducible demo data from a seeded source.
type DataGenerator struct {
	rng     *rand.Rand
	counter int
}

func NewDataGenerator(seed int64) *DataGenerator {
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *DataGenerator) randomDate(minYear, maxYear int) string {
	y := minYear + g.rng.Intn(maxYear-minYear+1)
	m := 1 + g.rng.Intn(12)
	d := 1 + g.rng.Intn(28)
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

func (g *DataGenerator) randomPhone() string {
	return fmt.Sprintf("07%03d %06d", 100+g.rng.Intn(900), g.rng.Intn(1000000))
}

// GeneratePatient returns the next demo patient. Emails carry a running
// counter so every patient from one generator is distinct.
func (g *DataGenerator) GeneratePatient() SyntheticPatient {
	g.counter++
	p := SyntheticPatient{LastName: g.pick(lastNames)}
	if g.rng.Intn(2) == 0 {
		p.FirstName = g.pick(firstNamesMale)
		p.Gender = "Male"
	} else {
		p.FirstName = g.pick(firstNamesFemale)
		p.Gender = "Female"
	}
	p.Email = fmt.Sprintf("%s.%s.%03d@demo.heartflow.local",
		strings.ToLower(p.FirstName), strings.ToLower(p.LastName), g.counter)
	p.Phone = g.randomPhone()
	p.DateOfBirth = g.randomDate(1940, 2005)
	p.Address = g.pick(streets) + ", " + g.pick(cities)
	p.Country = "United Kingdom"
	p.History = g.pick(cardiacHistory)
	return p
}
