package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fakeCatalog struct {
	meds  map[string]uuid.UUID
	pairs map[[2]uuid.UUID]bool
	fail  string
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{meds: map[string]uuid.UUID{}, pairs: map[[2]uuid.UUID]bool{}}
}

func (c *fakeCatalog) EnsureMedication(_ context.Context, d MedicationDef) (uuid.UUID, bool, error) {
	if d.Code == c.fail {
		return uuid.Nil, false, errors.New("boom")
	}
	if id, ok := c.meds[d.Code]; ok {
		return id, false, nil
	}
	id := uuid.New()
	c.meds[d.Code] = id
	return id, true, nil
}

func (c *fakeCatalog) EnsureInteraction(_ context.Context, a, b uuid.UUID, _ InteractionDef) (bool, error) {
	if a.String() > b.String() {
		a, b = b, a
	}
	key := [2]uuid.UUID{a, b}
	if c.pairs[key] {
		return false, nil
	}
	c.pairs[key] = true
	return true, nil
}

type fakePatients struct {
	emails map[string]bool
}

func (p *fakePatients) EnsurePatient(_ context.Context, sp SyntheticPatient) (bool, error) {
	if p.emails[sp.Email] {
		return false, nil
	}
	p.emails[sp.Email] = true
	return true, nil
}

func TestSeeder_RunIsIdempotent(t *testing.T) {
	cat := newFakeCatalog()
	pats := &fakePatients{emails: map[string]bool{}}
	s := NewSeeder(cat, pats, zerolog.Nop())
	ctx := context.Background()

	first, err := s.Run(ctx, SeedConfig{PatientCount: 5, Seed: 42})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.MedicationsCreated != len(Medications()) || first.MedicationsExisting != 0 {
		t.Errorf("unexpected medication counts: %+v", first)
	}
	if first.InteractionsCreated != len(Interactions()) {
		t.Errorf("expected %d interactions, got %d", len(Interactions()), first.InteractionsCreated)
	}
	if first.PatientsCreated != 5 {
		t.Errorf("expected 5 patients, got %d", first.PatientsCreated)
	}

	second, err := s.Run(ctx, SeedConfig{PatientCount: 5, Seed: 42})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.MedicationsCreated != 0 || second.InteractionsCreated != 0 || second.PatientsCreated != 0 {
		t.Errorf("second run should create nothing: %+v", second)
	}
	if second.MedicationsExisting != len(Medications()) || second.PatientsSkipped != 5 {
		t.Errorf("unexpected skip counts: %+v", second)
	}
}

func TestSeeder_NoPatients(t *testing.T) {
	s := NewSeeder(newFakeCatalog(), nil, zerolog.Nop())
	res, err := s.Run(context.Background(), SeedConfig{PatientCount: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PatientsCreated != 0 {
		t.Errorf("expected no patients, got %d", res.PatientsCreated)
	}
}

func TestSeeder_PropagatesError(t *testing.T) {
	cat := newFakeCatalog()
	cat.fail = "DIGO125"
	s := NewSeeder(cat, nil, zerolog.Nop())
	_, err := s.Run(context.Background(), SeedConfig{})
	if err == nil || !strings.Contains(err.Error(), "DIGO125") {
		t.Errorf("expected error naming DIGO125, got %v", err)
	}
}

func TestCatalog_Consistent(t *testing.T) {
	codes := map[string]bool{}
	for _, m := range Medications() {
		if codes[m.Code] {
			t.Errorf("duplicate code %s", m.Code)
		}
		codes[m.Code] = true
	}
	pairs := map[string]bool{}
	for _, it := range Interactions() {
		if !codes[it.Code1] || !codes[it.Code2] {
			t.Errorf("interaction %s/%s references unknown code", it.Code1, it.Code2)
		}
		if it.Code1 == it.Code2 {
			t.Errorf("self interaction %s", it.Code1)
		}
		a, b := it.Code1, it.Code2
		if a > b {
			a, b = b, a
		}
		if pairs[a+"/"+b] {
			t.Errorf("duplicate pair %s/%s", a, b)
		}
		pairs[a+"/"+b] = true
		switch it.Severity {
		case "Low", "Moderate", "High":
		default:
			t.Errorf("invalid severity %q", it.Severity)
		}
	}
}

func TestDataGenerator_Reproducible(t *testing.T) {
	g1 := NewDataGenerator(7)
	g2 := NewDataGenerator(7)
	for i := 0; i < 10; i++ {
		a, b := g1.GeneratePatient(), g2.GeneratePatient()
		if a != b {
			t.Fatalf("patient %d differs: %+v vs %+v", i, a, b)
		}
	}
}

func TestDataGenerator_Patient(t *testing.T) {
	g := NewDataGenerator(3)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		p := g.GeneratePatient()
		if p.FirstName == "" || p.LastName == "" {
			t.Fatalf("missing name: %+v", p)
		}
		if seen[p.Email] {
			t.Errorf("duplicate email %s", p.Email)
		}
		seen[p.Email] = true
		if len(p.Phone) > 20 {
			t.Errorf("phone too long: %q", p.Phone)
		}
		if p.Gender != "Male" && p.Gender != "Female" {
			t.Errorf("unexpected gender %q", p.Gender)
		}
		if len(p.DateOfBirth) != 10 {
			t.Errorf("unexpected date of birth %q", p.DateOfBirth)
		}
	}
}
