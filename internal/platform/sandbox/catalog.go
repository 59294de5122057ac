package sandbox

// MedicationDef is one entry of the reference medication catalogue.
type MedicationDef struct {
	Code        string
	Name        string
	Description string
}

// InteractionDef pairs two catalogue codes.
type InteractionDef struct {
	Code1       string
	Code2       string
	Severity    string
	Description string
}

var medications = []MedicationDef{
	{"ASA81", "Aspirin 81 mg", "Antiplatelet, low dose"},
	{"CLOP75", "Clopidogrel 75 mg", "P2Y12 antiplatelet"},
	{"WARF5", "Warfarin 5 mg", "Vitamin K antagonist anticoagulant"},
	{"APIX5", "Apixaban 5 mg", "Direct factor Xa inhibitor"},
	{"METO50", "Metoprolol 50 mg", "Beta-1 selective blocker"},
	{"BISO5", "Bisoprolol 5 mg", "Beta-1 selective blocker"},
	{"LISI10", "Lisinopril 10 mg", "ACE inhibitor"},
	{"LOSA50", "Losartan 50 mg", "Angiotensin II receptor blocker"},
	{"AMLO5", "Amlodipine 5 mg", "Dihydropyridine calcium channel blocker"},
	{"DILT120", "Diltiazem 120 mg", "Non-dihydropyridine calcium channel blocker"},
	{"VERA80", "Verapamil 80 mg", "Non-dihydropyridine calcium channel blocker"},
	{"ATOR20", "Atorvastatin 20 mg", "HMG-CoA reductase inhibitor"},
	{"SIMV40", "Simvastatin 40 mg", "HMG-CoA reductase inhibitor"},
	{"DIGO125", "Digoxin 125 mcg", "Cardiac glycoside"},
	{"AMIO200", "Amiodarone 200 mg", "Class III antiarrhythmic"},
	{"FURO40", "Furosemide 40 mg", "Loop diuretic"},
	{"SPIR25", "Spironolactone 25 mg", "Aldosterone antagonist"},
	{"GTN400", "Glyceryl trinitrate 400 mcg spray", "Nitrate vasodilator"},
	{"IBUP400", "Ibuprofen 400 mg", "Non-steroidal anti-inflammatory"},
	{"CLAR500", "Clarithromycin 500 mg", "Macrolide antibiotic, CYP3A4 inhibitor"},
}

var interactions = []InteractionDef{
	{"WARF5", "ASA81", "High", "Additive bleeding risk"},
	{"WARF5", "AMIO200", "High", "Amiodarone raises INR; reduce warfarin dose"},
	{"WARF5", "IBUP400", "High", "NSAID increases bleeding risk"},
	{"APIX5", "ASA81", "Moderate", "Increased bleeding risk"},
	{"CLOP75", "ASA81", "Moderate", "Dual antiplatelet therapy; monitor for bleeding"},
	{"DIGO125", "AMIO200", "High", "Amiodarone raises digoxin levels"},
	{"DIGO125", "VERA80", "High", "Raised digoxin levels and AV block"},
	{"DIGO125", "FURO40", "Moderate", "Hypokalaemia increases digoxin toxicity"},
	{"SIMV40", "AMIO200", "High", "Myopathy risk; limit simvastatin to 20 mg"},
	{"SIMV40", "CLAR500", "High", "Contraindicated; rhabdomyolysis risk"},
	{"SIMV40", "AMLO5", "Low", "Limit simvastatin to 20 mg"},
	{"ATOR20", "CLAR500", "Moderate", "Raised statin exposure"},
	{"METO50", "VERA80", "High", "Bradycardia and heart block"},
	{"METO50", "DILT120", "Moderate", "Additive negative chronotropy"},
	{"BISO5", "VERA80", "High", "Bradycardia and heart block"},
	{"LISI10", "SPIR25", "Moderate", "Hyperkalaemia"},
	{"LOSA50", "SPIR25", "Moderate", "Hyperkalaemia"},
	{"LISI10", "IBUP400", "Moderate", "Reduced antihypertensive effect and renal risk"},
	{"ASA81", "IBUP400", "Low", "Ibuprofen may blunt aspirin antiplatelet effect"},
}

// Medications returns a copy of the reference medication catalogue.
func Medications() []MedicationDef {
	out := make([]MedicationDef, len(medications))
	copy(out, medications)
	return out
}

// Interactions returns a copy of the reference interaction table.
func Interactions() []InteractionDef {
	out := make([]InteractionDef, len(interactions))
	copy(out, interactions)
	return out
}
