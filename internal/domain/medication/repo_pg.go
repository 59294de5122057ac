package medication

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heartflow/clinic/internal/platform/db"
)

func connFor(ctx context.Context, pool *pgxpool.Pool) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// =========== Medication Repository ===========

type medicationRepoPG struct{ pool *pgxpool.Pool }

func NewMedicationRepoPG(pool *pgxpool.Pool) MedicationRepository {
	return &medicationRepoPG{pool: pool}
}

const medCols = `id, name, code, description, created_at`

func scanMedication(row pgx.Row) (*Medication, error) {
	var m Medication
	if err := row.Scan(&m.ID, &m.Name, &m.Code, &m.Description, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *medicationRepoPG) Create(ctx context.Context, m *Medication) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO medication (id, name, code, description)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at`,
		m.ID, m.Name, m.Code, m.Description,
	).Scan(&m.CreatedAt)
}

func (r *medicationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Medication, error) {
	return scanMedication(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+medCols+` FROM medication WHERE id = $1`, id))
}

func (r *medicationRepoPG) GetMany(ctx context.Context, ids []uuid.UUID) ([]*Medication, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `SELECT `+medCols+` FROM medication WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Medication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *medicationRepoPG) Search(ctx context.Context, q string, limit, offset int) ([]*Medication, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if q != "" {
		where += fmt.Sprintf(` AND (name ILIKE $%d OR code ILIKE $%d)`, idx, idx)
		args = append(args, "%"+q+"%")
		idx++
	}

	var total int
	if err := connFor(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM medication`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + medCols + ` FROM medication` + where + fmt.Sprintf(` ORDER BY name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)
	rows, err := connFor(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Medication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

// =========== Interaction Repository ===========

type interactionRepoPG struct{ pool *pgxpool.Pool }

func NewInteractionRepoPG(pool *pgxpool.Pool) InteractionRepository {
	return &interactionRepoPG{pool: pool}
}

const interactionCols = `i.id, i.medication_1_id, m1.name, i.medication_2_id, m2.name,
	i.severity, i.description, i.created_at`

const interactionFrom = ` FROM drug_interaction i
	JOIN medication m1 ON m1.id = i.medication_1_id
	JOIN medication m2 ON m2.id = i.medication_2_id`

func scanInteraction(row pgx.Row) (*Interaction, error) {
	var in Interaction
	if err := row.Scan(&in.ID, &in.Medication1ID, &in.Medication1Name, &in.Medication2ID, &in.Medication2Name,
		&in.Severity, &in.Description, &in.CreatedAt); err != nil {
		return nil, err
	}
	return &in, nil
}

func (r *interactionRepoPG) Create(ctx context.Context, in *Interaction) error {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO drug_interaction (id, medication_1_id, medication_2_id, severity, description)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		in.ID, in.Medication1ID, in.Medication2ID, string(in.Severity), in.Description,
	).Scan(&in.CreatedAt)
}

func (r *interactionRepoPG) collect(rows pgx.Rows) ([]*Interaction, error) {
	defer rows.Close()
	var items []*Interaction
	for rows.Next() {
		in, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, in)
	}
	return items, rows.Err()
}

func (r *interactionRepoPG) List(ctx context.Context, limit, offset int) ([]*Interaction, int, error) {
	var total int
	if err := connFor(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM drug_interaction`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+interactionCols+interactionFrom+` ORDER BY m1.name, m2.name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	return items, total, err
}

func (r *interactionRepoPG) Among(ctx context.Context, ids []uuid.UUID) ([]*Interaction, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+interactionCols+interactionFrom+`
		WHERE i.medication_1_id = ANY($1) AND i.medication_2_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

// =========== Prescription Repository ===========

type prescriptionRepoPG struct{ pool *pgxpool.Pool }

func NewPrescriptionRepoPG(pool *pgxpool.Pool) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

const rxCols = `p.id, p.appointment_id, p.patient_id, p.doctor_id,
	TRIM(u.first_name || ' ' || u.last_name), p.notes, p.created_at`

const rxFrom = ` FROM prescription p JOIN users u ON u.id = p.doctor_id`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	if err := row.Scan(&p.ID, &p.AppointmentID, &p.PatientID, &p.DoctorID, &p.DoctorName, &p.Notes, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Items = []*PrescriptionItem{}
	return &p, nil
}

func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	conn := connFor(ctx, r.pool)
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := conn.QueryRow(ctx, `
		INSERT INTO prescription (id, appointment_id, patient_id, doctor_id, notes)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		p.ID, p.AppointmentID, p.PatientID, p.DoctorID, p.Notes,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}
	for _, it := range p.Items {
		if it.ID == uuid.Nil {
			it.ID = uuid.New()
		}
		it.PrescriptionID = p.ID
		_, err := conn.Exec(ctx, `
			INSERT INTO prescription_item (id, prescription_id, medication_id, dosage, frequency, duration)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			it.ID, it.PrescriptionID, it.MedicationID, it.Dosage, it.Frequency, it.Duration)
		if err != nil {
			return fmt.Errorf("insert prescription item: %w", err)
		}
	}
	return nil
}

// attachItems loads the items of every prescription in ps.
func (r *prescriptionRepoPG) attachItems(ctx context.Context, ps []*Prescription) error {
	if len(ps) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*Prescription, len(ps))
	ids := make([]uuid.UUID, len(ps))
	for i, p := range ps {
		byID[p.ID] = p
		ids[i] = p.ID
	}
	rows, err := connFor(ctx, r.pool).Query(ctx, `
		SELECT it.id, it.prescription_id, it.medication_id, m.name, it.dosage, it.frequency, it.duration
		FROM prescription_item it JOIN medication m ON m.id = it.medication_id
		WHERE it.prescription_id = ANY($1)
		ORDER BY m.name`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var it PrescriptionItem
		if err := rows.Scan(&it.ID, &it.PrescriptionID, &it.MedicationID, &it.MedicationName,
			&it.Dosage, &it.Frequency, &it.Duration); err != nil {
			return err
		}
		if p := byID[it.PrescriptionID]; p != nil {
			p.Items = append(p.Items, &it)
		}
	}
	return rows.Err()
}

func (r *prescriptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := scanPrescription(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+rxCols+rxFrom+` WHERE p.id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.attachItems(ctx, []*Prescription{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *prescriptionRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	var total int
	if err := connFor(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM prescription WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+rxCols+rxFrom+` WHERE p.patient_id = $1 ORDER BY p.created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	rows.Close()
	if err := r.attachItems(ctx, items); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
