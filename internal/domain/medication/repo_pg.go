package medication

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medpractice/records/internal/platform/db"
)

type prescriptionRepoPG struct {
	pool *pgxpool.Pool
}

func NewPrescriptionRepo(pool *pgxpool.Pool) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

func (r *prescriptionRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const rxCols = `id, patient_id, prescribed_on, medication, dosage, instructions, duration_days, created_at, updated_at`

func (r *prescriptionRepoPG) Create(ctx context.Context, rx *Prescription) error {
	rx.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescription (id, patient_id, prescribed_on, medication, dosage, instructions, duration_days)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		rx.ID, rx.PatientID, rx.PrescribedOn, rx.Medication, rx.Dosage, rx.Instructions, rx.DurationDays,
	).Scan(&rx.CreatedAt, &rx.UpdatedAt)
	if err != nil {
		return fmt.Errorf("prescription create: %w", err)
	}
	return nil
}

func (r *prescriptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	rx, err := scanPrescription(r.conn(ctx).QueryRow(ctx, `SELECT `+rxCols+` FROM prescription WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("prescription get: %w", err)
	}
	return rx, nil
}

func (r *prescriptionRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error) {
	return r.query(ctx, `SELECT `+rxCols+` FROM prescription WHERE patient_id = $1 ORDER BY prescribed_on DESC, id`, patientID)
}

func (r *prescriptionRepoPG) ListByPatients(ctx context.Context, patientIDs []uuid.UUID) ([]*Prescription, error) {
	return r.query(ctx, `SELECT `+rxCols+` FROM prescription WHERE patient_id = ANY($1) ORDER BY created_at, id`, patientIDs)
}

func (r *prescriptionRepoPG) ListAll(ctx context.Context) ([]*Prescription, error) {
	return r.query(ctx, `SELECT `+rxCols+` FROM prescription ORDER BY created_at, id`)
}

func (r *prescriptionRepoPG) Reassign(ctx context.Context, id, patientID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE prescription SET patient_id = $2, updated_at = NOW() WHERE id = $1`, id, patientID)
	if err != nil {
		return fmt.Errorf("prescription reassign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *prescriptionRepoPG) query(ctx context.Context, sql string, args ...any) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("prescription query: %w", err)
	}
	defer rows.Close()

	var out []*Prescription
	for rows.Next() {
		rx, err := scanPrescription(rows)
		if err != nil {
			return nil, fmt.Errorf("prescription scan: %w", err)
		}
		out = append(out, rx)
	}
	return out, rows.Err()
}

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var rx Prescription
	err := row.Scan(&rx.ID, &rx.PatientID, &rx.PrescribedOn, &rx.Medication, &rx.Dosage, &rx.Instructions,
		&rx.DurationDays, &rx.CreatedAt, &rx.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rx, nil
}
