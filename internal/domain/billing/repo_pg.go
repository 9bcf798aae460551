package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medpractice/records/internal/platform/db"
)

type careSheetRepoPG struct {
	pool *pgxpool.Pool
}

func NewCareSheetRepo(pool *pgxpool.Pool) CareSheetRepository {
	return &careSheetRepoPG{pool: pool}
}

func (r *careSheetRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const careSheetCols = `id, patient_id, act_date, act_codes, amount, paid, note, created_at, updated_at`

func (r *careSheetRepoPG) Create(ctx context.Context, cs *CareSheet) error {
	cs.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO care_sheet (id, patient_id, act_date, act_codes, amount, paid, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		cs.ID, cs.PatientID, cs.ActDate, cs.ActCodes, cs.Amount, cs.Paid, cs.Note,
	).Scan(&cs.CreatedAt, &cs.UpdatedAt)
	if err != nil {
		return fmt.Errorf("care sheet create: %w", err)
	}
	return nil
}

func (r *careSheetRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*CareSheet, error) {
	cs, err := scanCareSheet(r.conn(ctx).QueryRow(ctx, `SELECT `+careSheetCols+` FROM care_sheet WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("care sheet get: %w", err)
	}
	return cs, nil
}

func (r *careSheetRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*CareSheet, error) {
	return r.query(ctx, `SELECT `+careSheetCols+` FROM care_sheet WHERE patient_id = $1 ORDER BY act_date DESC, id`, patientID)
}

func (r *careSheetRepoPG) ListByPatients(ctx context.Context, patientIDs []uuid.UUID) ([]*CareSheet, error) {
	return r.query(ctx, `SELECT `+careSheetCols+` FROM care_sheet WHERE patient_id = ANY($1) ORDER BY created_at, id`, patientIDs)
}

func (r *careSheetRepoPG) ListAll(ctx context.Context) ([]*CareSheet, error) {
	return r.query(ctx, `SELECT `+careSheetCols+` FROM care_sheet ORDER BY created_at, id`)
}

func (r *careSheetRepoPG) Reassign(ctx context.Context, id, patientID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE care_sheet SET patient_id = $2, updated_at = NOW() WHERE id = $1`, id, patientID)
	if err != nil {
		return fmt.Errorf("care sheet reassign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *careSheetRepoPG) query(ctx context.Context, sql string, args ...any) ([]*CareSheet, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("care sheet query: %w", err)
	}
	defer rows.Close()

	var out []*CareSheet
	for rows.Next() {
		cs, err := scanCareSheet(rows)
		if err != nil {
			return nil, fmt.Errorf("care sheet scan: %w", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

func scanCareSheet(row pgx.Row) (*CareSheet, error) {
	var cs CareSheet
	err := row.Scan(&cs.ID, &cs.PatientID, &cs.ActDate, &cs.ActCodes, &cs.Amount, &cs.Paid, &cs.Note,
		&cs.CreatedAt, &cs.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &cs, nil
}
