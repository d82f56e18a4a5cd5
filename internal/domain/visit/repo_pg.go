package visit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/visitflow/internal/platform/db"
)

const visitNumberConstraint = "visit_visit_number_key"

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const visitCols = `id, visit_number, patient_id, visit_type,
	lab_completed, pharmacy_completed, doctor_completed,
	status, completion_kind, version, created_by, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, v *Visit) error {
	v.ID = uuid.New()
	v.Version = 1
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO visit (
			id, visit_number, patient_id, visit_type,
			lab_completed, pharmacy_completed, doctor_completed,
			status, completion_kind, version, created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		v.ID, v.VisitNumber, v.PatientID, v.Type,
		v.LabCompleted, v.PharmacyCompleted, v.DoctorCompleted,
		v.Status, v.CompletionKind, v.Version, v.CreatedBy,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
	if db.IsUniqueViolation(err, visitNumberConstraint) {
		return ErrDuplicateNumber
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return scanVisit(r.conn(ctx).QueryRow(ctx, `SELECT `+visitCols+` FROM visit WHERE id = $1`, id))
}

func (r *repoPG) GetByNumber(ctx context.Context, number string) (*Visit, error) {
	return scanVisit(r.conn(ctx).QueryRow(ctx, `SELECT `+visitCols+` FROM visit WHERE visit_number = $1`, number))
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Visit, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM visit`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+visitCols+` FROM visit ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectVisits(rows, total)
}

var flagColumns = map[Department]string{
	DeptLab:      "lab_completed",
	DeptPharmacy: "pharmacy_completed",
	DeptDoctor:   "doctor_completed",
}

// needingDepartmentWhere mirrors Visit.NeedsDepartment.
func needingDepartmentWhere(d Department) (string, []interface{}) {
	where := fmt.Sprintf(`(%s = TRUE OR status = $1 OR status = $2)`, flagColumns[d])
	args := []interface{}{StatusPendingAll, d.pendingStatus()}
	if d == DeptDoctor {
		where = fmt.Sprintf(`(%s = TRUE OR status = $1 OR status = $2 OR (visit_type = $3 AND status <> $4))`, flagColumns[d])
		args = append(args, TypeDoctorDirected, StatusCompleted)
	}
	return where, args
}

func (r *repoPG) ListNeedingDepartment(ctx context.Context, d Department, limit, offset int) ([]*Visit, int, error) {
	if _, ok := flagColumns[d]; !ok {
		return nil, 0, fmt.Errorf("unknown department %q", d)
	}
	where, args := needingDepartmentWhere(d)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM visit WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM visit WHERE %s ORDER BY created_at ASC LIMIT $%d OFFSET $%d`, visitCols, where, n+1, n+2),
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectVisits(rows, total)
}

func (r *repoPG) UpdateState(ctx context.Context, v *Visit) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE visit SET
			lab_completed=$3, pharmacy_completed=$4, doctor_completed=$5,
			status=$6, completion_kind=$7, version = version + 1, updated_at=NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		v.ID, v.Version,
		v.LabCompleted, v.PharmacyCompleted, v.DoctorCompleted,
		v.Status, v.CompletionKind,
	).Scan(&v.Version, &v.UpdatedAt)
	if !db.IsNoRows(err) {
		return err
	}

	var exists bool
	if err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM visit WHERE id = $1)`, v.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

// Status history
func (r *repoPG) AddStatusHistory(ctx context.Context, e *StatusHistoryEntry) error {
	e.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO visit_status_history (id, visit_id, version, status, forced, changed_by, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		e.ID, e.VisitID, e.Version, e.Status, e.Forced, e.ChangedBy, e.Notes,
	).Scan(&e.CreatedAt)
}

func (r *repoPG) GetStatusHistory(ctx context.Context, visitID uuid.UUID) ([]*StatusHistoryEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, visit_id, version, status, forced, changed_by, notes, created_at
		FROM visit_status_history WHERE visit_id = $1 ORDER BY version, created_at`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*StatusHistoryEntry
	for rows.Next() {
		var e StatusHistoryEntry
		if err := rows.Scan(&e.ID, &e.VisitID, &e.Version, &e.Status, &e.Forced, &e.ChangedBy, &e.Notes, &e.CreatedAt); err != nil {
			return nil, err
		}
		history = append(history, &e)
	}
	return history, rows.Err()
}

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	err := row.Scan(
		&v.ID, &v.VisitNumber, &v.PatientID, &v.Type,
		&v.LabCompleted, &v.PharmacyCompleted, &v.DoctorCompleted,
		&v.Status, &v.CompletionKind, &v.Version, &v.CreatedBy, &v.CreatedAt, &v.UpdatedAt,
	)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func collectVisits(rows pgx.Rows, total int) ([]*Visit, int, error) {
	var visits []*Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, 0, err
		}
		visits = append(visits, v)
	}
	return visits, total, rows.Err()
}
