package records

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/visitflow/internal/domain/visit"
	"github.com/ehr/visitflow/internal/platform/db"
)

type pgStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, s.pool)
}

// HasRecords counts placeholders too: a pending lab result is still a lab
// record on the visit.
func (s *pgStore) HasRecords(ctx context.Context, visitID uuid.UUID, d visit.Department) (bool, error) {
	table, ok := recordTables[d]
	if !ok {
		return false, fmt.Errorf("unknown department %q", d)
	}
	var exists bool
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+table+` WHERE visit_id = $1)`, visitID).Scan(&exists)
	return exists, err
}

func (s *pgStore) LookupLabTests(ctx context.Context, ids []uuid.UUID) ([]visit.CatalogItem, error) {
	return s.lookup(ctx, "lab_test", ids)
}

func (s *pgStore) LookupDrugs(ctx context.Context, ids []uuid.UUID) ([]visit.CatalogItem, error) {
	return s.lookup(ctx, "drug", ids)
}

func (s *pgStore) lookup(ctx context.Context, table string, ids []uuid.UUID) ([]visit.CatalogItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT id, name FROM `+table+` WHERE id = ANY($1) AND is_active`, ids)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (visit.CatalogItem, error) {
		var it visit.CatalogItem
		err := row.Scan(&it.ID, &it.Name)
		return it, err
	})
}

func (s *pgStore) CreatePendingLabResults(ctx context.Context, visitID, actorID uuid.UUID, tests []visit.CatalogItem) error {
	batch := &pgx.Batch{}
	for _, t := range tests {
		batch.Queue(`
			INSERT INTO lab_result (id, visit_id, lab_test_id, test_name, status, created_by)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New(), visitID, t.ID, t.Name, Pending, actorID)
	}
	return s.send(ctx, batch)
}

func (s *pgStore) CreatePendingPrescriptions(ctx context.Context, visitID, actorID uuid.UUID, drugs []visit.CatalogItem) error {
	batch := &pgx.Batch{}
	for _, d := range drugs {
		batch.Queue(`
			INSERT INTO prescription (id, visit_id, drug_id, drug_name, status, created_by)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New(), visitID, d.ID, d.Name, Pending, actorID)
	}
	return s.send(ctx, batch)
}

// send runs batch in the caller's transaction, or in its own.
func (s *pgStore) send(ctx context.Context, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	return db.InTx(ctx, s.pool, func(ctx context.Context) error {
		return s.conn(ctx).SendBatch(ctx, batch).Close()
	})
}
