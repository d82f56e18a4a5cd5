package visit

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/visitflow/internal/platform/db"
)

// maxSequenceSQL is the highest sequence stored for the day in $1.
const maxSequenceSQL = `
	SELECT COALESCE(MAX(split_part(visit_number, '-', 2)::bigint), 0)
	FROM visit WHERE visit_number LIKE $1 || '-%'`

// PGCounter keeps one row per day in visit_number_counter. The upsert takes
// the row lock, so concurrent callers are serialized by Postgres.
type PGCounter struct {
	pool *pgxpool.Pool
}

func NewPGCounter(pool *pgxpool.Pool) *PGCounter {
	return &PGCounter{pool: pool}
}

// Next seeds a missing day from the visits already numbered that day, which
// keeps numbering continuous for rows created before the counter existed.
func (c *PGCounter) Next(ctx context.Context, day string) (int64, error) {
	var seq int64
	err := db.Conn(ctx, c.pool).QueryRow(ctx, `
		INSERT INTO visit_number_counter (day, seq)
		VALUES ($1, (`+maxSequenceSQL+`) + 1)
		ON CONFLICT (day) DO UPDATE SET seq = visit_number_counter.seq + 1
		RETURNING seq`, day).Scan(&seq)
	return seq, err
}

// PGDaySeeder reads the highest stored sequence for a day from the visit table.
func PGDaySeeder(pool *pgxpool.Pool) DaySeeder {
	return func(ctx context.Context, day string) (int64, error) {
		var max int64
		err := db.Conn(ctx, pool).QueryRow(ctx, maxSequenceSQL, day).Scan(&max)
		return max, err
	}
}
