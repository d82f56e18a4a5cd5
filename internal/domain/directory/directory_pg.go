package directory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/visitflow/internal/platform/db"
)

type pgDirectory struct {
	pool *pgxpool.Pool
}

func NewPGDirectory(pool *pgxpool.Pool) Directory {
	return &pgDirectory{pool: pool}
}

func (d *pgDirectory) IsInRole(ctx context.Context, userID uuid.UUID, role string) (bool, error) {
	var ok bool
	err := db.Conn(ctx, d.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM staff_user u
			JOIN staff_user_role r ON r.user_id = u.id
			WHERE u.id = $1 AND u.is_active AND (r.role = $2 OR r.role = $3)
		)`, userID, role, RoleAdmin).Scan(&ok)
	return ok, err
}

func (d *pgDirectory) ActiveUsersInRole(ctx context.Context, role string) ([]uuid.UUID, error) {
	rows, err := db.Conn(ctx, d.pool).Query(ctx, `
		SELECT u.id FROM staff_user u
		JOIN staff_user_role r ON r.user_id = u.id
		WHERE r.role = $1 AND u.is_active
		ORDER BY u.username`, role)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// Upsert writes u and replaces its role set.
func (d *pgDirectory) Upsert(ctx context.Context, u *User) error {
	if err := validate(u); err != nil {
		return err
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return db.InTx(ctx, d.pool, func(ctx context.Context) error {
		q := db.Conn(ctx, d.pool)
		if _, err := q.Exec(ctx, `
			INSERT INTO staff_user (id, username, display_name, is_active)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE
			SET username = EXCLUDED.username,
			    display_name = EXCLUDED.display_name,
			    is_active = EXCLUDED.is_active`,
			u.ID, u.Username, u.DisplayName, u.Active); err != nil {
			return fmt.Errorf("upsert staff user: %w", err)
		}
		if _, err := q.Exec(ctx, `DELETE FROM staff_user_role WHERE user_id = $1`, u.ID); err != nil {
			return fmt.Errorf("clear roles: %w", err)
		}
		batch := &pgx.Batch{}
		for _, role := range u.Roles {
			batch.Queue(`INSERT INTO staff_user_role (user_id, role) VALUES ($1, $2)`, u.ID, role)
		}
		if batch.Len() == 0 {
			return nil
		}
		return q.SendBatch(ctx, batch).Close()
	})
}
