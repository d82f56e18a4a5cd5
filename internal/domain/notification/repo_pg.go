package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/visitflow/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const notificationCols = `id, recipient_user_id, sender_user_id, visit_id, type, title, message, is_read, created_at, read_at`

// CreateBatch queues one INSERT per row in a single round trip inside a
// transaction.
func (r *repoPG) CreateBatch(ctx context.Context, ns []*Notification) error {
	if len(ns) == 0 {
		return nil
	}
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		batch := &pgx.Batch{}
		for _, n := range ns {
			n.ID = uuid.New()
			batch.Queue(`
				INSERT INTO notification (id, recipient_user_id, sender_user_id, visit_id, type, title, message)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
				RETURNING created_at`,
				n.ID, n.RecipientUserID, n.SenderUserID, n.VisitID, n.Type, n.Title, n.Message,
			)
		}

		br := db.Conn(ctx, r.pool).SendBatch(ctx, batch)
		for i, n := range ns {
			if err := br.QueryRow().Scan(&n.CreatedAt); err != nil {
				br.Close()
				return fmt.Errorf("insert notification %d of %d: %w", i+1, len(ns), err)
			}
		}
		return br.Close()
	})
}

func (r *repoPG) ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	where := `recipient_user_id = $1`
	if unreadOnly {
		where += ` AND is_read = FALSE`
	}
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM notification WHERE `+where, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := conn.Query(ctx, `SELECT `+notificationCols+` FROM notification WHERE `+where+`
		ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

func (r *repoPG) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM notification WHERE recipient_user_id = $1 AND is_read = FALSE`, userID).Scan(&n)
	return n, err
}

func (r *repoPG) MarkRead(ctx context.Context, id, userID uuid.UUID) (*Notification, error) {
	return scanNotification(db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE notification SET is_read = TRUE, read_at = COALESCE(read_at, NOW())
		WHERE id = $1 AND recipient_user_id = $2
		RETURNING `+notificationCols, id, userID))
}

func (r *repoPG) MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE notification SET is_read = TRUE, read_at = NOW()
		WHERE recipient_user_id = $1 AND is_read = FALSE`, userID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.RecipientUserID, &n.SenderUserID, &n.VisitID, &n.Type,
		&n.Title, &n.Message, &n.IsRead, &n.CreatedAt, &n.ReadAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}
