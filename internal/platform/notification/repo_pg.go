package notification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hadadahealth/reports/internal/platform/apperr"
	"github.com/hadadahealth/reports/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const notificationCols = `id, report_id, recipient_id, type, message, is_read, created_at, read_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.ReportID, &n.RecipientID, &n.Type, &n.Message, &n.Read, &n.CreatedAt, &n.ReadAt)
	return &n, err
}

func (r *repoPG) Create(ctx context.Context, n *Notification) (bool, error) {
	n.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO report_notification (id, report_id, recipient_id, type, message, dedupe_key)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (dedupe_key) DO NOTHING
		RETURNING created_at`,
		n.ID, n.ReportID, n.RecipientID, n.Type, n.Message, n.DedupeKey,
	).Scan(&n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		n.ID = uuid.Nil
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *repoPG) ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	where := `WHERE recipient_id = $1`
	if unreadOnly {
		where += ` AND NOT is_read`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM report_notification `+where, recipientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+notificationCols+` FROM report_notification `+where+`
		ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, recipientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}

func (r *repoPG) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM report_notification WHERE recipient_id = $1 AND NOT is_read`, recipientID).Scan(&n)
	return n, err
}

func (r *repoPG) MarkRead(ctx context.Context, id uuid.UUID, recipientID string, at time.Time) (*Notification, error) {
	// COALESCE keeps the first read time when marking twice.
	n, err := scanNotification(r.conn(ctx).QueryRow(ctx, `
		UPDATE report_notification SET is_read = TRUE, read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND recipient_id = $2
		RETURNING `+notificationCols, id, recipientID, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("notification", id.String())
	}
	return n, err
}

func (r *repoPG) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE report_notification SET is_read = TRUE, read_at = $2
		WHERE recipient_id = $1 AND NOT is_read`, recipientID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
