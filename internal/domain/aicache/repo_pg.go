package aicache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hadadahealth/reports/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
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

const entryCols = `id, patient_id, content_type, discipline, text, fingerprint, generated_at,
	expires_at, usage_count, last_used_at, is_valid, COALESCE(model,''), tokens_used`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.PatientID, &e.ContentType, &e.Discipline, &e.Text, &e.Fingerprint,
		&e.GeneratedAt, &e.ExpiresAt, &e.UsageCount, &e.LastUsedAt, &e.Valid, &e.Model, &e.TokensUsed)
	return &e, err
}

func (r *repoPG) Current(ctx context.Context, slot Slot) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM ai_content_cache
		WHERE patient_id = $1 AND content_type = $2 AND discipline IS NOT DISTINCT FROM $3 AND is_valid`,
		slot.PatientID, slot.ContentType, slot.Discipline))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *repoPG) Touch(ctx context.Context, id uuid.UUID, at time.Time) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `UPDATE ai_content_cache
		SET usage_count = usage_count + 1, last_used_at = $2
		WHERE id = $1 AND is_valid AND expires_at > $2 RETURNING `+entryCols, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *repoPG) InvalidateSlot(ctx context.Context, slot Slot) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE ai_content_cache SET is_valid = FALSE
		WHERE patient_id = $1 AND content_type = $2 AND discipline IS NOT DISTINCT FROM $3 AND is_valid`,
		slot.PatientID, slot.ContentType, slot.Discipline)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) InvalidatePatient(ctx context.Context, patientID uuid.UUID) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE ai_content_cache SET is_valid = FALSE WHERE patient_id = $1 AND is_valid`, patientID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) Replace(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.Valid = true
	return pgx.BeginFunc(ctx, r.conn(ctx), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE ai_content_cache SET is_valid = FALSE
			WHERE patient_id = $1 AND content_type = $2 AND discipline IS NOT DISTINCT FROM $3 AND is_valid`,
			e.PatientID, e.ContentType, e.Discipline); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO ai_content_cache (
				id, patient_id, content_type, discipline, text, fingerprint, generated_at,
				expires_at, usage_count, is_valid, model, tokens_used
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0,TRUE,NULLIF($9,''),$10)`,
			e.ID, e.PatientID, e.ContentType, e.Discipline, e.Text, e.Fingerprint, e.GeneratedAt,
			e.ExpiresAt, e.Model, e.TokensUsed)
		return err
	})
}

func (r *repoPG) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE ai_content_cache SET is_valid = FALSE WHERE is_valid AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	var s Stats
	err := r.conn(ctx).QueryRow(ctx, `SELECT
			COUNT(*) FILTER (WHERE is_valid AND expires_at > $1),
			COUNT(*) FILTER (WHERE is_valid AND expires_at <= $1),
			COUNT(*) FILTER (WHERE NOT is_valid),
			COALESCE(SUM(usage_count), 0)
		FROM ai_content_cache`, now).Scan(&s.Valid, &s.Expired, &s.Invalid, &s.TotalUsage)
	return &s, err
}
