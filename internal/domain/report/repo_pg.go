package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hadadahealth/reports/internal/domain/clinical"
	"github.com/hadadahealth/reports/internal/platform/apperr"
	"github.com/hadadahealth/reports/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// -- Report Repository --

type reportRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &reportRepoPG{pool: pool}
}

func (r *reportRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const reportCols = `id, patient_id, report_type, template_id, title, status, assigned_to, disciplines,
	priority, deadline, requested_by, content, human_sections, current_version,
	created_at, updated_at, completed_at`

func scanReport(row pgx.Row) (*Report, error) {
	var (
		r           Report
		disciplines []string
	)
	err := row.Scan(&r.ID, &r.PatientID, &r.ReportType, &r.TemplateID, &r.Title, &r.Status,
		&r.AssignedTo, &disciplines, &r.Priority, &r.Deadline, &r.RequestedBy, &r.Content,
		&r.HumanSections, &r.CurrentVersion, &r.CreatedAt, &r.UpdatedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	r.Disciplines = make([]clinical.Discipline, len(disciplines))
	for i, d := range disciplines {
		r.Disciplines[i] = clinical.Discipline(d)
	}
	if r.Content == nil {
		r.Content = Content{}
	}
	return &r, nil
}

func disciplineStrings(ds []clinical.Discipline) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = string(d)
	}
	return out
}

func (r *reportRepoPG) Create(ctx context.Context, rep *Report) error {
	rep.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO report (id, patient_id, report_type, template_id, title, status, assigned_to,
			disciplines, priority, deadline, requested_by, content, human_sections, current_version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at`,
		rep.ID, rep.PatientID, rep.ReportType, rep.TemplateID, rep.Title, rep.Status, rep.AssignedTo,
		disciplineStrings(rep.Disciplines), rep.Priority, rep.Deadline, rep.RequestedBy, rep.Content,
		rep.HumanSections, rep.CurrentVersion,
	).Scan(&rep.CreatedAt, &rep.UpdatedAt)
}

func (r *reportRepoPG) get(ctx context.Context, id uuid.UUID, suffix string) (*Report, error) {
	rep, err := scanReport(r.conn(ctx).QueryRow(ctx, `SELECT `+reportCols+` FROM report WHERE id = $1`+suffix, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("report", id.String())
	}
	return rep, err
}

func (r *reportRepoPG) Get(ctx context.Context, id uuid.UUID) (*Report, error) {
	return r.get(ctx, id, "")
}

func (r *reportRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Report, error) {
	if db.TxFromContext(ctx) == nil {
		return nil, fmt.Errorf("GetForUpdate requires a transaction")
	}
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *reportRepoPG) Update(ctx context.Context, rep *Report) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE report SET status = $2, content = $3, human_sections = $4, current_version = $5,
			updated_at = $6, completed_at = $7
		WHERE id = $1`,
		rep.ID, rep.Status, rep.Content, rep.HumanSections, rep.CurrentVersion, rep.UpdatedAt, rep.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("report", rep.ID.String())
	}
	return nil
}

func (r *reportRepoPG) List(ctx context.Context, f Filter, now time.Time, limit, offset int) ([]*Report, int, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.PatientID != nil {
		where = append(where, "patient_id = "+arg(*f.PatientID))
	}
	if f.Assignee != "" {
		where = append(where, arg(f.Assignee)+" = ANY(assigned_to)")
	}
	switch f.Status {
	case StatusOverdue:
		where = append(where, "status IN ('pending','in_progress') AND deadline IS NOT NULL AND deadline < "+arg(now))
	case StatusPending, StatusInProgress:
		where = append(where, "status = "+arg(f.Status)+" AND (deadline IS NULL OR deadline >= "+arg(now)+")")
	case StatusCompleted:
		where = append(where, "status = "+arg(f.Status))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM report`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := `SELECT ` + reportCols + ` FROM report` + clause +
		` ORDER BY created_at DESC, id LIMIT ` + arg(limit) + ` OFFSET ` + arg(offset)
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rep)
	}
	return items, total, rows.Err()
}

func (r *reportRepoPG) ListOpenDueBefore(ctx context.Context, t time.Time) ([]*Report, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+reportCols+` FROM report
		WHERE status IN ('pending','in_progress') AND deadline IS NOT NULL AND deadline < $1
		ORDER BY deadline, id`, t)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rep)
	}
	return items, rows.Err()
}

// -- Versions --

const versionCols = `id, report_id, version_number, content, ai_sections, author, created_at,
	COALESCE(change_summary,''), is_ai_generated`

func scanVersion(row pgx.Row) (*ContentVersion, error) {
	var v ContentVersion
	err := row.Scan(&v.ID, &v.ReportID, &v.VersionNumber, &v.Content, &v.AISections, &v.Author,
		&v.CreatedAt, &v.ChangeSummary, &v.IsAIGenerated)
	return &v, err
}

func (r *reportRepoPG) MaxVersion(ctx context.Context, reportID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(MAX(version_number), 0) FROM report_content_version WHERE report_id = $1`, reportID).Scan(&n)
	return n, err
}

func (r *reportRepoPG) InsertVersion(ctx context.Context, v *ContentVersion) error {
	v.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO report_content_version (id, report_id, version_number, content, ai_sections,
			author, change_summary, is_ai_generated, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),$8,$9)
		RETURNING created_at`,
		v.ID, v.ReportID, v.VersionNumber, v.Content, v.AISections, v.Author, v.ChangeSummary,
		v.IsAIGenerated, v.CreatedAt,
	).Scan(&v.CreatedAt)
}

func (r *reportRepoPG) ListVersions(ctx context.Context, reportID uuid.UUID) ([]*ContentVersion, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+versionCols+` FROM report_content_version
		WHERE report_id = $1 ORDER BY version_number`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*ContentVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

func (r *reportRepoPG) GetVersion(ctx context.Context, reportID uuid.UUID, n int) (*ContentVersion, error) {
	v, err := scanVersion(r.conn(ctx).QueryRow(ctx, `SELECT `+versionCols+` FROM report_content_version
		WHERE report_id = $1 AND version_number = $2`, reportID, n))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("report version", fmt.Sprintf("%s/%d", reportID, n))
	}
	return v, err
}

// -- Templates --

type templateSourcePG struct{ pool *pgxpool.Pool }

func NewTemplateSourcePG(pool *pgxpool.Pool) TemplateSource {
	return &templateSourcePG{pool: pool}
}

func (s *templateSourcePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

const templateCols = `id, report_type, name, mandatory_sections, optional_sections`

func scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	err := row.Scan(&t.ID, &t.ReportType, &t.Name, &t.MandatorySections, &t.OptionalSections)
	return &t, err
}

func (s *templateSourcePG) Get(ctx context.Context, id uuid.UUID) (*Template, error) {
	t, err := scanTemplate(s.conn(ctx).QueryRow(ctx, `SELECT `+templateCols+` FROM report_template WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("report template", id.String())
	}
	return t, err
}

func (s *templateSourcePG) DefaultFor(ctx context.Context, rt ReportType) (*Template, error) {
	t, err := scanTemplate(s.conn(ctx).QueryRow(ctx, `SELECT `+templateCols+` FROM report_template
		WHERE report_type = $1 AND is_default ORDER BY created_at LIMIT 1`, rt))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("report template", string(rt))
	}
	return t, err
}
