package report

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Report) error
	Get(ctx context.Context, id uuid.UUID) (*Report, error)
	// GetForUpdate locks the report row until the surrounding transaction
	// ends. It must run inside TxRunner.InTx.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Report, error)
	Update(ctx context.Context, r *Report) error
	List(ctx context.Context, f Filter, now time.Time, limit, offset int) ([]*Report, int, error)
	// ListOpenDueBefore returns pending and in-progress reports whose deadline
	// is before t.
	ListOpenDueBefore(ctx context.Context, t time.Time) ([]*Report, error)

	MaxVersion(ctx context.Context, reportID uuid.UUID) (int, error)
	InsertVersion(ctx context.Context, v *ContentVersion) error
	ListVersions(ctx context.Context, reportID uuid.UUID) ([]*ContentVersion, error)
	GetVersion(ctx context.Context, reportID uuid.UUID, n int) (*ContentVersion, error)
}

type TemplateSource interface {
	Get(ctx context.Context, id uuid.UUID) (*Template, error)
	// DefaultFor returns the practice's default template for a report type.
	DefaultFor(ctx context.Context, t ReportType) (*Template, error)
}

// TxRunner runs fn atomically; db.TxRunner is the production implementation.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
