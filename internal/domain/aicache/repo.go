package aicache

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Current returns the valid entry for slot, or nil when there is none.
	// Expiry is not checked here.
	Current(ctx context.Context, slot Slot) (*Entry, error)
	// Touch increments the usage counter and stamps last_used_at in one
	// statement, returning the updated entry. It returns nil when the entry
	// was invalidated or expired in the meantime.
	Touch(ctx context.Context, id uuid.UUID, at time.Time) (*Entry, error)
	InvalidateSlot(ctx context.Context, slot Slot) (int64, error)
	InvalidatePatient(ctx context.Context, patientID uuid.UUID) (int64, error)
	// Replace invalidates whatever is current for the entry's slot and
	// inserts e as the new current entry, atomically.
	Replace(ctx context.Context, e *Entry) error
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
	Stats(ctx context.Context, now time.Time) (*Stats, error)
}
