package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts n and reports false, without error, when a row with the
	// same dedupe key already exists.
	Create(ctx context.Context, n *Notification) (bool, error)
	ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*Notification, int, error)
	UnreadCount(ctx context.Context, recipientID string) (int, error)
	// MarkRead returns the updated row or apperr.ErrNotFound when the id does
	// not belong to the recipient.
	MarkRead(ctx context.Context, id uuid.UUID, recipientID string, at time.Time) (*Notification, error)
	MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error)
}
