// Package notification delivers in-app notifications about report workflow
// events to clinicians and serves their inbox.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hadadahealth/reports/internal/platform/metrics"
)

const defaultAttempts = 3

// Live event types pushed to connected inboxes.
const (
	LiveCreated = "notification.created"
	LiveRead    = "notification.read"
	LiveReadAll = "notification.read_all"
)

// Publisher pushes inbox changes to a recipient's live connections. Delivery
// is fire-and-forget; the stored row is the source of truth.
type Publisher interface {
	Publish(ctx context.Context, recipientID, eventType string, data any)
}

type Dispatcher struct {
	repo      Repository
	templates *TemplateEngine
	publisher Publisher
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	attempts  int
	backoff   time.Duration
}

func NewDispatcher(repo Repository, logger zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		repo:      repo,
		templates: NewTemplateEngine(),
		logger:    logger.With().Str("component", "notification").Logger(),
		metrics:   m,
		now:       time.Now,
		attempts:  defaultAttempts,
		backoff:   50 * time.Millisecond,
	}
}

// WithPublisher enables live inbox updates.
func (d *Dispatcher) WithPublisher(p Publisher) *Dispatcher {
	d.publisher = p
	return d
}

func (d *Dispatcher) publish(ctx context.Context, recipientID, eventType string, data any) {
	if d.publisher != nil {
		d.publisher.Publish(ctx, recipientID, eventType, data)
	}
}

// Templates exposes the engine so callers can override message bodies.
func (d *Dispatcher) Templates() *TemplateEngine {
	return d.templates
}

// Notify creates one notification per distinct recipient for event and
// returns the ids of rows actually inserted. Reminder and overdue events are
// deduplicated in storage, so repeated calls are safe. Failed creations are
// retried and then reported through the joined error; callers treat them as
// best-effort.
func (d *Dispatcher) Notify(ctx context.Context, reportID uuid.UUID, event Event, recipients []string, data map[string]string) ([]uuid.UUID, error) {
	typ, ok := event.notificationType()
	if !ok {
		d.logger.Info().
			Str("report_id", reportID.String()).
			Str("event", string(event)).
			Msg("workflow event has no notification type")
		return nil, nil
	}

	msg, err := d.templates.Render(typ, data)
	if err != nil {
		return nil, err
	}

	var (
		ids  []uuid.UUID
		errs []error
	)
	for _, rcpt := range uniqueRecipients(recipients) {
		n := &Notification{
			ReportID:    reportID,
			RecipientID: rcpt,
			Type:        typ,
			Message:     msg,
			DedupeKey:   d.dedupeKey(typ, reportID, rcpt),
		}
		created, err := d.create(ctx, n)
		switch {
		case err != nil:
			d.metrics.Notification(string(typ), "failed")
			d.logger.Error().Err(err).
				Str("report_id", reportID.String()).
				Str("recipient_id", rcpt).
				Str("type", string(typ)).
				Msg("notification delivery failed")
			errs = append(errs, fmt.Errorf("notify %s: %w", rcpt, err))
		case created:
			d.metrics.Notification(string(typ), "created")
			ids = append(ids, n.ID)
			d.publish(ctx, rcpt, LiveCreated, n)
		default:
			d.metrics.Notification(string(typ), "deduplicated")
		}
	}
	return ids, errors.Join(errs...)
}

func (d *Dispatcher) create(ctx context.Context, n *Notification) (bool, error) {
	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		created, err := d.repo.Create(ctx, n)
		if err == nil {
			return created, nil
		}
		lastErr = err
		if attempt == d.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(d.backoff * time.Duration(attempt)):
		}
	}
	return false, lastErr
}

func (d *Dispatcher) dedupeKey(typ Type, reportID uuid.UUID, recipient string) *string {
	var key string
	switch typ {
	case TypeReminder:
		key = fmt.Sprintf("reminder:%s:%s:%s", reportID, recipient, d.now().UTC().Format("2006-01-02"))
	case TypeOverdue:
		key = fmt.Sprintf("overdue:%s:%s", reportID, recipient)
	default:
		return nil
	}
	return &key
}

func uniqueRecipients(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, r := range in {
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// -- Inbox --

func (d *Dispatcher) List(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*Notification, int, int, error) {
	items, total, err := d.repo.ListByRecipient(ctx, recipientID, unreadOnly, limit, offset)
	if err != nil {
		return nil, 0, 0, err
	}
	unread, err := d.repo.UnreadCount(ctx, recipientID)
	if err != nil {
		return nil, 0, 0, err
	}
	return items, total, unread, nil
}

func (d *Dispatcher) MarkRead(ctx context.Context, id uuid.UUID, recipientID string) (*Notification, error) {
	n, err := d.repo.MarkRead(ctx, id, recipientID, d.now().UTC())
	if err != nil {
		return nil, err
	}
	d.publish(ctx, recipientID, LiveRead, n)
	return n, nil
}

func (d *Dispatcher) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	updated, err := d.repo.MarkAllRead(ctx, recipientID, d.now().UTC())
	if err != nil {
		return 0, err
	}
	if updated > 0 {
		d.publish(ctx, recipientID, LiveReadAll, map[string]int64{"updated": updated})
	}
	return updated, nil
}
