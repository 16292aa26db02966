package notification

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hadadahealth/reports/internal/platform/apperr"
)

// -- Mock Repository --

type mockRepo struct {
	mu       sync.Mutex
	items    map[uuid.UUID]*Notification
	keys     map[string]uuid.UUID
	failures int
	calls    int
	clock    time.Time
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		items: make(map[uuid.UUID]*Notification),
		keys:  make(map[string]uuid.UUID),
		clock: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (m *mockRepo) Create(_ context.Context, n *Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failures > 0 {
		m.failures--
		return false, errors.New("connection reset")
	}
	if n.DedupeKey != nil {
		if _, ok := m.keys[*n.DedupeKey]; ok {
			return false, nil
		}
	}
	n.ID = uuid.New()
	m.clock = m.clock.Add(time.Second)
	n.CreatedAt = m.clock
	cp := *n
	m.items[n.ID] = &cp
	if n.DedupeKey != nil {
		m.keys[*n.DedupeKey] = n.ID
	}
	return true, nil
}

func (m *mockRepo) ListByRecipient(_ context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Notification
	for _, n := range m.items {
		if n.RecipientID != recipientID || (unreadOnly && n.Read) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *mockRepo) UnreadCount(_ context.Context, recipientID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := 0
	for _, n := range m.items {
		if n.RecipientID == recipientID && !n.Read {
			c++
		}
	}
	return c, nil
}

func (m *mockRepo) MarkRead(_ context.Context, id uuid.UUID, recipientID string, at time.Time) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok || n.RecipientID != recipientID {
		return nil, apperr.NotFound("notification", id.String())
	}
	if !n.Read {
		n.Read = true
		n.ReadAt = &at
	}
	return n, nil
}

func (m *mockRepo) MarkAllRead(_ context.Context, recipientID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c int64
	for _, n := range m.items {
		if n.RecipientID == recipientID && !n.Read {
			n.Read = true
			n.ReadAt = &at
			c++
		}
	}
	return c, nil
}

func newTestDispatcher() (*Dispatcher, *mockRepo) {
	repo := newMockRepo()
	d := NewDispatcher(repo, zerolog.Nop(), nil)
	d.backoff = time.Millisecond
	d.now = func() time.Time { return time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC) }
	return d, repo
}

var reportData = map[string]string{
	"report_type": "discharge",
	"title":       "Discharge summary",
	"patient":     "P-100",
	"deadline":    "2026-03-12",
	"actor":       "dr-b",
}

func TestNotify_Request_DeduplicatesRecipients(t *testing.T) {
	d, repo := newTestDispatcher()
	reportID := uuid.New()

	ids, err := d.Notify(context.Background(), reportID, EventRequested, []string{"dr-a", "dr-b", "dr-a", ""}, reportData)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(ids))
	}
	for _, n := range repo.items {
		if n.Type != TypeRequest {
			t.Errorf("expected request type, got %s", n.Type)
		}
		if n.DedupeKey != nil {
			t.Error("request notifications should not carry a dedupe key")
		}
		if !strings.Contains(n.Message, `"Discharge summary"`) || strings.Contains(n.Message, "{{") {
			t.Errorf("message not rendered: %q", n.Message)
		}
	}
}

func TestNotify_Overdue_IsIdempotent(t *testing.T) {
	d, repo := newTestDispatcher()
	reportID := uuid.New()
	ctx := context.Background()

	first, err := d.Notify(ctx, reportID, EventOverdue, []string{"dr-a", "dr-b"}, reportData)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := d.Notify(ctx, reportID, EventOverdue, []string{"dr-a", "dr-b"}, reportData)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != 2 || len(second) != 0 {
		t.Errorf("expected 2 then 0 new notifications, got %d then %d", len(first), len(second))
	}
	if len(repo.items) != 2 {
		t.Errorf("expected exactly one overdue notification per recipient, got %d", len(repo.items))
	}
}

func TestNotify_Reminder_OncePerDay(t *testing.T) {
	d, repo := newTestDispatcher()
	reportID := uuid.New()
	ctx := context.Background()

	d.Notify(ctx, reportID, EventReminder, []string{"dr-a"}, reportData)
	d.Notify(ctx, reportID, EventReminder, []string{"dr-a"}, reportData)
	if len(repo.items) != 1 {
		t.Fatalf("expected one reminder on the same day, got %d", len(repo.items))
	}

	d.now = func() time.Time { return time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC) }
	d.Notify(ctx, reportID, EventReminder, []string{"dr-a"}, reportData)
	if len(repo.items) != 2 {
		t.Errorf("expected a second reminder the next day, got %d", len(repo.items))
	}
}

func TestNotify_Started_ProducesNothing(t *testing.T) {
	d, repo := newTestDispatcher()
	ids, err := d.Notify(context.Background(), uuid.New(), EventStarted, []string{"dr-a"}, reportData)
	if err != nil || ids != nil {
		t.Errorf("expected no-op, got %v, %v", ids, err)
	}
	if repo.calls != 0 {
		t.Errorf("expected no repository calls, got %d", repo.calls)
	}
}

func TestNotify_RetriesTransientFailures(t *testing.T) {
	d, repo := newTestDispatcher()
	repo.failures = 2

	ids, err := d.Notify(context.Background(), uuid.New(), EventCompleted, []string{"dr-req"}, reportData)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if len(ids) != 1 || repo.calls != 3 {
		t.Errorf("expected 1 notification after 3 calls, got %d after %d", len(ids), repo.calls)
	}
}

func TestNotify_GivesUpAfterAttempts(t *testing.T) {
	d, repo := newTestDispatcher()
	repo.failures = 10

	ids, err := d.Notify(context.Background(), uuid.New(), EventCompleted, []string{"dr-req"}, reportData)
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if len(ids) != 0 || repo.calls != defaultAttempts {
		t.Errorf("expected %d calls and no ids, got %d calls, %d ids", defaultAttempts, repo.calls, len(ids))
	}
}

func TestInbox_ListAndMarkRead(t *testing.T) {
	d, _ := newTestDispatcher()
	ctx := context.Background()
	d.Notify(ctx, uuid.New(), EventRequested, []string{"dr-a"}, reportData)
	ids, _ := d.Notify(ctx, uuid.New(), EventRequested, []string{"dr-a"}, reportData)
	d.Notify(ctx, uuid.New(), EventRequested, []string{"dr-b"}, reportData)

	items, total, unread, err := d.List(ctx, "dr-a", false, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || unread != 2 {
		t.Fatalf("expected 2 total / 2 unread, got %d / %d", total, unread)
	}
	if items[0].ID != ids[0] {
		t.Error("expected newest notification first")
	}

	n, err := d.MarkRead(ctx, ids[0], "dr-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !n.Read || n.ReadAt == nil {
		t.Error("expected read flag and read_at set together")
	}

	if _, err := d.MarkRead(ctx, ids[0], "dr-b"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found for another recipient, got %v", err)
	}

	updated, _ := d.MarkAllRead(ctx, "dr-a")
	if updated != 1 {
		t.Errorf("expected 1 remaining unread marked, got %d", updated)
	}
	_, _, unread, _ = d.List(ctx, "dr-a", false, 10, 0)
	if unread != 0 {
		t.Errorf("expected no unread, got %d", unread)
	}
}

func TestTemplateEngine_Render(t *testing.T) {
	e := NewTemplateEngine()
	e.Register(TypeOverdue, "{{title}} late by {{days}}")
	got, err := e.Render(TypeOverdue, map[string]string{"title": "Progress"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Progress late by {{days}}" {
		t.Errorf("got %q", got)
	}
	if _, err := e.Render(Type("fax"), nil); err == nil {
		t.Error("expected error for unknown type")
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, recipientID, eventType string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recipientID+" "+eventType)
}

func TestDispatcher_PublishesLiveEvents(t *testing.T) {
	d, _ := newTestDispatcher()
	pub := &recordingPublisher{}
	d.WithPublisher(pub)
	ctx := context.Background()
	reportID := uuid.New()

	ids, _ := d.Notify(ctx, reportID, EventOverdue, []string{"dr-a"}, reportData)
	d.Notify(ctx, reportID, EventOverdue, []string{"dr-a"}, reportData)
	if _, err := d.MarkRead(ctx, ids[0], "dr-a"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	d.MarkAllRead(ctx, "dr-a")

	want := []string{"dr-a " + LiveCreated, "dr-a " + LiveRead}
	if strings.Join(pub.events, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, pub.events)
	}
}

func TestDispatcher_TemplateOverride(t *testing.T) {
	d, repo := newTestDispatcher()
	d.Templates().Register(TypeCompletion, "{{title}} signed off by {{actor}}")

	if _, err := d.Notify(context.Background(), uuid.New(), EventCompleted, []string{"dr-lead"}, reportData); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, n := range repo.items {
		if n.Message != "Discharge summary signed off by dr-b" {
			t.Errorf("got %q", n.Message)
		}
	}
}
