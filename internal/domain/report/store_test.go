package report

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hadadahealth/reports/internal/platform/apperr"
	"github.com/hadadahealth/reports/internal/platform/notification"
)

// -- In-memory Repository --

// memStore keeps committed state behind mu. memTx serializes transactions
// and restores a snapshot when fn fails, standing in for row locks and
// rollback.
type memStore struct {
	mu       sync.Mutex
	reports  map[uuid.UUID]*Report
	versions map[uuid.UUID][]*ContentVersion

	failInsertVersion error
}

func newMemStore() *memStore {
	return &memStore{
		reports:  make(map[uuid.UUID]*Report),
		versions: make(map[uuid.UUID][]*ContentVersion),
	}
}

func cloneReport(r *Report) *Report {
	cp := *r
	cp.Content = r.Content.Clone()
	cp.AssignedTo = slices.Clone(r.AssignedTo)
	cp.Disciplines = slices.Clone(r.Disciplines)
	cp.HumanSections = slices.Clone(r.HumanSections)
	return &cp
}

func cloneVersion(v *ContentVersion) *ContentVersion {
	cp := *v
	cp.Content = v.Content.Clone()
	cp.AISections = slices.Clone(v.AISections)
	return &cp
}

type memSnapshot struct {
	reports  map[uuid.UUID]*Report
	versions map[uuid.UUID][]*ContentVersion
}

func (m *memStore) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := memSnapshot{reports: make(map[uuid.UUID]*Report), versions: make(map[uuid.UUID][]*ContentVersion)}
	for id, r := range m.reports {
		s.reports[id] = cloneReport(r)
	}
	for id, vs := range m.versions {
		for _, v := range vs {
			s.versions[id] = append(s.versions[id], cloneVersion(v))
		}
	}
	return s
}

func (m *memStore) restore(s memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = s.reports
	m.versions = s.versions
}

func (m *memStore) Create(_ context.Context, r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	m.reports[r.ID] = cloneReport(r)
	return nil
}

func (m *memStore) Get(_ context.Context, id uuid.UUID) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, apperr.NotFound("report", id.String())
	}
	return cloneReport(r), nil
}

func (m *memStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*Report, error) {
	return m.Get(ctx, id)
}

func (m *memStore) Update(_ context.Context, r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[r.ID]; !ok {
		return apperr.NotFound("report", r.ID.String())
	}
	m.reports[r.ID] = cloneReport(r)
	return nil
}

func (m *memStore) List(_ context.Context, f Filter, now time.Time, limit, offset int) ([]*Report, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Report
	for _, r := range m.reports {
		if f.PatientID != nil && r.PatientID != *f.PatientID {
			continue
		}
		if f.Assignee != "" && !slices.Contains(r.AssignedTo, f.Assignee) {
			continue
		}
		if f.Status != "" && r.EffectiveStatus(now) != f.Status {
			continue
		}
		out = append(out, cloneReport(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	return out[offset:min(offset+limit, total)], total, nil
}

func (m *memStore) ListOpenDueBefore(_ context.Context, t time.Time) ([]*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Report
	for _, r := range m.reports {
		if r.Status.open() && r.Deadline != nil && r.Deadline.Before(t) {
			out = append(out, cloneReport(r))
		}
	}
	return out, nil
}

func (m *memStore) MaxVersion(_ context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	head := 0
	for _, v := range m.versions[id] {
		if v.VersionNumber > head {
			head = v.VersionNumber
		}
	}
	return head, nil
}

func (m *memStore) InsertVersion(_ context.Context, v *ContentVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsertVersion != nil {
		return m.failInsertVersion
	}
	for _, existing := range m.versions[v.ReportID] {
		if existing.VersionNumber == v.VersionNumber {
			return errors.New("duplicate version number")
		}
	}
	v.ID = uuid.New()
	m.versions[v.ReportID] = append(m.versions[v.ReportID], cloneVersion(v))
	return nil
}

func (m *memStore) ListVersions(_ context.Context, id uuid.UUID) ([]*ContentVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ContentVersion
	for _, v := range m.versions[id] {
		out = append(out, cloneVersion(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out, nil
}

func (m *memStore) GetVersion(_ context.Context, id uuid.UUID, n int) (*ContentVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions[id] {
		if v.VersionNumber == n {
			return cloneVersion(v), nil
		}
	}
	return nil, apperr.NotFound("report version", id.String())
}

type memTx struct {
	mu    sync.Mutex
	store *memStore
}

func (t *memTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.store.snapshot()
	if err := fn(ctx); err != nil {
		t.store.restore(snap)
		return err
	}
	return nil
}

// -- Templates and patients --

type memTemplates struct {
	items map[uuid.UUID]*Template
}

func (m *memTemplates) Get(_ context.Context, id uuid.UUID) (*Template, error) {
	t, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("report template", id.String())
	}
	return t, nil
}

func (m *memTemplates) DefaultFor(_ context.Context, rt ReportType) (*Template, error) {
	for _, t := range m.items {
		if t.ReportType == rt {
			return t, nil
		}
	}
	return nil, apperr.NotFound("report template", string(rt))
}

type memPatients map[uuid.UUID]bool

func (m memPatients) PatientExists(_ context.Context, id uuid.UUID) (bool, error) {
	return m[id], nil
}

// -- Notifications --

// memNotifications backs a real notification.Dispatcher.
type memNotifications struct {
	mu    sync.Mutex
	items []*notification.Notification
	keys  map[string]bool
}

func newMemNotifications() *memNotifications {
	return &memNotifications{keys: make(map[string]bool)}
}

func (m *memNotifications) Create(_ context.Context, n *notification.Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.DedupeKey != nil {
		if m.keys[*n.DedupeKey] {
			return false, nil
		}
		m.keys[*n.DedupeKey] = true
	}
	n.ID = uuid.New()
	n.CreatedAt = time.Now()
	cp := *n
	m.items = append(m.items, &cp)
	return true, nil
}

func (m *memNotifications) ListByRecipient(context.Context, string, bool, int, int) ([]*notification.Notification, int, error) {
	return nil, 0, nil
}

func (m *memNotifications) UnreadCount(context.Context, string) (int, error) { return 0, nil }

func (m *memNotifications) MarkRead(context.Context, uuid.UUID, string, time.Time) (*notification.Notification, error) {
	return nil, nil
}

func (m *memNotifications) MarkAllRead(context.Context, string, time.Time) (int64, error) {
	return 0, nil
}

func (m *memNotifications) count(t notification.Type, reportID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := 0
	for _, n := range m.items {
		if n.Type == t && n.ReportID == reportID {
			c++
		}
	}
	return c
}

func (m *memNotifications) recipients(t notification.Type, reportID uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, n := range m.items {
		if n.Type == t && n.ReportID == reportID {
			out = append(out, n.RecipientID)
		}
	}
	sort.Strings(out)
	return out
}
