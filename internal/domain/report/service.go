// Package report owns clinical reports: creation, AI-assisted and human
// content edits recorded as immutable versions, and the
// pending/in_progress/completed workflow with a derived overdue view.
package report

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hadadahealth/reports/internal/domain/aicache"
	"github.com/hadadahealth/reports/internal/domain/clinical"
	"github.com/hadadahealth/reports/internal/platform/apperr"
	"github.com/hadadahealth/reports/internal/platform/metrics"
	"github.com/hadadahealth/reports/internal/platform/notification"
)

// DefaultReminderWindow is how far ahead of a deadline reminders start.
const DefaultReminderWindow = 48 * time.Hour

type PatientDirectory interface {
	PatientExists(ctx context.Context, patientID uuid.UUID) (bool, error)
}

// ContentSource produces narrative text for a cache slot.
type ContentSource interface {
	Content(ctx context.Context, slot aicache.Slot, actor string, reportID *uuid.UUID) (*aicache.Result, error)
}

type CacheSweeper interface {
	ExpireStale(ctx context.Context) (int64, error)
}

type Notifier interface {
	Notify(ctx context.Context, reportID uuid.UUID, event notification.Event, recipients []string, data map[string]string) ([]uuid.UUID, error)
}

type Deps struct {
	Repo      Repository
	Templates TemplateSource
	Tx        TxRunner
	Patients  PatientDirectory
	Content   ContentSource
	Cache     CacheSweeper
	Notifier  Notifier
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
	// ReminderWindow defaults to DefaultReminderWindow.
	ReminderWindow time.Duration
}

type Service struct {
	repo           Repository
	templates      TemplateSource
	tx             TxRunner
	patients       PatientDirectory
	content        ContentSource
	cache          CacheSweeper
	notifier       Notifier
	metrics        *metrics.Metrics
	logger         zerolog.Logger
	reminderWindow time.Duration
	now            func() time.Time
}

func NewService(d Deps) *Service {
	if d.ReminderWindow <= 0 {
		d.ReminderWindow = DefaultReminderWindow
	}
	return &Service{
		repo:           d.Repo,
		templates:      d.Templates,
		tx:             d.Tx,
		patients:       d.Patients,
		content:        d.Content,
		cache:          d.Cache,
		notifier:       d.Notifier,
		metrics:        d.Metrics,
		logger:         d.Logger.With().Str("component", "report").Logger(),
		reminderWindow: d.ReminderWindow,
		now:            time.Now,
	}
}

type CreateRequest struct {
	PatientID   uuid.UUID             `json:"patient_id"`
	ReportType  ReportType            `json:"report_type"`
	TemplateID  *uuid.UUID            `json:"template_id,omitempty"`
	Title       string                `json:"title"`
	AssignedTo  []string              `json:"assigned_to"`
	Disciplines []clinical.Discipline `json:"disciplines"`
	Priority    Priority              `json:"priority"`
	Deadline    *time.Time            `json:"deadline,omitempty"`
}

// Create stores a pending report and notifies each assignee. requestedBy may
// be empty for system-created reports.
func (s *Service) Create(ctx context.Context, req CreateRequest, requestedBy string) (*View, error) {
	if req.PatientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}
	if !req.ReportType.Valid() {
		return nil, apperr.Validation("unknown report type %q", req.ReportType)
	}
	if req.Priority == "" {
		req.Priority = PriorityMedium
	}
	if !req.Priority.Valid() {
		return nil, apperr.Validation("unknown priority %q", req.Priority)
	}
	assignees := normalizeAssignees(req.AssignedTo)
	if len(assignees) == 0 {
		return nil, apperr.Validation("at least one assigned clinician is required")
	}
	disciplines, err := normalizeDisciplines(req.Disciplines)
	if err != nil {
		return nil, err
	}

	ok, err := s.patients.PatientExists(ctx, req.PatientID)
	if err != nil {
		return nil, fmt.Errorf("check patient: %w", err)
	}
	if !ok {
		return nil, apperr.NotFound("patient", req.PatientID.String())
	}

	var tmpl *Template
	if req.TemplateID != nil {
		tmpl, err = s.templates.Get(ctx, *req.TemplateID)
	} else {
		tmpl, err = s.templates.DefaultFor(ctx, req.ReportType)
	}
	if err != nil {
		return nil, err
	}
	if tmpl.ReportType != req.ReportType {
		return nil, apperr.Validation("template %q is for %s reports", tmpl.Name, tmpl.ReportType)
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = tmpl.Name
	}
	rep := &Report{
		PatientID:     req.PatientID,
		ReportType:    req.ReportType,
		TemplateID:    tmpl.ID,
		Title:         title,
		Status:        StatusPending,
		AssignedTo:    assignees,
		Disciplines:   disciplines,
		Priority:      req.Priority,
		Content:       Content{},
		HumanSections: []string{},
	}
	if req.Deadline != nil {
		d := req.Deadline.UTC()
		rep.Deadline = &d
	}
	if requestedBy != "" {
		rep.RequestedBy = &requestedBy
	}
	if err := s.repo.Create(ctx, rep); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}

	s.notify(ctx, rep, notification.EventRequested, rep.AssignedTo, requestedBy)
	return newView(rep, s.now()), nil
}

// Get returns the report with its derived overdue state. The first read that
// finds it overdue notifies the assignees.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*View, error) {
	rep, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	s.observeOverdue(ctx, rep, now)
	return newView(rep, now), nil
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*View, int, error) {
	if err := f.Validate(); err != nil {
		return nil, 0, apperr.Validation("%s", err.Error())
	}
	now := s.now()
	items, total, err := s.repo.List(ctx, f, now.UTC(), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	views := make([]*View, len(items))
	for i, r := range items {
		views[i] = newView(r, now)
	}
	return views, total, nil
}

type EditRequest struct {
	Sections      map[string]string `json:"sections"`
	ChangeSummary string            `json:"change_summary"`
	Addendum      bool              `json:"addendum"`
}

// EditContent records a human edit. The first one starts a pending report.
func (s *Service) EditContent(ctx context.Context, id uuid.UUID, req EditRequest, actor string) (*Recorded, error) {
	if actor == "" || actor == SystemAuthor {
		return nil, apperr.Validation("edits require a named clinician")
	}
	return s.RecordVersion(ctx, Mutation{
		ReportID:      id,
		Sections:      req.Sections,
		Author:        actor,
		ChangeSummary: req.ChangeSummary,
		Addendum:      req.Addendum,
	})
}

type GenerateRequest struct {
	Section     string               `json:"section"`
	ContentType clinical.ContentType `json:"content_type"`
	Discipline  *clinical.Discipline `json:"discipline,omitempty"`
}

type GenerateResult struct {
	*Recorded
	CacheHit bool `json:"cache_hit"`
}

// Generate fills one section from the content cache and records it as a
// system-authored AI version. Nothing is recorded when generation fails.
func (s *Service) Generate(ctx context.Context, id uuid.UUID, req GenerateRequest, actor string) (*GenerateResult, error) {
	if req.Section == "" {
		return nil, apperr.Validation("section is required")
	}
	rep, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// Checked again under the row lock; this avoids a wasted generator call.
	if rep.Status == StatusCompleted {
		return nil, apperr.InvalidTransition(string(rep.Status), "generate", "report is completed")
	}
	if req.Discipline != nil && !slices.Contains(rep.Disciplines, *req.Discipline) {
		return nil, apperr.Validation("discipline %q is not part of this report", *req.Discipline)
	}

	res, err := s.content.Content(ctx, aicache.Slot{
		PatientID:   rep.PatientID,
		ContentType: req.ContentType,
		Discipline:  req.Discipline,
	}, actor, &rep.ID)
	if err != nil {
		return nil, err
	}

	rec, err := s.RecordVersion(ctx, Mutation{
		ReportID:      id,
		Sections:      map[string]string{req.Section: res.Text},
		Author:        SystemAuthor,
		IsAIGenerated: true,
		ChangeSummary: fmt.Sprintf("generated %s for %s", req.ContentType, req.Section),
	})
	if err != nil {
		return nil, err
	}
	return &GenerateResult{Recorded: rec, CacheHit: res.CacheHit}, nil
}

type SweepResult struct {
	OverdueNotified     int   `json:"overdue_notifications"`
	RemindersSent       int   `json:"reminders"`
	CacheEntriesExpired int64 `json:"cache_entries_expired"`
}

// Sweep emits overdue notifications and deadline reminders for open reports
// and expires stale cache entries. Running it repeatedly is safe.
func (s *Service) Sweep(ctx context.Context) (*SweepResult, error) {
	now := s.now()
	due, err := s.repo.ListOpenDueBefore(ctx, now.Add(s.reminderWindow).UTC())
	if err != nil {
		return nil, fmt.Errorf("list due reports: %w", err)
	}

	res := &SweepResult{}
	for _, rep := range due {
		if rep.IsOverdue(now) {
			res.OverdueNotified += s.observeOverdue(ctx, rep, now)
			continue
		}
		res.RemindersSent += s.notify(ctx, rep, notification.EventReminder, rep.AssignedTo, SystemAuthor)
	}

	if s.cache != nil {
		n, err := s.cache.ExpireStale(ctx)
		if err != nil {
			return res, fmt.Errorf("expire cache: %w", err)
		}
		res.CacheEntriesExpired = n
	}

	s.logger.Info().
		Int("due", len(due)).
		Int("overdue_notifications", res.OverdueNotified).
		Int("reminders", res.RemindersSent).
		Int64("cache_entries_expired", res.CacheEntriesExpired).
		Msg("sweep finished")
	return res, nil
}

func normalizeAssignees(in []string) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		a = strings.TrimSpace(a)
		if a != "" && !slices.Contains(out, a) {
			out = append(out, a)
		}
	}
	slices.Sort(out)
	return out
}

func normalizeDisciplines(in []clinical.Discipline) ([]clinical.Discipline, error) {
	if len(in) == 0 {
		return nil, apperr.Validation("at least one discipline is required")
	}
	out := make([]clinical.Discipline, 0, len(in))
	for _, d := range in {
		if !d.Valid() {
			return nil, apperr.Validation("unknown discipline %q", d)
		}
		if !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	slices.Sort(out)
	return out, nil
}
