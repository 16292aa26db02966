package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/hadadahealth/reports/internal/platform/apperr"
)

// Mutation is one accepted change to a report's content.
type Mutation struct {
	ReportID uuid.UUID
	// Sections holds the new text of each changed section. When Replace is
	// set it is the complete content and absent sections are dropped.
	Sections      map[string]string
	Replace       bool
	Author        string
	IsAIGenerated bool
	ChangeSummary string
	// Addendum allows a human correction on a completed report without
	// reopening it.
	Addendum bool
}

// Recorded describes the outcome of RecordVersion.
type Recorded struct {
	Report  *Report         `json:"report"`
	Version *ContentVersion `json:"version"`
	// From is the status before the mutation. It differs from Report.Status
	// when the mutation implicitly started the report.
	From Status `json:"previous_status"`
}

// RecordVersion applies m to the report and appends the matching version in
// one transaction. The report row is locked for the duration, so version
// numbers are contiguous per report. Storage conflicts are retried by the
// TxRunner before surfacing apperr.ErrConflictRetryExceeded.
func (s *Service) RecordVersion(ctx context.Context, m Mutation) (*Recorded, error) {
	if len(m.Sections) == 0 && !m.Replace {
		return nil, apperr.Validation("at least one section is required")
	}
	if m.Author == "" {
		return nil, apperr.Validation("author is required")
	}
	if m.IsAIGenerated && m.Addendum {
		return nil, apperr.Validation("an addendum must be authored by a person")
	}

	var out *Recorded
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		rep, err := s.repo.GetForUpdate(ctx, m.ReportID)
		if err != nil {
			return err
		}
		from := rep.Status

		if rep.Status == StatusCompleted {
			switch {
			case m.IsAIGenerated:
				return apperr.InvalidTransition(string(rep.Status), "generate", "report is completed")
			case !m.Addendum:
				return apperr.InvalidTransition(string(rep.Status), "edit", "report is completed; submit the change as an addendum")
			}
		}

		tmpl, err := s.templates.Get(ctx, rep.TemplateID)
		if err != nil {
			return err
		}
		for name := range m.Sections {
			if !tmpl.Allows(name) {
				return apperr.Validation("section %q is not part of template %q", name, tmpl.Name)
			}
		}

		now := s.now().UTC()
		s.applyMutation(rep, m, now)

		// The first human-authored version starts the report.
		if !m.IsAIGenerated && rep.Status == StatusPending {
			rep.Status = StatusInProgress
		}

		prev, err := s.repo.MaxVersion(ctx, rep.ID)
		if err != nil {
			return fmt.Errorf("read version head: %w", err)
		}
		rep.CurrentVersion = prev + 1
		rep.UpdatedAt = now

		if err := s.repo.Update(ctx, rep); err != nil {
			return fmt.Errorf("update report content: %w", err)
		}

		v := &ContentVersion{
			ReportID:      rep.ID,
			VersionNumber: rep.CurrentVersion,
			Content:       rep.Content.Clone(),
			AISections:    nonNil(rep.Content.AISections()),
			Author:        m.Author,
			CreatedAt:     now,
			ChangeSummary: m.ChangeSummary,
			IsAIGenerated: m.IsAIGenerated && rep.Content.machineOnly(),
		}
		if err := s.repo.InsertVersion(ctx, v); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
		out = &Recorded{Report: rep, Version: v, From: from}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrConflictRetryExceeded) {
			s.metrics.VersionConflict()
		}
		return nil, err
	}

	prov := ProvenanceHuman
	if out.Version.IsAIGenerated {
		prov = ProvenanceAI
	}
	s.metrics.VersionRecorded(string(prov))
	if out.From != out.Report.Status {
		s.metrics.Transition(string(out.From), string(out.Report.Status))
		s.afterTransition(ctx, out.Report, m.Author)
	}
	return out, nil
}

// applyMutation merges m into rep.Content. Human sections stay human even
// when regenerated.
func (s *Service) applyMutation(rep *Report, m Mutation, now time.Time) {
	next := rep.Content.Clone()
	if m.Replace {
		next = make(Content, len(m.Sections))
	}
	changed := make([]string, 0, len(m.Sections))
	for name, text := range m.Sections {
		prov := ProvenanceAI
		if !m.IsAIGenerated || rep.humanEdited(name) {
			prov = ProvenanceHuman
		}
		next[name] = Section{Text: text, Provenance: prov, UpdatedBy: m.Author, UpdatedAt: now}
		changed = append(changed, name)
	}
	if !m.IsAIGenerated {
		rep.markHuman(changed...)
	}
	rep.Content = next
	if rep.HumanSections == nil {
		rep.HumanSections = []string{}
	}
}

func (s *Service) History(ctx context.Context, reportID uuid.UUID) ([]*ContentVersion, error) {
	if _, err := s.repo.Get(ctx, reportID); err != nil {
		return nil, err
	}
	return s.repo.ListVersions(ctx, reportID)
}

func (s *Service) Version(ctx context.Context, reportID uuid.UUID, n int) (*ContentVersion, error) {
	if n < 1 {
		return nil, apperr.Validation("version must be positive")
	}
	return s.repo.GetVersion(ctx, reportID, n)
}

// Restore records a new human version whose content equals version n.
// History is never rewritten.
func (s *Service) Restore(ctx context.Context, reportID uuid.UUID, n int, actor string) (*Recorded, error) {
	v, err := s.Version(ctx, reportID, n)
	if err != nil {
		return nil, err
	}
	sections := make(map[string]string, len(v.Content))
	for name, sec := range v.Content {
		sections[name] = sec.Text
	}
	return s.RecordVersion(ctx, Mutation{
		ReportID:      reportID,
		Sections:      sections,
		Replace:       true,
		Author:        actor,
		ChangeSummary: fmt.Sprintf("restored version %d", n),
	})
}

type ChangeKind string

const (
	SectionAdded   ChangeKind = "added"
	SectionRemoved ChangeKind = "removed"
	SectionChanged ChangeKind = "changed"
)

type DiffChunk struct {
	Op   string `json:"op"`
	Text string `json:"text"`
}

type SectionDiff struct {
	Section        string      `json:"section"`
	Change         ChangeKind  `json:"change"`
	FromProvenance Provenance  `json:"from_provenance,omitempty"`
	ToProvenance   Provenance  `json:"to_provenance,omitempty"`
	Chunks         []DiffChunk `json:"chunks"`
	Patch          string      `json:"patch"`
}

type Diff struct {
	ReportID uuid.UUID     `json:"report_id"`
	From     int           `json:"from"`
	To       int           `json:"to"`
	Sections []SectionDiff `json:"sections"`
}

// Diff compares two versions section by section. Unchanged sections are
// omitted.
func (s *Service) Diff(ctx context.Context, reportID uuid.UUID, from, to int) (*Diff, error) {
	a, err := s.Version(ctx, reportID, from)
	if err != nil {
		return nil, err
	}
	b, err := s.Version(ctx, reportID, to)
	if err != nil {
		return nil, err
	}
	return diffVersions(a, b), nil
}

func diffVersions(a, b *ContentVersion) *Diff {
	names := make(map[string]struct{}, len(a.Content)+len(b.Content))
	for n := range a.Content {
		names[n] = struct{}{}
	}
	for n := range b.Content {
		names[n] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	dmp := diffmatchpatch.New()
	out := &Diff{ReportID: a.ReportID, From: a.VersionNumber, To: b.VersionNumber, Sections: []SectionDiff{}}
	for _, name := range sorted {
		before, inA := a.Content[name]
		after, inB := b.Content[name]

		sd := SectionDiff{Section: name, FromProvenance: before.Provenance, ToProvenance: after.Provenance}
		switch {
		case !inA:
			sd.Change = SectionAdded
		case !inB:
			sd.Change = SectionRemoved
		case before.Text != after.Text:
			sd.Change = SectionChanged
		default:
			continue
		}

		diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(before.Text, after.Text, false))
		for _, d := range diffs {
			sd.Chunks = append(sd.Chunks, DiffChunk{Op: opName(d.Type), Text: d.Text})
		}
		sd.Patch = dmp.PatchToText(dmp.PatchMake(before.Text, diffs))
		out.Sections = append(out.Sections, sd)
	}
	return out
}

func opName(op diffmatchpatch.Operation) string {
	switch op {
	case diffmatchpatch.DiffInsert:
		return "insert"
	case diffmatchpatch.DiffDelete:
		return "delete"
	}
	return "equal"
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
