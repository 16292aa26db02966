package report

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hadadahealth/reports/internal/domain/clinical"
)

type ReportType string

const (
	TypeDischarge      ReportType = "discharge"
	TypeProgress       ReportType = "progress"
	TypeInsurance      ReportType = "insurance"
	TypeOutcomeSummary ReportType = "outcome_summary"
	TypeAssessment     ReportType = "assessment"
	TypeCustom         ReportType = "custom"
)

func (t ReportType) Valid() bool {
	switch t {
	case TypeDischarge, TypeProgress, TypeInsurance, TypeOutcomeSummary, TypeAssessment, TypeCustom:
		return true
	}
	return false
}

// Status is the persisted workflow state. StatusOverdue is only ever derived.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusOverdue    Status = "overdue"
)

func (s Status) open() bool {
	return s == StatusPending || s == StatusInProgress
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

type Provenance string

const (
	ProvenanceAI    Provenance = "ai"
	ProvenanceHuman Provenance = "human"
)

// SystemAuthor authors every automatic mutation.
const SystemAuthor = "system"

type Section struct {
	Text       string     `json:"text"`
	Provenance Provenance `json:"provenance"`
	UpdatedBy  string     `json:"updated_by"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Content maps section names to their current text and provenance.
type Content map[string]Section

func (c Content) Clone() Content {
	out := make(Content, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// AISections lists sections whose current text came from generation, sorted.
func (c Content) AISections() []string {
	var out []string
	for name, s := range c {
		if s.Provenance == ProvenanceAI {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// machineOnly reports whether no section of c was written by a person.
func (c Content) machineOnly() bool {
	for _, s := range c {
		if s.Provenance != ProvenanceAI {
			return false
		}
	}
	return true
}

func (c Content) filled(section string) bool {
	s, ok := c[section]
	return ok && strings.TrimSpace(s.Text) != ""
}

type Report struct {
	ID             uuid.UUID             `json:"id"`
	PatientID      uuid.UUID             `json:"patient_id"`
	ReportType     ReportType            `json:"report_type"`
	TemplateID     uuid.UUID             `json:"template_id"`
	Title          string                `json:"title"`
	Status         Status                `json:"status"`
	AssignedTo     []string              `json:"assigned_to"`
	Disciplines    []clinical.Discipline `json:"disciplines"`
	Priority       Priority              `json:"priority"`
	Deadline       *time.Time            `json:"deadline,omitempty"`
	RequestedBy    *string               `json:"requested_by,omitempty"`
	Content        Content               `json:"content"`
	HumanSections  []string              `json:"human_edited_sections"`
	CurrentVersion int                   `json:"current_version"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
	CompletedAt    *time.Time            `json:"completed_at,omitempty"`
}

// IsOverdue is re-derived on every read and never stored.
func (r *Report) IsOverdue(now time.Time) bool {
	return r.Status.open() && r.Deadline != nil && r.Deadline.Before(now)
}

func (r *Report) EffectiveStatus(now time.Time) Status {
	if r.IsOverdue(now) {
		return StatusOverdue
	}
	return r.Status
}

func (r *Report) humanEdited(section string) bool {
	return slices.Contains(r.HumanSections, section)
}

func (r *Report) markHuman(sections ...string) {
	for _, s := range sections {
		if !r.humanEdited(s) {
			r.HumanSections = append(r.HumanSections, s)
		}
	}
	sort.Strings(r.HumanSections)
}

// View is the read model returned by the API.
type View struct {
	*Report
	Overdue         bool     `json:"overdue"`
	EffectiveStatus Status   `json:"effective_status"`
	AISections      []string `json:"ai_generated_sections"`
}

func newView(r *Report, now time.Time) *View {
	ai := r.Content.AISections()
	if ai == nil {
		ai = []string{}
	}
	return &View{
		Report:          r,
		Overdue:         r.IsOverdue(now),
		EffectiveStatus: r.EffectiveStatus(now),
		AISections:      ai,
	}
}

type ContentVersion struct {
	ID            uuid.UUID `json:"id"`
	ReportID      uuid.UUID `json:"report_id"`
	VersionNumber int       `json:"version_number"`
	Content       Content   `json:"content"`
	AISections    []string  `json:"ai_generated_sections"`
	Author        string    `json:"author"`
	CreatedAt     time.Time `json:"created_at"`
	ChangeSummary string    `json:"change_summary,omitempty"`
	IsAIGenerated bool      `json:"is_ai_generated"`
}

// Template is owned by the template editor; this package only reads it.
type Template struct {
	ID                uuid.UUID  `json:"id"`
	ReportType        ReportType `json:"report_type"`
	Name              string     `json:"name"`
	MandatorySections []string   `json:"mandatory_sections"`
	OptionalSections  []string   `json:"optional_sections"`
}

func (t *Template) Allows(section string) bool {
	return slices.Contains(t.MandatorySections, section) || slices.Contains(t.OptionalSections, section)
}

// Missing returns mandatory sections that are absent or blank in c.
func (t *Template) Missing(c Content) []string {
	var out []string
	for _, s := range t.MandatorySections {
		if !c.filled(s) {
			out = append(out, s)
		}
	}
	return out
}

// Filter narrows List. Status matches the effective status, so pending
// excludes pending reports that are overdue.
type Filter struct {
	PatientID *uuid.UUID
	Assignee  string
	Status    Status
}

func (f Filter) Validate() error {
	switch f.Status {
	case "", StatusPending, StatusInProgress, StatusCompleted, StatusOverdue:
		return nil
	}
	return fmt.Errorf("unknown status %q", f.Status)
}
