package aicache

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hadadahealth/reports/internal/domain/clinical"
)

// DefaultTTL is how long a generated section stays servable.
const DefaultTTL = 7 * 24 * time.Hour

// Slot identifies one cacheable narrative: a patient, a content type and an
// optional discipline. At most one valid entry exists per slot.
type Slot struct {
	PatientID   uuid.UUID            `json:"patient_id"`
	ContentType clinical.ContentType `json:"content_type"`
	Discipline  *clinical.Discipline `json:"discipline,omitempty"`
}

func (s Slot) String() string {
	d := "*"
	if s.Discipline != nil {
		d = string(*s.Discipline)
	}
	return fmt.Sprintf("%s/%s/%s", s.PatientID, s.ContentType, d)
}

// Disciplines is the aggregation scope for the slot: its own discipline, or
// every discipline when unset.
func (s Slot) Disciplines() []clinical.Discipline {
	if s.Discipline == nil {
		return nil
	}
	return []clinical.Discipline{*s.Discipline}
}

func (s Slot) Validate() error {
	if s.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if !s.ContentType.Valid() {
		return fmt.Errorf("unknown content type %q", s.ContentType)
	}
	if s.Discipline != nil && !s.Discipline.Valid() {
		return fmt.Errorf("unknown discipline %q", *s.Discipline)
	}
	return nil
}

type Entry struct {
	ID          uuid.UUID            `json:"id"`
	PatientID   uuid.UUID            `json:"patient_id"`
	ContentType clinical.ContentType `json:"content_type"`
	Discipline  *clinical.Discipline `json:"discipline,omitempty"`
	Text        string               `json:"text"`
	Fingerprint string               `json:"fingerprint"`
	GeneratedAt time.Time            `json:"generated_at"`
	ExpiresAt   time.Time            `json:"expires_at"`
	UsageCount  int                  `json:"usage_count"`
	LastUsedAt  *time.Time           `json:"last_used_at,omitempty"`
	Valid       bool                 `json:"is_valid"`
	Model       string               `json:"model,omitempty"`
	TokensUsed  int                  `json:"tokens_used"`
}

func (e *Entry) Slot() Slot {
	return Slot{PatientID: e.PatientID, ContentType: e.ContentType, Discipline: e.Discipline}
}

// servable reports whether e can answer a lookup for fingerprint at now.
func (e *Entry) servable(fingerprint string, now time.Time) bool {
	return e != nil && e.Valid && e.Fingerprint == fingerprint && now.Before(e.ExpiresAt)
}

type Result struct {
	Text        string    `json:"text"`
	CacheHit    bool      `json:"cache_hit"`
	Fingerprint string    `json:"fingerprint"`
	EntryID     uuid.UUID `json:"entry_id"`
	GeneratedAt time.Time `json:"generated_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func resultOf(e *Entry, hit bool) *Result {
	return &Result{
		Text:        e.Text,
		CacheHit:    hit,
		Fingerprint: e.Fingerprint,
		EntryID:     e.ID,
		GeneratedAt: e.GeneratedAt,
		ExpiresAt:   e.ExpiresAt,
	}
}

type Stats struct {
	Valid      int   `json:"valid"`
	Expired    int   `json:"expired"`
	Invalid    int   `json:"invalid"`
	TotalUsage int64 `json:"total_usage"`
}
