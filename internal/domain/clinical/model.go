package clinical

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Discipline is the single closed set of clinical disciplines used across
// aggregation, caching and reports.
type Discipline string

const (
	Physiotherapy       Discipline = "physiotherapy"
	OccupationalTherapy Discipline = "occupational_therapy"
	SpeechTherapy       Discipline = "speech_therapy"
	Dietetics           Discipline = "dietetics"
	Psychology          Discipline = "psychology"
	SocialWork          Discipline = "social_work"
	Nursing             Discipline = "nursing"
)

var AllDisciplines = []Discipline{
	Dietetics, Nursing, OccupationalTherapy, Physiotherapy, Psychology, SocialWork, SpeechTherapy,
}

func (d Discipline) Valid() bool {
	for _, v := range AllDisciplines {
		if d == v {
			return true
		}
	}
	return false
}

func ParseDiscipline(s string) (Discipline, error) {
	d := Discipline(s)
	if !d.Valid() {
		return "", fmt.Errorf("unknown discipline %q", s)
	}
	return d, nil
}

// ContentType names a kind of narrative section the generator can write.
type ContentType string

const (
	MedicalHistory    ContentType = "medical_history"
	TreatmentSummary  ContentType = "treatment_summary"
	AssessmentSummary ContentType = "assessment_summary"
	OutcomeSummary    ContentType = "outcome_summary"
)

func (c ContentType) Valid() bool {
	switch c {
	case MedicalHistory, TreatmentSummary, AssessmentSummary, OutcomeSummary:
		return true
	}
	return false
}

func ParseContentType(s string) (ContentType, error) {
	c := ContentType(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown content type %q", s)
	}
	return c, nil
}

// sources lists which record kinds feed each content type.
type sources struct {
	notes, measures, diagnoses bool
}

func (c ContentType) sources() sources {
	switch c {
	case MedicalHistory, TreatmentSummary:
		return sources{notes: true, diagnoses: true}
	case AssessmentSummary:
		return sources{notes: true, measures: true}
	case OutcomeSummary:
		return sources{measures: true, diagnoses: true}
	}
	return sources{}
}

type TreatmentNote struct {
	ID          uuid.UUID  `json:"id"`
	PatientID   uuid.UUID  `json:"patient_id"`
	Discipline  Discipline `json:"discipline"`
	ClinicianID string     `json:"clinician_id"`
	SessionDate time.Time  `json:"session_date"`
	Subjective  string     `json:"subjective,omitempty"`
	Objective   string     `json:"objective,omitempty"`
	Assessment  string     `json:"assessment,omitempty"`
	Plan        string     `json:"plan,omitempty"`
}

// OutcomeMeasure scores are exact decimals so 0.7 reads back as 0.7 and the
// fingerprint does not depend on float formatting.
type OutcomeMeasure struct {
	ID          uuid.UUID        `json:"id"`
	PatientID   uuid.UUID        `json:"patient_id"`
	Discipline  *Discipline      `json:"discipline,omitempty"`
	MeasureName string           `json:"measure_name"`
	Score       decimal.Decimal  `json:"score"`
	MaxScore    *decimal.Decimal `json:"max_score,omitempty"`
	RecordedAt  time.Time        `json:"recorded_at"`
}

type Diagnosis struct {
	ID          uuid.UUID `json:"id"`
	PatientID   uuid.UUID `json:"patient_id"`
	ICD10Code   string    `json:"icd10_code"`
	Description string    `json:"description"`
	DiagnosedAt time.Time `json:"diagnosed_at"`
	IsPrimary   bool      `json:"is_primary"`
}
