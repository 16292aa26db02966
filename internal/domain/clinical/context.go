package clinical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Context is the normalized clinical snapshot handed to the content
// generator. Field order, slice order and UTC timestamps are fixed by
// Aggregate, which makes its JSON encoding canonical.
type Context struct {
	PatientID       uuid.UUID        `json:"patient_id"`
	ContentType     ContentType      `json:"content_type"`
	Disciplines     []Discipline     `json:"disciplines"`
	TreatmentNotes  []TreatmentNote  `json:"treatment_notes,omitempty"`
	OutcomeMeasures []OutcomeMeasure `json:"outcome_measures,omitempty"`
	Diagnoses       []Diagnosis      `json:"diagnoses,omitempty"`
}

// Fingerprint is the hex sha256 of the canonical encoding. Any change to the
// underlying records changes it.
func (c *Context) Fingerprint() (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode clinical context: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func (c *Context) Summary() string {
	parts := make([]string, 0, 3)
	if n := len(c.TreatmentNotes); n > 0 {
		parts = append(parts, plural(n, "treatment note"))
	}
	if n := len(c.OutcomeMeasures); n > 0 {
		parts = append(parts, plural(n, "outcome measure"))
	}
	if n := len(c.Diagnoses); n > 0 {
		parts = append(parts, plural(n, "diagnosis"))
	}
	if len(parts) == 0 {
		parts = append(parts, "no recorded history")
	}
	ds := make([]string, len(c.Disciplines))
	for i, d := range c.Disciplines {
		ds[i] = strings.ReplaceAll(string(d), "_", " ")
	}
	return fmt.Sprintf("%s across %s", strings.Join(parts, ", "), strings.Join(ds, ", "))
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	if strings.HasSuffix(noun, "is") {
		return fmt.Sprintf("%d %ses", n, strings.TrimSuffix(noun, "is"))
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
