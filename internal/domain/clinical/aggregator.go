// Package clinical gathers a patient's structured clinical history into a
// normalized context for narrative generation.
package clinical

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/google/uuid"

	"github.com/hadadahealth/reports/internal/platform/apperr"
)

type Aggregator struct {
	src RecordSource
}

func NewAggregator(src RecordSource) *Aggregator {
	return &Aggregator{src: src}
}

// Aggregate builds the clinical context for one patient, content type and
// discipline set. An empty discipline set means every discipline. The result
// only includes the record kinds the content type draws on, each sorted by
// date then id.
func (a *Aggregator) Aggregate(ctx context.Context, patientID uuid.UUID, ct ContentType, disciplines []Discipline) (*Context, error) {
	if !ct.Valid() {
		return nil, apperr.Validation("unknown content type %q", ct)
	}
	ds, err := normalizeDisciplines(disciplines)
	if err != nil {
		return nil, err
	}

	ok, err := a.src.PatientExists(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("check patient: %w", err)
	}
	if !ok {
		return nil, apperr.NotFound("patient", patientID.String())
	}

	out := &Context{PatientID: patientID, ContentType: ct, Disciplines: ds}
	want := ct.sources()

	if want.notes {
		notes, err := a.src.TreatmentNotes(ctx, patientID, ds)
		if err != nil {
			return nil, fmt.Errorf("load treatment notes: %w", err)
		}
		for _, n := range notes {
			if slices.Contains(ds, n.Discipline) {
				n.SessionDate = n.SessionDate.UTC()
				out.TreatmentNotes = append(out.TreatmentNotes, n)
			}
		}
		sort.SliceStable(out.TreatmentNotes, func(i, j int) bool {
			x, y := out.TreatmentNotes[i], out.TreatmentNotes[j]
			if !x.SessionDate.Equal(y.SessionDate) {
				return x.SessionDate.Before(y.SessionDate)
			}
			return x.ID.String() < y.ID.String()
		})
	}

	if want.measures {
		measures, err := a.src.OutcomeMeasures(ctx, patientID)
		if err != nil {
			return nil, fmt.Errorf("load outcome measures: %w", err)
		}
		for _, m := range measures {
			// Measures without a discipline belong to the whole care team.
			if m.Discipline != nil && !slices.Contains(ds, *m.Discipline) {
				continue
			}
			m.RecordedAt = m.RecordedAt.UTC()
			out.OutcomeMeasures = append(out.OutcomeMeasures, m)
		}
		sort.SliceStable(out.OutcomeMeasures, func(i, j int) bool {
			x, y := out.OutcomeMeasures[i], out.OutcomeMeasures[j]
			if !x.RecordedAt.Equal(y.RecordedAt) {
				return x.RecordedAt.Before(y.RecordedAt)
			}
			return x.ID.String() < y.ID.String()
		})
	}

	if want.diagnoses {
		diags, err := a.src.Diagnoses(ctx, patientID)
		if err != nil {
			return nil, fmt.Errorf("load diagnoses: %w", err)
		}
		for _, d := range diags {
			d.DiagnosedAt = d.DiagnosedAt.UTC()
			out.Diagnoses = append(out.Diagnoses, d)
		}
		sort.SliceStable(out.Diagnoses, func(i, j int) bool {
			x, y := out.Diagnoses[i], out.Diagnoses[j]
			if !x.DiagnosedAt.Equal(y.DiagnosedAt) {
				return x.DiagnosedAt.Before(y.DiagnosedAt)
			}
			return x.ID.String() < y.ID.String()
		})
	}

	return out, nil
}

// normalizeDisciplines validates, deduplicates and sorts the requested set.
func normalizeDisciplines(in []Discipline) ([]Discipline, error) {
	if len(in) == 0 {
		return slices.Clone(AllDisciplines), nil
	}
	out := make([]Discipline, 0, len(in))
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
