package clinical

import (
	"context"

	"github.com/google/uuid"
)

// RecordSource reads the practice's clinical history. It is owned by the
// patient records module; this package never writes through it.
type RecordSource interface {
	PatientExists(ctx context.Context, patientID uuid.UUID) (bool, error)
	TreatmentNotes(ctx context.Context, patientID uuid.UUID, disciplines []Discipline) ([]TreatmentNote, error)
	OutcomeMeasures(ctx context.Context, patientID uuid.UUID) ([]OutcomeMeasure, error)
	Diagnoses(ctx context.Context, patientID uuid.UUID) ([]Diagnosis, error)
}
