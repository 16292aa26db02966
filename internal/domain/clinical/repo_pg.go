package clinical

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hadadahealth/reports/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type sourcePG struct{ pool *pgxpool.Pool }

func NewRecordSourcePG(pool *pgxpool.Pool) RecordSource {
	return &sourcePG{pool: pool}
}

func (s *sourcePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

func (s *sourcePG) PatientExists(ctx context.Context, patientID uuid.UUID) (bool, error) {
	var ok bool
	err := s.conn(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM patient WHERE id = $1)`, patientID).Scan(&ok)
	return ok, err
}

func (s *sourcePG) TreatmentNotes(ctx context.Context, patientID uuid.UUID, disciplines []Discipline) ([]TreatmentNote, error) {
	names := make([]string, len(disciplines))
	for i, d := range disciplines {
		names[i] = string(d)
	}
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT id, patient_id, discipline, clinician_id, session_date,
			COALESCE(subjective,''), COALESCE(objective,''), COALESCE(assessment,''), COALESCE(plan,'')
		FROM treatment_note
		WHERE patient_id = $1 AND discipline = ANY($2)
		ORDER BY session_date, id`, patientID, names)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TreatmentNote, error) {
		var n TreatmentNote
		err := row.Scan(&n.ID, &n.PatientID, &n.Discipline, &n.ClinicianID, &n.SessionDate,
			&n.Subjective, &n.Objective, &n.Assessment, &n.Plan)
		return n, err
	})
}

func (s *sourcePG) OutcomeMeasures(ctx context.Context, patientID uuid.UUID) ([]OutcomeMeasure, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT id, patient_id, discipline, measure_name, score, max_score, recorded_at
		FROM outcome_measure WHERE patient_id = $1
		ORDER BY recorded_at, id`, patientID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (OutcomeMeasure, error) {
		var m OutcomeMeasure
		err := row.Scan(&m.ID, &m.PatientID, &m.Discipline, &m.MeasureName, &m.Score, &m.MaxScore, &m.RecordedAt)
		return m, err
	})
}

func (s *sourcePG) Diagnoses(ctx context.Context, patientID uuid.UUID) ([]Diagnosis, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT id, patient_id, icd10_code, description, diagnosed_at, is_primary
		FROM diagnosis WHERE patient_id = $1
		ORDER BY diagnosed_at, id`, patientID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Diagnosis, error) {
		var d Diagnosis
		err := row.Scan(&d.ID, &d.PatientID, &d.ICD10Code, &d.Description, &d.DiagnosedAt, &d.IsPrimary)
		return d, err
	})
}
