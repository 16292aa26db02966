package hipaa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type memorySink struct {
	entries []GenerationEntry
	err     error
}

func (s *memorySink) Name() string { return "memory" }

func (s *memorySink) Write(_ context.Context, e *GenerationEntry) error {
	s.entries = append(s.entries, *e)
	return s.err
}

func TestTrail_FillsDefaultsAndFansOut(t *testing.T) {
	a, b := &memorySink{}, &memorySink{}
	trail := NewTrail(zerolog.Nop(), a, b)
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	trail.now = func() time.Time { return fixed }

	patient := uuid.New()
	trail.Record(context.Background(), GenerationEntry{
		PatientID:   patient,
		ContentType: "treatment_summary",
		Actor:       "clinician-1",
		Outcome:     OutcomeMiss,
		Chars:       120,
	})

	if len(a.entries) != 1 || len(b.entries) != 1 {
		t.Fatalf("expected one entry per sink, got %d and %d", len(a.entries), len(b.entries))
	}
	got := a.entries[0]
	if got.ID == uuid.Nil {
		t.Error("expected generated id")
	}
	if !got.Timestamp.Equal(fixed) {
		t.Errorf("expected timestamp %v, got %v", fixed, got.Timestamp)
	}
	if got.PatientID != patient || got.Outcome != OutcomeMiss {
		t.Errorf("unexpected entry %+v", got)
	}
	if a.entries[0].ID != b.entries[0].ID {
		t.Error("expected the same entry in every sink")
	}
}

func TestTrail_SinkErrorIsLoggedNotPropagated(t *testing.T) {
	var buf bytes.Buffer
	failing := &memorySink{err: errors.New("disk full")}
	ok := &memorySink{}
	trail := NewTrail(zerolog.New(&buf), failing, ok)

	trail.Record(context.Background(), GenerationEntry{PatientID: uuid.New(), Outcome: OutcomeHit})

	if len(ok.entries) != 1 {
		t.Error("expected later sinks to still receive the entry")
	}
	if !strings.Contains(buf.String(), "disk full") {
		t.Errorf("expected sink failure in log, got %q", buf.String())
	}
}

func TestTrail_NilIsSafe(t *testing.T) {
	var trail *Trail
	trail.Record(context.Background(), GenerationEntry{})
}

func TestLogSink_Fields(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(zerolog.New(&buf))
	err := sink.Write(context.Background(), &GenerationEntry{
		ID:          uuid.New(),
		PatientID:   uuid.New(),
		ContentType: "medical_history",
		Outcome:     OutcomeGenerationFailed,
		Error:       "timeout",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if line["level"] != "warn" || line["outcome"] != "generation_failed" {
		t.Errorf("unexpected log line %v", line)
	}
	if line["stream"] != "ai_generation_audit" {
		t.Errorf("expected stream field, got %v", line["stream"])
	}
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaSink_PublishesKeyedByPatient(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaSink{w: w, timeout: time.Second}
	patient := uuid.New()

	err := sink.Write(context.Background(), &GenerationEntry{
		ID:          uuid.New(),
		PatientID:   patient,
		ContentType: "outcome_summary",
		Outcome:     OutcomeHit,
		Fingerprint: "abc",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != patient.String() {
		t.Errorf("expected patient key, got %s", w.msgs[0].Key)
	}
	var decoded GenerationEntry
	if err := json.Unmarshal(w.msgs[0].Value, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.Fingerprint != "abc" || decoded.Outcome != OutcomeHit {
		t.Errorf("unexpected payload %+v", decoded)
	}
}
