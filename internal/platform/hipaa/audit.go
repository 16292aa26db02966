// Package hipaa records the append-only compliance trail of AI content
// generation: every generator call and every cache hit or miss.
package hipaa

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/hadadahealth/reports/internal/platform/db"
)

type Outcome string

const (
	OutcomeHit              Outcome = "hit"
	OutcomeMiss             Outcome = "miss"
	OutcomeGenerationFailed Outcome = "generation_failed"
)

// GenerationEntry is one audit record. It deliberately carries sizes, never
// the generated text itself.
type GenerationEntry struct {
	ID          uuid.UUID  `json:"id"`
	Timestamp   time.Time  `json:"timestamp"`
	PracticeID  string     `json:"practice_id,omitempty"`
	PatientID   uuid.UUID  `json:"patient_id"`
	ReportID    *uuid.UUID `json:"report_id,omitempty"`
	ContentType string     `json:"content_type"`
	Discipline  string     `json:"discipline,omitempty"`
	Actor       string     `json:"actor"`
	Outcome     Outcome    `json:"outcome"`
	Fingerprint string     `json:"fingerprint"`
	Chars       int        `json:"chars"`
	TokensUsed  int        `json:"tokens_used"`
	Model       string     `json:"model,omitempty"`
	Error       string     `json:"error,omitempty"`
}

type Sink interface {
	Name() string
	Write(ctx context.Context, e *GenerationEntry) error
}

// Trail fans entries out to every sink. Sink failures are logged and never
// returned: the audit stream must not break content delivery.
type Trail struct {
	sinks  []Sink
	logger zerolog.Logger
	now    func() time.Time
}

func NewTrail(logger zerolog.Logger, sinks ...Sink) *Trail {
	return &Trail{sinks: sinks, logger: logger, now: time.Now}
}

func (t *Trail) Record(ctx context.Context, e GenerationEntry) {
	if t == nil {
		return
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = t.now().UTC()
	}
	if e.PracticeID == "" {
		e.PracticeID = db.PracticeFromContext(ctx)
	}
	for _, s := range t.sinks {
		if err := s.Write(ctx, &e); err != nil {
			t.logger.Error().Err(err).
				Str("sink", s.Name()).
				Str("audit_id", e.ID.String()).
				Msg("audit sink write failed")
		}
	}
}

// LogSink writes entries as structured log lines.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("stream", "ai_generation_audit").Logger()}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, e *GenerationEntry) error {
	evt := s.logger.Info()
	if e.Outcome == OutcomeGenerationFailed {
		evt = s.logger.Warn().Str("error", e.Error)
	}
	evt.
		Str("audit_id", e.ID.String()).
		Time("timestamp", e.Timestamp).
		Str("patient_id", e.PatientID.String()).
		Str("content_type", e.ContentType).
		Str("discipline", e.Discipline).
		Str("actor", e.Actor).
		Str("outcome", string(e.Outcome)).
		Str("fingerprint", e.Fingerprint).
		Int("chars", e.Chars).
		Int("tokens_used", e.TokensUsed).
		Msg("ai generation audit")
	return nil
}

// PGSink appends to ai_generation_audit in the caller's practice schema.
type PGSink struct {
	pool *pgxpool.Pool
}

func NewPGSink(pool *pgxpool.Pool) *PGSink {
	return &PGSink{pool: pool}
}

func (s *PGSink) Name() string { return "postgres" }

func (s *PGSink) Write(ctx context.Context, e *GenerationEntry) error {
	const query = `
		INSERT INTO ai_generation_audit (
			id, recorded_at, patient_id, report_id, content_type, discipline,
			actor, outcome, fingerprint, chars, tokens_used, model, error
		) VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7,$8,$9,$10,$11,NULLIF($12,''),NULLIF($13,''))`

	args := []any{
		e.ID, e.Timestamp, e.PatientID, e.ReportID, e.ContentType, e.Discipline,
		e.Actor, string(e.Outcome), e.Fingerprint, e.Chars, e.TokensUsed, e.Model, e.Error,
	}

	if conn := db.ConnFromContext(ctx); conn != nil {
		_, err := conn.Exec(ctx, query, args...)
		return err
	}
	if s.pool == nil {
		return fmt.Errorf("hipaa audit: no database connection")
	}
	_, err := s.pool.Exec(ctx, query, args...)
	return err
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes entries to a topic for downstream compliance tooling.
type KafkaSink struct {
	w       messageWriter
	timeout time.Duration
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		w: kafka.NewWriter(kafka.WriterConfig{
			Brokers:  brokers,
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		}),
		timeout: 5 * time.Second,
	}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, e *GenerationEntry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	// Keyed by patient so one patient's trail stays ordered within a partition.
	return s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.PatientID.String()),
		Value: payload,
		Time:  e.Timestamp,
	})
}

func (s *KafkaSink) Close() error {
	return s.w.Close()
}
