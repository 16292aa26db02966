// Package aicache serves AI-generated narrative sections from a
// fingerprint-gated, time-limited cache, generating at most once per slot at
// a time.
package aicache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/hadadahealth/reports/internal/domain/clinical"
	"github.com/hadadahealth/reports/internal/platform/apperr"
	"github.com/hadadahealth/reports/internal/platform/db"
	"github.com/hadadahealth/reports/internal/platform/hipaa"
	"github.com/hadadahealth/reports/internal/platform/llm"
	"github.com/hadadahealth/reports/internal/platform/metrics"
)

// maxRechecks bounds how often a caller rejoins a flight whose leader
// generated for a different fingerprint.
const maxRechecks = 3

type Config struct {
	TTL              time.Duration
	GeneratorTimeout time.Duration
	Locker           Locker
	Trail            *hipaa.Trail
	Metrics          *metrics.Metrics
}

type Service struct {
	repo       Repository
	agg        *clinical.Aggregator
	gen        llm.Generator
	locker     Locker
	trail      *hipaa.Trail
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	ttl        time.Duration
	genTimeout time.Duration
	now        func() time.Time
	flights    singleflight.Group
}

func NewService(repo Repository, agg *clinical.Aggregator, gen llm.Generator, logger zerolog.Logger, cfg Config) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.GeneratorTimeout <= 0 {
		cfg.GeneratorTimeout = 60 * time.Second
	}
	return &Service{
		repo:       repo,
		agg:        agg,
		gen:        gen,
		locker:     cfg.Locker,
		trail:      cfg.Trail,
		metrics:    cfg.Metrics,
		logger:     logger.With().Str("component", "aicache").Logger(),
		ttl:        cfg.TTL,
		genTimeout: cfg.GeneratorTimeout,
		now:        time.Now,
	}
}

// Request is one lookup. Actor and ReportID only feed the audit trail.
type Request struct {
	Slot     Slot
	Context  *clinical.Context
	Actor    string
	ReportID *uuid.UUID
}

// Content aggregates the slot's clinical context and returns its narrative.
func (s *Service) Content(ctx context.Context, slot Slot, actor string, reportID *uuid.UUID) (*Result, error) {
	if err := slot.Validate(); err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}
	cc, err := s.agg.Aggregate(ctx, slot.PatientID, slot.ContentType, slot.Disciplines())
	if err != nil {
		return nil, err
	}
	return s.GetOrGenerate(ctx, Request{Slot: slot, Context: cc, Actor: actor, ReportID: reportID})
}

// GetOrGenerate returns the cached text for the slot when its fingerprint
// matches and it has not expired, otherwise it generates, stores and returns
// fresh text. Concurrent misses for the same slot share one generator call.
// A generator failure writes nothing and returns apperr.ErrGenerationFailed.
func (s *Service) GetOrGenerate(ctx context.Context, req Request) (*Result, error) {
	if req.Context == nil {
		return nil, apperr.Validation("clinical context is required")
	}
	if err := req.Slot.Validate(); err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}
	fp, err := req.Context.Fingerprint()
	if err != nil {
		return nil, err
	}

	// The flight outlives any single caller: content already paid for is
	// stored even if the leading request goes away. It keeps the practice
	// connection carried in ctx.
	flightCtx := context.WithoutCancel(ctx)
	key := db.PracticeFromContext(ctx) + ":" + req.Slot.String()

	for range maxRechecks {
		if res, err := s.lookup(ctx, req, fp); err != nil || res != nil {
			return res, err
		}

		var (
			led       bool
			generated *Entry
		)
		_, err, _ := s.flights.Do(key, func() (interface{}, error) {
			led = true
			e, err := s.generate(flightCtx, req, fp)
			generated = e
			return e, err
		})
		if err != nil {
			if led || errors.Is(err, apperr.ErrGenerationFailed) {
				return nil, err
			}
			// The leader failed for its own reasons; look again.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			continue
		}
		// Only the leader sees generated set. Everyone else re-reads the
		// cache so their hit is counted and fingerprint-checked.
		if generated != nil {
			return resultOf(generated, false), nil
		}
	}
	return nil, fmt.Errorf("slot %s kept changing during generation", req.Slot)
}

// lookup returns a hit, or nil when the slot must be (re)generated.
func (s *Service) lookup(ctx context.Context, req Request, fp string) (*Result, error) {
	current, err := s.repo.Current(ctx, req.Slot)
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}
	now := s.now()
	if !current.servable(fp, now) {
		return nil, nil
	}
	e, err := s.repo.Touch(ctx, current.ID, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("record cache use: %w", err)
	}
	if e == nil {
		return nil, nil
	}
	s.audit(ctx, req, fp, hipaa.OutcomeHit, e.Text, e.Model, e.TokensUsed, nil)
	s.metrics.CacheLookup(string(req.Slot.ContentType), string(hipaa.OutcomeHit))
	return resultOf(e, true), nil
}

// generate runs inside the slot's flight on a context detached from the
// caller. It returns nil, nil when another replica filled the slot while we
// waited for the lock.
func (s *Service) generate(ctx context.Context, req Request, fp string) (*Entry, error) {
	if s.locker != nil {
		// Another replica holds the lock for at most one generation.
		lockCtx, cancel := context.WithTimeout(ctx, 2*s.genTimeout)
		release, err := s.locker.Acquire(lockCtx, db.PracticeFromContext(ctx)+":"+req.Slot.String())
		cancel()
		if err != nil {
			return nil, err
		}
		defer release()
	}

	current, err := s.repo.Current(ctx, req.Slot)
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}
	if current.servable(fp, s.now()) {
		return nil, nil
	}
	if current != nil {
		n, err := s.repo.InvalidateSlot(ctx, req.Slot)
		if err != nil {
			return nil, fmt.Errorf("invalidate stale entry: %w", err)
		}
		reason := "stale_fingerprint"
		if current.Fingerprint == fp {
			reason = "expired"
		}
		s.metrics.CacheInvalidated(reason, n)
	}

	genCtx, cancel := context.WithTimeout(ctx, s.genTimeout)
	defer cancel()

	started := s.now()
	resp, err := s.gen.Generate(genCtx, llm.Request{
		ContentType: string(req.Slot.ContentType),
		Discipline:  disciplineName(req.Slot.Discipline),
		Context:     req.Context,
	})
	if err != nil {
		if errors.Is(genCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, llm.ErrTimeout) {
			err = fmt.Errorf("%w: %v", llm.ErrTimeout, err)
		}
		s.metrics.GenerationLatency(string(req.Slot.ContentType), string(hipaa.OutcomeGenerationFailed), time.Since(started))
		s.metrics.CacheLookup(string(req.Slot.ContentType), string(hipaa.OutcomeGenerationFailed))
		s.audit(ctx, req, fp, hipaa.OutcomeGenerationFailed, "", "", 0, err)
		s.logger.Warn().Err(err).Str("slot", req.Slot.String()).Msg("content generation failed")
		return nil, apperr.GenerationFailed(err)
	}

	now := s.now().UTC()
	e := &Entry{
		PatientID:   req.Slot.PatientID,
		ContentType: req.Slot.ContentType,
		Discipline:  req.Slot.Discipline,
		Text:        resp.Text,
		Fingerprint: fp,
		GeneratedAt: now,
		ExpiresAt:   now.Add(s.ttl),
		Valid:       true,
		Model:       resp.Model,
		TokensUsed:  resp.TokensUsed,
	}
	if err := s.repo.Replace(ctx, e); err != nil {
		return nil, fmt.Errorf("store generated content: %w", err)
	}

	s.metrics.GenerationLatency(string(req.Slot.ContentType), string(hipaa.OutcomeMiss), time.Since(started))
	s.metrics.CacheLookup(string(req.Slot.ContentType), string(hipaa.OutcomeMiss))
	s.audit(ctx, req, fp, hipaa.OutcomeMiss, e.Text, e.Model, e.TokensUsed, nil)
	return e, nil
}

func (s *Service) audit(ctx context.Context, req Request, fp string, outcome hipaa.Outcome, text, model string, tokens int, cause error) {
	entry := hipaa.GenerationEntry{
		PatientID:   req.Slot.PatientID,
		ReportID:    req.ReportID,
		ContentType: string(req.Slot.ContentType),
		Discipline:  disciplineName(req.Slot.Discipline),
		Actor:       req.Actor,
		Outcome:     outcome,
		Fingerprint: fp,
		Chars:       len([]rune(text)),
		TokensUsed:  tokens,
		Model:       model,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	s.trail.Record(ctx, entry)
}

// Invalidate drops the current entry for one slot.
func (s *Service) Invalidate(ctx context.Context, slot Slot) (int64, error) {
	if err := slot.Validate(); err != nil {
		return 0, apperr.Validation("%s", err.Error())
	}
	n, err := s.repo.InvalidateSlot(ctx, slot)
	if err != nil {
		return 0, err
	}
	s.metrics.CacheInvalidated("explicit", n)
	return n, nil
}

// InvalidatePatient drops every current entry for a patient, typically after
// their clinical record changed.
func (s *Service) InvalidatePatient(ctx context.Context, patientID uuid.UUID) (int64, error) {
	if patientID == uuid.Nil {
		return 0, apperr.Validation("patient_id is required")
	}
	n, err := s.repo.InvalidatePatient(ctx, patientID)
	if err != nil {
		return 0, err
	}
	s.metrics.CacheInvalidated("clinical_data_changed", n)
	return n, nil
}

// ExpireStale marks entries past their expiry invalid.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireStale(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	s.metrics.CacheInvalidated("expired", n)
	return n, nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.repo.Stats(ctx, s.now().UTC())
}

func disciplineName(d *clinical.Discipline) string {
	if d == nil {
		return ""
	}
	return string(*d)
}
