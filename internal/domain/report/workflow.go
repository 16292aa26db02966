package report

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hadadahealth/reports/internal/platform/apperr"
	"github.com/hadadahealth/reports/internal/platform/notification"
)

type Action string

const (
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
)

// Transition applies an explicit workflow action. It never degrades into a
// no-op: every disallowed action fails with apperr.ErrInvalidTransition.
func (s *Service) Transition(ctx context.Context, reportID uuid.UUID, action Action, actor string) (*Report, error) {
	if action != ActionStart && action != ActionComplete {
		return nil, apperr.Validation("unknown action %q", action)
	}

	var (
		rep  *Report
		from Status
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		rep, err = s.repo.GetForUpdate(ctx, reportID)
		if err != nil {
			return err
		}
		from = rep.Status

		if err := s.checkTransition(ctx, rep, action); err != nil {
			return err
		}

		now := s.now().UTC()
		switch action {
		case ActionStart:
			rep.Status = StatusInProgress
		case ActionComplete:
			rep.Status = StatusCompleted
			rep.CompletedAt = &now
		}
		rep.UpdatedAt = now
		return s.repo.Update(ctx, rep)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Transition(string(from), string(rep.Status))
	s.logger.Info().
		Str("report_id", rep.ID.String()).
		Str("from", string(from)).
		Str("to", string(rep.Status)).
		Str("actor", actor).
		Msg("report transitioned")
	s.afterTransition(ctx, rep, actor)
	return rep, nil
}

func (s *Service) checkTransition(ctx context.Context, rep *Report, action Action) error {
	switch {
	case rep.Status == StatusCompleted:
		return apperr.InvalidTransition(string(rep.Status), string(action), "report is completed")
	case action == ActionStart && rep.Status != StatusPending:
		return apperr.InvalidTransition(string(rep.Status), string(action), "report has already been started")
	case action == ActionComplete && rep.Status != StatusInProgress:
		return apperr.InvalidTransition(string(rep.Status), string(action), "report has not been started")
	}
	if action == ActionComplete {
		tmpl, err := s.templates.Get(ctx, rep.TemplateID)
		if err != nil {
			return err
		}
		if missing := tmpl.Missing(rep.Content); len(missing) > 0 {
			return apperr.IncompleteReport(missing)
		}
	}
	return nil
}

// afterTransition runs after commit. Notification failures are logged by
// the dispatcher and never undo the transition.
func (s *Service) afterTransition(ctx context.Context, rep *Report, actor string) {
	switch rep.Status {
	case StatusInProgress:
		s.notify(ctx, rep, notification.EventStarted, rep.AssignedTo, actor)
	case StatusCompleted:
		if rep.RequestedBy != nil {
			s.notify(ctx, rep, notification.EventCompleted, []string{*rep.RequestedBy}, actor)
		}
	}
}

// observeOverdue emits the overdue notification the first time an overdue
// report is seen. Repeats are absorbed by the dispatcher's dedupe key.
func (s *Service) observeOverdue(ctx context.Context, rep *Report, now time.Time) int {
	if !rep.IsOverdue(now) {
		return 0
	}
	return s.notify(ctx, rep, notification.EventOverdue, rep.AssignedTo, SystemAuthor)
}

func (s *Service) notify(ctx context.Context, rep *Report, event notification.Event, recipients []string, actor string) int {
	if s.notifier == nil {
		return 0
	}
	// Delivery outlives the request that triggered it.
	ids, err := s.notifier.Notify(context.WithoutCancel(ctx), rep.ID, event, recipients, messageData(rep, actor))
	if err != nil {
		s.logger.Warn().Err(err).
			Str("report_id", rep.ID.String()).
			Str("event", string(event)).
			Msg("notification delivery incomplete")
	}
	return len(ids)
}

func messageData(rep *Report, actor string) map[string]string {
	deadline := "without a deadline"
	if rep.Deadline != nil {
		deadline = rep.Deadline.UTC().Format("2006-01-02 15:04 UTC")
	}
	return map[string]string{
		"report_type": string(rep.ReportType),
		"title":       rep.Title,
		"patient":     rep.PatientID.String(),
		"deadline":    deadline,
		"actor":       actor,
	}
}
