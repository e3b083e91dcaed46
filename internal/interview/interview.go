// Package interview runs interview rounds and turns submitted feedback into
// gate signals.
package interview

import (
	"context"
	"database/sql"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"hiregate/internal/boundary"
	"hiregate/internal/domain"
	"hiregate/internal/events"
	"hiregate/internal/logger"
	"hiregate/internal/signals"
)

type Service struct {
	DB     *sql.DB
	Store  Store
	Core   boundary.Core
	Events events.Writer
	Log    logger.Logger
	Now    func() time.Time
}

func New(db *sql.DB, core boundary.Core, log logger.Logger) Service {
	return Service{DB: db, Store: Store{DB: db}, Core: core, Log: log, Now: time.Now}
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s Service) log() logger.Logger {
	if s.Log != nil {
		return s.Log
	}
	return logger.NewNoOpLogger()
}

type CreateRoundInput struct {
	ApplicationID  string
	StageID        string
	EvaluationKind string
	Interviewers   []string
	ActorID        string
}

func (in *CreateRoundInput) normalize() error {
	in.ApplicationID = strings.TrimSpace(in.ApplicationID)
	in.StageID = strings.TrimSpace(in.StageID)
	in.EvaluationKind = strings.TrimSpace(in.EvaluationKind)
	if in.ApplicationID == "" || in.StageID == "" || in.EvaluationKind == "" {
		return domain.Validationf("application_id, stage_id and evaluation_kind are required")
	}
	if strings.Contains(in.EvaluationKind, "/") {
		return domain.Validationf("evaluation_kind %q must not contain '/'", in.EvaluationKind)
	}
	var who []string
	for _, id := range in.Interviewers {
		if id = strings.TrimSpace(id); id != "" && !slices.Contains(who, id) {
			who = append(who, id)
		}
	}
	if len(who) == 0 {
		return domain.Validationf("at least one interviewer is required")
	}
	in.Interviewers = who
	return nil
}

func (s Service) CreateRound(ctx context.Context, in CreateRoundInput) (domain.Round, error) {
	if err := in.normalize(); err != nil {
		return domain.Round{}, err
	}
	round := domain.Round{
		ID:             uuid.NewString(),
		ApplicationID:  in.ApplicationID,
		StageID:        in.StageID,
		EvaluationKind: in.EvaluationKind,
		Status:         domain.RoundPlanned,
		Interviewers:   in.Interviewers,
		CreatedAt:      s.now(),
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Round{}, err
	}
	defer tx.Rollback()
	if err := s.Store.InsertRound(ctx, tx, round); err != nil {
		return domain.Round{}, err
	}
	if err := s.Events.Append(ctx, tx, events.TypeRoundCreated, "round", round.ID, in.ActorID, events.EventPayload{
		"application_id":  round.ApplicationID,
		"stage_id":        round.StageID,
		"evaluation_kind": round.EvaluationKind,
		"interviewers":    round.Interviewers,
	}); err != nil {
		return domain.Round{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Round{}, err
	}
	return round, nil
}

func (s Service) Round(ctx context.Context, id string) (domain.Round, error) {
	return s.Store.GetRound(ctx, nil, id)
}

type SubmitFeedbackInput struct {
	RoundID     string
	SubmittedBy string
	Decision    domain.Decision
	Notes       string
}

type FeedbackResult struct {
	domain.Feedback
	RoundComplete bool `json:"roundComplete"`
	// SignalApplied is false when the derived signal was only recorded, for
	// example because the application already left the round's stage.
	SignalApplied bool `json:"signalApplied"`
}

// SubmitFeedback stores one interviewer's decision for a round. The derived
// signal is emitted after commit; a failed or unapplied emission is logged
// and the feedback stands.
func (s Service) SubmitFeedback(ctx context.Context, in SubmitFeedbackInput) (FeedbackResult, error) {
	in.SubmittedBy = strings.TrimSpace(in.SubmittedBy)
	if in.SubmittedBy == "" {
		return FeedbackResult{}, domain.Unauthorizedf("feedback submitter is unknown")
	}
	disposition, ok := in.Decision.Disposition()
	if !ok {
		return FeedbackResult{}, domain.Validationf("decision must be PASS, FAIL or NEUTRAL, got %q", in.Decision)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return FeedbackResult{}, err
	}
	defer tx.Rollback()
	round, err := s.Store.GetRound(ctx, tx, in.RoundID)
	if err != nil {
		return FeedbackResult{}, err
	}
	if !slices.Contains(round.Interviewers, in.SubmittedBy) {
		return FeedbackResult{}, domain.Unauthorizedf("%s is not assigned to round %s", in.SubmittedBy, round.ID)
	}
	fb := domain.Feedback{
		ID:          uuid.NewString(),
		RoundID:     round.ID,
		SubmittedBy: in.SubmittedBy,
		Decision:    in.Decision,
		Notes:       strings.TrimSpace(in.Notes),
		CreatedAt:   s.now(),
	}
	if err := s.Store.InsertFeedback(ctx, tx, fb); err != nil {
		return FeedbackResult{}, err
	}
	count, assigned, err := s.Store.Counts(ctx, tx, round.ID)
	if err != nil {
		return FeedbackResult{}, err
	}
	complete := count >= assigned
	next := round.Status
	switch {
	case complete:
		next = domain.RoundCompleted
	case round.Status == domain.RoundPlanned:
		next = domain.RoundInProgress
	}
	if next != round.Status {
		if err := s.Store.SetRoundStatus(ctx, tx, round.ID, next); err != nil {
			return FeedbackResult{}, err
		}
	}
	if err := s.Events.Append(ctx, tx, events.TypeFeedbackSubmitted, "round", round.ID, in.SubmittedBy, events.EventPayload{
		"feedback_id":    fb.ID,
		"decision":       fb.Decision,
		"round_status":   next,
		"round_complete": complete,
	}); err != nil {
		return FeedbackResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return FeedbackResult{}, err
	}

	applied := s.emit(ctx, round, fb, disposition)
	return FeedbackResult{Feedback: fb, RoundComplete: complete, SignalApplied: applied}, nil
}

func (s Service) emit(ctx context.Context, round domain.Round, fb domain.Feedback, d domain.Disposition) bool {
	in := signals.RecordInput{
		ApplicationID: round.ApplicationID,
		StageID:       round.StageID,
		SourceID:      round.EvaluationKind + "/" + fb.SubmittedBy,
		Disposition:   d,
		ActorID:       fb.SubmittedBy,
	}
	fields := map[string]interface{}{
		"application_id": round.ApplicationID,
		"stage_id":       round.StageID,
		"round_id":       round.ID,
		"source_id":      in.SourceID,
	}
	gs, err := s.Core.EmitSignal(boundary.WithService(ctx, boundary.ServiceInterview), in)
	if err != nil {
		s.log().WithError(err).Warn("feedback signal emission failed", fields)
		return false
	}
	if !gs.Applied {
		fields["status"] = gs.Status
		fields["current_stage_id"] = gs.CurrentStageID
		s.log().Warn("feedback signal recorded but not applied", fields)
	}
	return gs.Applied
}

func (s Service) Feedback(ctx context.Context, roundID string) ([]domain.Feedback, error) {
	if _, err := s.Store.GetRound(ctx, nil, roundID); err != nil {
		return nil, err
	}
	return s.Store.ListFeedback(ctx, roundID)
}
