package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"hiregate/internal/domain"
	"hiregate/internal/events"
	"hiregate/internal/gate"
	"hiregate/internal/metrics"
	"hiregate/internal/signals"
)

// GateState is returned to signal producers after each emission.
type GateState struct {
	ApplicationID string `json:"application_id"`
	StageID       string `json:"stage_id"`
	SignalID      string `json:"signal_id,omitempty"`
	gate.Evaluation
	// Applied is false when the signal was only recorded: its stage is not
	// the current one, the application is terminal or not attached yet.
	Applied        bool          `json:"applied"`
	Status         domain.Status `json:"status,omitempty"`
	CurrentStageID string        `json:"current_stage_id,omitempty"`
	IsTerminal     bool          `json:"is_terminal"`
	TransitionID   string        `json:"transition_id,omitempty"`
}

// EmitSignal records a signal and, when it concerns the application's current
// stage, recomputes the gate and applies the resolution. The sequence runs
// under the application lock so concurrent emitters cannot both act on a
// stale effective set.
func (m Machine) EmitSignal(ctx context.Context, in signals.RecordInput) (GateState, error) {
	ctx, span := tracer.Start(ctx, "pipeline.EmitSignal", trace.WithAttributes(
		attribute.String("application.id", in.ApplicationID),
		attribute.String("stage.id", in.StageID),
		attribute.String("signal.source", in.SourceID),
		attribute.String("signal.disposition", string(in.Disposition)),
	))
	defer span.End()
	start := time.Now()
	defer func() { metrics.GateDuration.Observe(time.Since(start).Seconds()) }()

	if err := in.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return GateState{}, err
	}
	release, err := m.acquire(ctx, in.ApplicationID)
	if err != nil {
		span.RecordError(err)
		return GateState{}, err
	}
	gs, st, p, tr, err := m.emitLocked(ctx, in)
	release()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return gs, err
	}
	span.SetAttributes(attribute.String("gate.resolution", string(gs.Resolution)))
	if tr != nil {
		m.afterCommit(ctx, st, p, *tr)
	}
	return gs, nil
}

func (m Machine) emitLocked(ctx context.Context, in signals.RecordInput) (GateState, domain.ApplicationPipelineState, domain.Pipeline, *domain.Transition, error) {
	gs := GateState{ApplicationID: in.ApplicationID, StageID: in.StageID}
	gs.Resolution = domain.ResolutionIncomplete
	var (
		st domain.ApplicationPipelineState
		p  domain.Pipeline
	)
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return gs, st, p, nil, err
	}
	defer tx.Rollback()

	sig, err := m.Signals.Record(ctx, tx, in)
	if err != nil {
		return gs, st, p, nil, err
	}
	gs.SignalID = sig.ID

	st, err = m.Repo.GetState(ctx, tx, in.ApplicationID)
	if errors.Is(err, domain.ErrNotFound) {
		return gs, st, p, nil, tx.Commit()
	}
	if err != nil {
		return gs, st, p, nil, err
	}
	gs.fill(st)
	if st.IsTerminal || st.CurrentStageID != in.StageID {
		return gs, st, p, nil, tx.Commit()
	}
	if p, err = m.Repo.GetPipeline(ctx, tx, st.PipelineID); err != nil {
		return gs, st, p, nil, err
	}
	st, tr, ev, err := m.evaluate(ctx, tx, st, p, in.ActorID)
	if err != nil {
		return gs, st, p, nil, err
	}
	if err := tx.Commit(); err != nil {
		return gs, st, p, nil, err
	}
	gs.Evaluation = ev
	gs.Applied = true
	gs.fill(st)
	if tr != nil {
		gs.TransitionID = tr.ID
	}
	return gs, st, p, tr, nil
}

// Recompute re-evaluates the current stage against its effective signals,
// e.g. after a reviewer replaced a blocking signal out of band.
func (m Machine) Recompute(ctx context.Context, applicationID, actorID string) (GateState, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Recompute", trace.WithAttributes(attribute.String("application.id", applicationID)))
	defer span.End()

	release, err := m.acquire(ctx, applicationID)
	if err != nil {
		return GateState{}, err
	}
	var (
		gs GateState
		st domain.ApplicationPipelineState
		p  domain.Pipeline
		tr *domain.Transition
	)
	err = func() error {
		tx, err := m.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if st, err = m.Repo.GetState(ctx, tx, applicationID); err != nil {
			return err
		}
		if st.IsTerminal {
			return domain.InvalidStatef("application %s is %s", applicationID, st.Status)
		}
		if p, err = m.Repo.GetPipeline(ctx, tx, st.PipelineID); err != nil {
			return err
		}
		var ev gate.Evaluation
		gs = GateState{ApplicationID: applicationID, StageID: st.CurrentStageID}
		if st, tr, ev, err = m.evaluate(ctx, tx, st, p, actorID); err != nil {
			return err
		}
		gs.Evaluation = ev
		gs.Applied = true
		gs.fill(st)
		if tr != nil {
			gs.TransitionID = tr.ID
		}
		return tx.Commit()
	}()
	release()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return gs, err
	}
	if tr != nil {
		m.afterCommit(ctx, st, p, *tr)
	}
	return gs, nil
}

func (m Machine) evaluate(ctx context.Context, tx *sql.Tx, st domain.ApplicationPipelineState, p domain.Pipeline, actorID string) (domain.ApplicationPipelineState, *domain.Transition, gate.Evaluation, error) {
	stage, ok := p.Stage(st.CurrentStageID)
	if !ok {
		return st, nil, gate.Evaluation{}, domain.InvalidStatef("stage %s is not part of pipeline %s", st.CurrentStageID, p.ID)
	}
	eff, err := m.Signals.EffectiveSignals(ctx, tx, st.ApplicationID, stage.ID)
	if err != nil {
		return st, nil, gate.Evaluation{}, err
	}
	ev := gate.Resolve(stage, eff)
	metrics.GateResolutions.WithLabelValues(string(ev.Resolution)).Inc()
	if err := m.Events.Append(ctx, tx, events.TypeGateEvaluated, "application", st.ApplicationID, actorID, events.EventPayload{
		"stage_id":   stage.ID,
		"resolution": ev.Resolution,
		"missing":    ev.Missing,
		"blocking":   ev.Blocking,
		"warnings":   ev.Warnings,
	}); err != nil {
		return st, nil, ev, err
	}
	next, tr, err := m.apply(ctx, tx, st, p, ev.Resolution, actorID)
	return next, tr, ev, err
}

func (gs *GateState) fill(st domain.ApplicationPipelineState) {
	gs.Status = st.Status
	gs.CurrentStageID = st.CurrentStageID
	gs.IsTerminal = st.IsTerminal
}
