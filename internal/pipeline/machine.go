package pipeline

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"hiregate/internal/domain"
	"hiregate/internal/events"
	"hiregate/internal/lock"
	"hiregate/internal/logger"
	"hiregate/internal/repo"
	"hiregate/internal/signals"
)

var tracer = otel.Tracer("hiregate/internal/pipeline")

// ActionDispatcher receives side effects of committed transitions.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, tr domain.Transition, kind domain.ActionKind, payload map[string]any, due time.Time) error
}

// Machine owns every application's pipeline state row. All mutations of a
// given application run under its lock, inside one transaction.
type Machine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Signals signals.Store
	Events  events.Writer
	Locks   lock.Locker
	Actions ActionDispatcher
	Log     logger.Logger
	Now     func() time.Time
}

func New(db *sql.DB, locks lock.Locker, actions ActionDispatcher, log logger.Logger) Machine {
	r := repo.Repo{DB: db}
	ev := events.Writer{}
	return Machine{
		DB:      db,
		Repo:    r,
		Signals: signals.Store{Repo: r, Events: ev},
		Events:  ev,
		Locks:   locks,
		Actions: actions,
		Log:     log,
		Now:     time.Now,
	}
}

func (m Machine) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m Machine) log() logger.Logger {
	if m.Log != nil {
		return m.Log
	}
	return logger.NewNoOpLogger()
}

func (m Machine) acquire(ctx context.Context, applicationID string) (func(), error) {
	if m.Locks == nil {
		return func() {}, nil
	}
	return m.Locks.Acquire(ctx, applicationID)
}

// Attach creates the state row at the pipeline's first stage. A second attach
// for the same application is a no-op.
func (m Machine) Attach(ctx context.Context, applicationID, pipelineID, actorID string) error {
	if strings.TrimSpace(applicationID) == "" {
		return domain.Validationf("application_id is required")
	}
	if strings.TrimSpace(pipelineID) == "" {
		return domain.Validationf("pipeline_id is required")
	}
	release, err := m.acquire(ctx, applicationID)
	if err != nil {
		return err
	}
	tr, st, p, err := m.attachLocked(ctx, applicationID, pipelineID, actorID)
	release()
	if err != nil || tr == nil {
		return err
	}
	m.afterCommit(ctx, st, p, *tr)
	return nil
}

func (m Machine) attachLocked(ctx context.Context, applicationID, pipelineID, actorID string) (*domain.Transition, domain.ApplicationPipelineState, domain.Pipeline, error) {
	var st domain.ApplicationPipelineState
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, st, domain.Pipeline{}, err
	}
	defer tx.Rollback()

	p, err := m.Repo.GetPipeline(ctx, tx, pipelineID)
	if err != nil {
		return nil, st, p, err
	}
	if len(p.Stages) == 0 {
		return nil, st, p, domain.InvalidStatef("pipeline %s has no stages", pipelineID)
	}
	now := m.now()
	st = domain.ApplicationPipelineState{
		ApplicationID:  applicationID,
		PipelineID:     pipelineID,
		CurrentStageID: p.Stages[0].ID,
		Status:         domain.StatusActive,
		EnteredStageAt: now,
		UpdatedAt:      now,
		Version:        1,
	}
	inserted, err := m.Repo.InsertStateIfAbsent(ctx, tx, st)
	if err != nil {
		return nil, st, p, err
	}
	if !inserted {
		return nil, st, p, nil
	}
	tr := domain.Transition{
		ID:            uuid.NewString(),
		ApplicationID: applicationID,
		ToStageID:     st.CurrentStageID,
		ToStatus:      st.Status,
		CreatedAt:     now,
	}
	if err := m.Repo.InsertTransition(ctx, tx, tr); err != nil {
		return nil, st, p, err
	}
	if err := m.Events.Append(ctx, tx, events.TypeApplicationAttached, "application", applicationID, actorID, events.EventPayload{
		"pipeline_id":   pipelineID,
		"stage_id":      st.CurrentStageID,
		"transition_id": tr.ID,
	}); err != nil {
		return nil, st, p, err
	}
	if err := tx.Commit(); err != nil {
		return nil, st, p, err
	}
	return &tr, st, p, nil
}

// Get returns the current state row.
func (m Machine) Get(ctx context.Context, applicationID string) (domain.ApplicationPipelineState, error) {
	return m.Repo.GetState(ctx, nil, applicationID)
}

func (m Machine) Transitions(ctx context.Context, applicationID string) ([]domain.Transition, error) {
	return m.Repo.ListTransitions(ctx, nil, applicationID)
}

// ApplyGateResolution applies res to the application's state. Terminal rows
// reject every resolution with ErrInvalidState.
func (m Machine) ApplyGateResolution(ctx context.Context, applicationID string, res domain.Resolution, actorID string) (domain.ApplicationPipelineState, error) {
	if !res.Valid() {
		return domain.ApplicationPipelineState{}, domain.Validationf("unknown resolution %q", res)
	}
	release, err := m.acquire(ctx, applicationID)
	if err != nil {
		return domain.ApplicationPipelineState{}, err
	}
	var (
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
		if p, err = m.Repo.GetPipeline(ctx, tx, st.PipelineID); err != nil {
			return err
		}
		if st, tr, err = m.apply(ctx, tx, st, p, res, actorID); err != nil {
			return err
		}
		return tx.Commit()
	}()
	release()
	if err != nil {
		return st, err
	}
	if tr != nil {
		m.afterCommit(ctx, st, p, *tr)
	}
	return st, nil
}

// apply is the single mutation path for gate resolutions. It must run inside
// tx with the application lock held.
func (m Machine) apply(ctx context.Context, tx *sql.Tx, st domain.ApplicationPipelineState, p domain.Pipeline, res domain.Resolution, actorID string) (domain.ApplicationPipelineState, *domain.Transition, error) {
	if st.IsTerminal {
		return st, nil, domain.InvalidStatef("application %s is %s", st.ApplicationID, st.Status)
	}
	next, changed, err := nextState(st, p, res, m.now())
	if err != nil || !changed {
		return st, nil, err
	}
	tr := domain.Transition{
		ID:            uuid.NewString(),
		ApplicationID: st.ApplicationID,
		FromStageID:   st.CurrentStageID,
		ToStageID:     next.CurrentStageID,
		FromStatus:    st.Status,
		ToStatus:      next.Status,
		Resolution:    res,
		CreatedAt:     next.UpdatedAt,
	}
	if err := m.commitTransition(ctx, tx, st, next, tr, events.TypePipelineTransitioned, actorID); err != nil {
		return st, nil, err
	}
	next.Version = st.Version + 1
	return next, &tr, nil
}

func (m Machine) commitTransition(ctx context.Context, tx *sql.Tx, from, to domain.ApplicationPipelineState, tr domain.Transition, evtType, actorID string) error {
	if err := m.Repo.UpdateState(ctx, tx, to, from.Version); err != nil {
		return err
	}
	if err := m.Repo.InsertTransition(ctx, tx, tr); err != nil {
		return err
	}
	return m.Events.Append(ctx, tx, evtType, "application", tr.ApplicationID, actorID, events.EventPayload{
		"transition_id": tr.ID,
		"from_stage_id": tr.FromStageID,
		"to_stage_id":   tr.ToStageID,
		"from_status":   tr.FromStatus,
		"to_status":     tr.ToStatus,
		"resolution":    tr.Resolution,
	})
}

// Withdraw moves a non-terminal application to WITHDRAWN. Withdrawing twice
// is a no-op; withdrawing a hired or rejected application is ErrInvalidState.
func (m Machine) Withdraw(ctx context.Context, applicationID, actorID string) (domain.ApplicationPipelineState, error) {
	if strings.TrimSpace(applicationID) == "" {
		return domain.ApplicationPipelineState{}, domain.Validationf("application_id is required")
	}
	release, err := m.acquire(ctx, applicationID)
	if err != nil {
		return domain.ApplicationPipelineState{}, err
	}
	var (
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
		if st.Status == domain.StatusWithdrawn {
			return nil
		}
		if st.IsTerminal {
			return domain.InvalidStatef("application %s is already %s", applicationID, st.Status)
		}
		if p, err = m.Repo.GetPipeline(ctx, tx, st.PipelineID); err != nil {
			return err
		}
		next := st
		next.Status = domain.StatusWithdrawn
		next.IsTerminal = true
		next.UpdatedAt = m.now()
		t := domain.Transition{
			ID:            uuid.NewString(),
			ApplicationID: applicationID,
			FromStageID:   st.CurrentStageID,
			ToStageID:     st.CurrentStageID,
			FromStatus:    st.Status,
			ToStatus:      next.Status,
			CreatedAt:     next.UpdatedAt,
		}
		if err := m.commitTransition(ctx, tx, st, next, t, events.TypePipelineWithdrawn, actorID); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		next.Version = st.Version + 1
		st, tr = next, &t
		return nil
	}()
	release()
	if err != nil {
		return st, err
	}
	if tr != nil {
		m.afterCommit(ctx, st, p, *tr)
	}
	return st, nil
}
