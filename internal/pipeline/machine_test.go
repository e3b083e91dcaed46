package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hiregate/internal/db"
	"hiregate/internal/domain"
	"hiregate/internal/lock"
	"hiregate/internal/logger"
	"hiregate/internal/migrate"
	"hiregate/internal/pipeline"
	"hiregate/internal/signals"
)

type dispatched struct {
	tr   domain.Transition
	kind domain.ActionKind
	due  time.Time
}

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []dispatched
	err   error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, tr domain.Transition, kind domain.ActionKind, _ map[string]any, due time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatched{tr: tr, kind: kind, due: due})
	return d.err
}

func (d *recordingDispatcher) kinds() []domain.ActionKind {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.ActionKind, 0, len(d.calls))
	for _, c := range d.calls {
		out = append(out, c.kind)
	}
	return out
}

type testEnv struct {
	Machine pipeline.Machine
	Actions *recordingDispatcher
	Ctx     context.Context
	Clock   time.Time
}

var engineering = domain.Pipeline{
	ID: "eng",
	Stages: []domain.Stage{
		{ID: "screen", Name: "Screen", Require: []string{"recruiter"}, BlockPolicy: domain.RejectOnBlock},
		{ID: "onsite", Name: "Onsite", Require: []string{"tech", "culture"}, BlockPolicy: domain.HoldOnBlock, HoldFollowupAfter: 48 * time.Hour},
		{ID: "offer", Name: "Offer", Require: []string{"offer"}, BlockPolicy: domain.RejectOnBlock},
	},
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	env := &testEnv{Actions: &recordingDispatcher{}, Ctx: context.Background(), Clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := pipeline.New(conn, lock.NewMutexMap(), env.Actions, logger.NewTestLogger(t))
	m.Now = func() time.Time { return env.Clock }
	env.Machine = m
	require.NoError(t, m.Repo.UpsertPipeline(env.Ctx, nil, engineering, env.Clock))
	return env
}

func (e *testEnv) emit(t *testing.T, app, stage, source string, d domain.Disposition) pipeline.GateState {
	t.Helper()
	gs, err := e.Machine.EmitSignal(e.Ctx, signals.RecordInput{ApplicationID: app, StageID: stage, SourceID: source, Disposition: d, ActorID: "eval-svc"})
	require.NoError(t, err)
	return gs
}

func (e *testEnv) state(t *testing.T, app string) domain.ApplicationPipelineState {
	t.Helper()
	st, err := e.Machine.Get(e.Ctx, app)
	require.NoError(t, err)
	return st
}

func (e *testEnv) toOnsite(t *testing.T, app string) {
	t.Helper()
	require.NoError(t, e.Machine.Attach(e.Ctx, app, "eng", "intake"))
	gs := e.emit(t, app, "screen", "recruiter", domain.DispositionAllow)
	require.Equal(t, "onsite", gs.CurrentStageID)
}

func TestAttachIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Machine.Attach(env.Ctx, "app-1", "eng", "intake"))
	first := env.state(t, "app-1")
	assert.Equal(t, "screen", first.CurrentStageID)
	assert.Equal(t, domain.StatusActive, first.Status)

	env.Clock = env.Clock.Add(time.Hour)
	require.NoError(t, env.Machine.Attach(env.Ctx, "app-1", "eng", "intake"))
	assert.Equal(t, first, env.state(t, "app-1"))

	trs, err := env.Machine.Transitions(env.Ctx, "app-1")
	require.NoError(t, err)
	assert.Len(t, trs, 1)
	assert.Equal(t, []domain.ActionKind{domain.ActionNotifyCandidate, domain.ActionInstantiateEvaluations}, env.Actions.kinds())
}

func TestAttachUnknownPipeline(t *testing.T) {
	env := newTestEnv(t)
	err := env.Machine.Attach(env.Ctx, "app-1", "missing", "intake")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestScenarioA_AllAllowAdvancesToOffer(t *testing.T) {
	env := newTestEnv(t)
	env.toOnsite(t, "app-1")

	gs := env.emit(t, "app-1", "onsite", "tech", domain.DispositionAllow)
	assert.Equal(t, domain.ResolutionIncomplete, gs.Resolution)
	assert.Equal(t, []string{"culture"}, gs.Missing)

	gs = env.emit(t, "app-1", "onsite", "culture", domain.DispositionAllow)
	assert.Equal(t, domain.ResolutionAdvance, gs.Resolution)
	assert.True(t, gs.Applied)
	assert.NotEmpty(t, gs.TransitionID)

	st := env.state(t, "app-1")
	assert.Equal(t, "offer", st.CurrentStageID)
	assert.Equal(t, domain.StatusActive, st.Status)
	assert.False(t, st.IsTerminal)
}

func TestScenarioB_BlockHoldsThenOverrideAdvances(t *testing.T) {
	env := newTestEnv(t)
	env.toOnsite(t, "app-1")

	env.emit(t, "app-1", "onsite", "culture", domain.DispositionAllow)
	gs := env.emit(t, "app-1", "onsite", "tech", domain.DispositionBlock)
	assert.Equal(t, domain.ResolutionHold, gs.Resolution)
	assert.Equal(t, []string{"tech"}, gs.Blocking)

	st := env.state(t, "app-1")
	assert.Equal(t, domain.StatusHold, st.Status)
	assert.Equal(t, "onsite", st.CurrentStageID)

	// A second BLOCK keeps the hold without another transition.
	env.emit(t, "app-1", "onsite", "tech", domain.DispositionBlock)
	trs, err := env.Machine.Transitions(env.Ctx, "app-1")
	require.NoError(t, err)
	assert.Len(t, trs, 3)

	gs = env.emit(t, "app-1", "onsite", "tech", domain.DispositionAllow)
	assert.Equal(t, domain.ResolutionAdvance, gs.Resolution)
	st = env.state(t, "app-1")
	assert.Equal(t, domain.StatusActive, st.Status)
	assert.Equal(t, "offer", st.CurrentStageID)
}

func TestHoldSchedulesFollowup(t *testing.T) {
	env := newTestEnv(t)
	env.toOnsite(t, "app-1")
	env.emit(t, "app-1", "onsite", "culture", domain.DispositionWarn)
	env.emit(t, "app-1", "onsite", "tech", domain.DispositionBlock)

	var followup *dispatched
	env.Actions.mu.Lock()
	for i := range env.Actions.calls {
		if env.Actions.calls[i].kind == domain.ActionScheduleFollowup {
			followup = &env.Actions.calls[i]
		}
	}
	env.Actions.mu.Unlock()
	require.NotNil(t, followup)
	assert.Equal(t, env.Clock.Add(48*time.Hour), followup.due)
	assert.Equal(t, domain.StatusHold, followup.tr.ToStatus)
}

func TestLastStageAdvanceHires(t *testing.T) {
	env := newTestEnv(t)
	env.toOnsite(t, "app-1")
	env.emit(t, "app-1", "onsite", "tech", domain.DispositionAllow)
	env.emit(t, "app-1", "onsite", "culture", domain.DispositionAllow)
	gs := env.emit(t, "app-1", "offer", "offer", domain.DispositionAllow)
	assert.Equal(t, domain.StatusHired, gs.Status)
	assert.True(t, gs.IsTerminal)
	assert.Equal(t, "offer", gs.CurrentStageID)
}

func TestTerminalStateIsFrozen(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Machine.Attach(env.Ctx, "app-1", "eng", "intake"))
	gs := env.emit(t, "app-1", "screen", "recruiter", domain.DispositionBlock)
	require.Equal(t, domain.StatusRejected, gs.Status)
	frozen := env.state(t, "app-1")

	env.Clock = env.Clock.Add(time.Hour)
	gs = env.emit(t, "app-1", "screen", "recruiter", domain.DispositionAllow)
	assert.False(t, gs.Applied)
	assert.NotEmpty(t, gs.SignalID, "signals are still recorded")

	for _, res := range []domain.Resolution{domain.ResolutionAdvance, domain.ResolutionReject, domain.ResolutionHold, domain.ResolutionIncomplete} {
		_, err := env.Machine.ApplyGateResolution(env.Ctx, "app-1", res, "reviewer")
		assert.True(t, errors.Is(err, domain.ErrInvalidState), "resolution %s", res)
	}
	_, err := env.Machine.Withdraw(env.Ctx, "app-1", "intake")
	assert.True(t, errors.Is(err, domain.ErrInvalidState))
	_, err = env.Machine.Recompute(env.Ctx, "app-1", "reviewer")
	assert.True(t, errors.Is(err, domain.ErrInvalidState))

	assert.Equal(t, frozen, env.state(t, "app-1"))
}

func TestLatestWinsDoesNotRewriteCommittedTransition(t *testing.T) {
	env := newTestEnv(t)
	env.toOnsite(t, "app-1")

	gs := env.emit(t, "app-1", "screen", "recruiter", domain.DispositionBlock)
	assert.False(t, gs.Applied)
	st := env.state(t, "app-1")
	assert.Equal(t, "onsite", st.CurrentStageID)
	assert.Equal(t, domain.StatusActive, st.Status)
}

func TestWithdraw(t *testing.T) {
	env := newTestEnv(t)
	env.toOnsite(t, "app-1")

	st, err := env.Machine.Withdraw(env.Ctx, "app-1", "intake")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWithdrawn, st.Status)
	assert.True(t, st.IsTerminal)
	assert.Equal(t, "onsite", st.CurrentStageID)

	again, err := env.Machine.Withdraw(env.Ctx, "app-1", "intake")
	require.NoError(t, err)
	assert.Equal(t, st.Version, again.Version)

	_, err = env.Machine.Withdraw(env.Ctx, "unknown", "intake")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestApplyGateResolutionManualOverride(t *testing.T) {
	env := newTestEnv(t)
	env.toOnsite(t, "app-1")
	st, err := env.Machine.ApplyGateResolution(env.Ctx, "app-1", domain.ResolutionHold, "reviewer")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusHold, st.Status)

	st, err = env.Machine.ApplyGateResolution(env.Ctx, "app-1", domain.ResolutionIncomplete, "reviewer")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusHold, st.Status)

	st, err = env.Machine.ApplyGateResolution(env.Ctx, "app-1", domain.ResolutionAdvance, "reviewer")
	require.NoError(t, err)
	assert.Equal(t, "offer", st.CurrentStageID)
	assert.Equal(t, domain.StatusActive, st.Status)

	_, err = env.Machine.ApplyGateResolution(env.Ctx, "app-1", "SKIP", "reviewer")
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestSignalBeforeAttachIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	gs := env.emit(t, "app-1", "screen", "recruiter", domain.DispositionAllow)
	assert.False(t, gs.Applied)
	assert.Equal(t, domain.ResolutionIncomplete, gs.Resolution)

	hist, err := env.Machine.Signals.History(env.Ctx, "app-1", "")
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestDispatchFailureDoesNotFailTransition(t *testing.T) {
	env := newTestEnv(t)
	env.Actions.err = errors.New("queue down")
	env.toOnsite(t, "app-1")
	assert.Equal(t, "onsite", env.state(t, "app-1").CurrentStageID)
}

func TestConcurrentEmittersProduceSingleTransition(t *testing.T) {
	env := newTestEnv(t)
	env.toOnsite(t, "app-1")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		for _, source := range []string{"tech", "culture"} {
			wg.Add(1)
			go func(source string) {
				defer wg.Done()
				_, err := env.Machine.EmitSignal(env.Ctx, signals.RecordInput{
					ApplicationID: "app-1", StageID: "onsite", SourceID: source,
					Disposition: domain.DispositionAllow, ActorID: "eval-svc",
				})
				assert.NoError(t, err)
			}(source)
		}
	}
	wg.Wait()

	trs, err := env.Machine.Transitions(env.Ctx, "app-1")
	require.NoError(t, err)
	fromOnsite := 0
	for _, tr := range trs {
		if tr.FromStageID == "onsite" {
			fromOnsite++
		}
	}
	assert.Equal(t, 1, fromOnsite)
	assert.Equal(t, "offer", env.state(t, "app-1").CurrentStageID)

	hist, err := env.Machine.Repo.SignalHistory(env.Ctx, nil, "app-1", "onsite")
	require.NoError(t, err)
	assert.Len(t, hist, 20)
}
