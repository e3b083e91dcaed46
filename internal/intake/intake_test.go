package intake_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hiregate/internal/boundary"
	"hiregate/internal/db"
	"hiregate/internal/domain"
	"hiregate/internal/intake"
	"hiregate/internal/lock"
	"hiregate/internal/logger"
	"hiregate/internal/migrate"
	"hiregate/internal/pipeline"
	"hiregate/internal/signals"
	"hiregate/internal/tokens"
)

type fixture struct {
	Intake  intake.Service
	Gateway boundary.Gateway
	Ctx     context.Context
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	log := logger.NewTestLogger(t)
	m := pipeline.New(conn, lock.NewMutexMap(), nil, log)
	require.NoError(t, m.Repo.UpsertPipeline(context.Background(), nil, domain.Pipeline{
		ID: "eng",
		Stages: []domain.Stage{
			{ID: "screen", Name: "Phone Screen", Require: []string{"recruiter"}, BlockPolicy: domain.RejectOnBlock},
			{ID: "offer", Name: "Offer", Require: []string{"offer"}, BlockPolicy: domain.RejectOnBlock},
		},
	}, time.Now()))
	tm := tokens.Manager{Repo: m.Repo, Events: m.Events}
	gw := boundary.Gateway{Machine: m, Tokens: tm}
	svc := intake.New(conn, gw, log)
	gw.Tokens.Applications = svc
	return fixture{Intake: svc, Gateway: gw, Ctx: context.Background()}
}

func (f fixture) apply(t *testing.T) intake.Created {
	t.Helper()
	job, err := f.Intake.CreateJob(f.Ctx, intake.CreateJobInput{Title: "Backend Engineer", PipelineID: "eng"})
	require.NoError(t, err)
	created, err := f.Intake.CreateApplication(f.Ctx, intake.CreateApplicationInput{JobID: job.ID, CandidateID: "cand-1"})
	require.NoError(t, err)
	return created
}

func TestCreateApplicationAttachesAndIssuesToken(t *testing.T) {
	f := newFixture(t)
	created := f.apply(t)
	assert.True(t, created.Attached)
	assert.Len(t, created.Token, 64)
	assert.Equal(t, "eng", created.Application.PipelineID)

	p, err := f.Gateway.PublicStatus(f.Ctx, created.Token)
	require.NoError(t, err)
	assert.Equal(t, "Backend Engineer", p.JobTitle)
	assert.Equal(t, "In Progress", p.Status)
	assert.Equal(t, "Phone Screen", p.StageName)
	assert.Equal(t, created.Application.CreatedAt, p.AppliedAt)
}

func TestCreateJobValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.Intake.CreateJob(f.Ctx, intake.CreateJobInput{Title: "", PipelineID: "eng"})
	assert.True(t, errors.Is(err, domain.ErrValidation))
	_, err = f.Intake.CreateJob(f.Ctx, intake.CreateJobInput{Title: "x", PipelineID: "missing"})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = f.Intake.CreateApplication(f.Ctx, intake.CreateApplicationInput{JobID: "nope", CandidateID: "c"})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestWithdrawSetsFlagAndFreezesPipeline(t *testing.T) {
	f := newFixture(t)
	created := f.apply(t)

	app, err := f.Intake.Withdraw(f.Ctx, created.Application.ID)
	require.NoError(t, err)
	assert.True(t, app.Withdrawn)

	st, err := f.Gateway.Machine.Get(f.Ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWithdrawn, st.Status)

	again, err := f.Intake.Withdraw(f.Ctx, app.ID)
	require.NoError(t, err)
	assert.True(t, again.Withdrawn)

	err = f.Intake.Attach(f.Ctx, app.ID)
	assert.True(t, errors.Is(err, domain.ErrInvalidState))
}

func TestWithdrawRefusedAfterRejection(t *testing.T) {
	f := newFixture(t)
	created := f.apply(t)
	ctx := boundary.WithService(f.Ctx, boundary.ServiceEvaluation)
	gs, err := f.Gateway.EmitSignal(ctx, signals.RecordInput{ApplicationID: created.Application.ID, StageID: "screen", SourceID: "recruiter", Disposition: domain.DispositionBlock})
	require.NoError(t, err)
	require.Equal(t, domain.StatusRejected, gs.Status)

	_, err = f.Intake.Withdraw(f.Ctx, created.Application.ID)
	assert.True(t, errors.Is(err, domain.ErrInvalidState))
	app, err := f.Intake.Application(f.Ctx, created.Application.ID)
	require.NoError(t, err)
	assert.False(t, app.Withdrawn)
}

func TestDescribeUnknownApplication(t *testing.T) {
	f := newFixture(t)
	_, err := f.Intake.Describe(f.Ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

// tokenlessCore refuses tokens but otherwise behaves like the gateway.
type tokenlessCore struct {
	boundary.Gateway
	callers []boundary.Service
}

func (c *tokenlessCore) IssueToken(ctx context.Context, _ string) (string, domain.AccessToken, error) {
	svc, _ := boundary.ServiceFrom(ctx)
	c.callers = append(c.callers, svc)
	return "", domain.AccessToken{}, errors.New("token store unavailable")
}

func TestCreateApplicationWithoutTokenStillAttaches(t *testing.T) {
	f := newFixture(t)
	core := &tokenlessCore{Gateway: f.Gateway}
	f.Intake.Core = core

	created := f.apply(t)
	assert.True(t, created.Attached)
	assert.Empty(t, created.Token)
	assert.True(t, created.TokenExpiresAt.IsZero())
	assert.Equal(t, []boundary.Service{boundary.ServiceIntake}, core.callers)

	app, err := f.Intake.Application(f.Ctx, created.Application.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Application.ID, app.ID)
}

func TestCreateJobReadsPipelineAsIntake(t *testing.T) {
	f := newFixture(t)
	_, err := f.Gateway.Pipeline(f.Ctx, "eng")
	assert.True(t, errors.Is(err, domain.ErrAuthorization))

	job, err := f.Intake.CreateJob(f.Ctx, intake.CreateJobInput{Title: "SRE", PipelineID: "eng"})
	require.NoError(t, err)
	assert.Equal(t, "eng", job.PipelineID)
}
