package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hiregate/internal/app"
	"hiregate/internal/boundary"
	"hiregate/internal/config"
	"hiregate/internal/domain"
	"hiregate/internal/intake"
	"hiregate/internal/lock"
	"hiregate/internal/logger"
	"hiregate/internal/signals"
)

func testConfig(t *testing.T) *config.Service {
	t.Helper()
	return &config.Service{
		Workspace: t.TempDir(),
		Lock:      config.LockConfig{Backend: config.LockLocal, TTL: 5 * time.Second},
		Dispatch:  config.DispatchConfig{Interval: time.Second, MaxAttempts: 3},
		Token:     config.TokenConfig{TTL: config.DefaultTokenTTL},
	}
}

func TestOpenWiresCoreEndToEnd(t *testing.T) {
	ctx := context.Background()
	a, err := app.Open(ctx, testConfig(t), logger.NewTestLogger(t))
	require.NoError(t, err)
	defer a.Close()

	imported, err := a.ImportPipelines(ctx, config.Default())
	require.NoError(t, err)
	require.NotEmpty(t, imported)
	pipelineID := imported[0].ID
	first := imported[0].Stages[0]

	job, err := a.Intake.CreateJob(ctx, intake.CreateJobInput{Title: "SRE", PipelineID: pipelineID})
	require.NoError(t, err)
	created, err := a.Intake.CreateApplication(ctx, intake.CreateApplicationInput{JobID: job.ID, CandidateID: "c-1"})
	require.NoError(t, err)
	require.True(t, created.Attached)

	gs, err := a.Gateway.EmitSignal(boundary.WithService(ctx, boundary.ServiceEvaluation), signals.RecordInput{
		ApplicationID: created.Application.ID,
		StageID:       first.ID,
		SourceID:      first.Require[0],
		Disposition:   domain.DispositionAllow,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionAdvance, gs.Resolution)

	// attach and advance each recorded their actions; the log sink completes them.
	n, err := a.Dispatcher.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	done, err := a.Gateway.Actions(boundary.WithService(ctx, boundary.ServiceReview), created.Application.ID, domain.ActionDone)
	require.NoError(t, err)
	assert.Len(t, done, 4)

	p, err := a.Gateway.PublicStatus(ctx, created.Token)
	require.NoError(t, err)
	assert.Equal(t, "SRE", p.JobTitle)
	assert.Equal(t, imported[0].Stages[1].Name, p.StageName)
}

func TestImportRejectsInvalidDocument(t *testing.T) {
	ctx := context.Background()
	a, err := app.Open(ctx, testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()
	_, err = a.ImportPipelines(ctx, &config.Document{Pipelines: []domain.Pipeline{{ID: "empty"}}})
	assert.Error(t, err)
	_, err = a.ImportPipelines(ctx, nil)
	assert.Error(t, err)
}

func TestOpenWithRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Lock.Backend = config.LockRedis
	cfg.Lock.Redis.Address = mr.Addr()

	a, err := app.Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	_, ok := a.Locks.(*lock.RedisLock)
	assert.True(t, ok)
	require.NoError(t, a.Close())
}

func TestOpenFailsWhenRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	cfg := testConfig(t)
	cfg.Lock.Backend = config.LockRedis
	cfg.Lock.Redis.Address = addr

	_, err := app.Open(context.Background(), cfg, nil)
	assert.Error(t, err)
}
