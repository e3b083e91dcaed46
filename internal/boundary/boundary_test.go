package boundary_test

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
	"hiregate/internal/lock"
	"hiregate/internal/logger"
	"hiregate/internal/migrate"
	"hiregate/internal/pipeline"
	"hiregate/internal/repo"
	"hiregate/internal/signals"
	"hiregate/internal/tokens"
)

func newGateway(t *testing.T) boundary.Gateway {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	m := pipeline.New(conn, lock.NewMutexMap(), nil, logger.NewTestLogger(t))
	require.NoError(t, m.Repo.UpsertPipeline(context.Background(), nil, domain.Pipeline{
		ID:     "eng",
		Stages: []domain.Stage{{ID: "screen", Name: "Screen", Require: []string{"recruiter"}, BlockPolicy: domain.RejectOnBlock}},
	}, time.Now()))
	return boundary.Gateway{Machine: m, Tokens: tokens.Manager{Repo: repo.Repo{DB: conn}}}
}

func as(svc boundary.Service) context.Context {
	return boundary.WithService(context.Background(), svc)
}

func TestGrantsEnforceSingleWriter(t *testing.T) {
	g := newGateway(t)

	err := g.Attach(as(boundary.ServiceInterview), "app-1", "eng")
	assert.True(t, errors.Is(err, domain.ErrAuthorization))
	err = g.Attach(context.Background(), "app-1", "eng")
	assert.True(t, errors.Is(err, domain.ErrAuthorization))
	require.NoError(t, g.Attach(as(boundary.ServiceIntake), "app-1", "eng"))

	in := signals.RecordInput{ApplicationID: "app-1", StageID: "screen", SourceID: "recruiter", Disposition: domain.DispositionAllow}
	_, err = g.EmitSignal(as(boundary.ServiceIntake), in)
	assert.True(t, errors.Is(err, domain.ErrAuthorization))

	gs, err := g.EmitSignal(as(boundary.ServiceEvaluation), in)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusHired, gs.Status)

	_, err = g.Withdraw(as(boundary.ServiceEvaluation), "app-1")
	assert.True(t, errors.Is(err, domain.ErrAuthorization))
	_, err = g.ApplyResolution(as(boundary.ServiceIntake), "app-1", domain.ResolutionAdvance, "")
	assert.True(t, errors.Is(err, domain.ErrAuthorization))
}

func TestEmitSignalDefaultsActorToService(t *testing.T) {
	g := newGateway(t)
	require.NoError(t, g.Attach(as(boundary.ServiceIntake), "app-1", "eng"))
	_, err := g.EmitSignal(as(boundary.ServiceEvaluation), signals.RecordInput{ApplicationID: "app-1", StageID: "screen", SourceID: "recruiter", Disposition: domain.DispositionWarn})
	require.NoError(t, err)

	hist, err := g.Signals(as(boundary.ServiceReview), "app-1", "")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "evaluation", hist[0].ActorID)
}

func TestPublicStatusChecksExpiryAgain(t *testing.T) {
	g := newGateway(t)
	issued := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g.Tokens.Now = func() time.Time { return issued }
	raw, tok, err := g.Tokens.Issue(context.Background(), nil, "app-1", "intake")
	require.NoError(t, err)

	// The lookup clock still sees a live token; the boundary clock does not.
	g.Now = func() time.Time { return tok.ExpiresAt }
	_, err = g.PublicStatus(context.Background(), raw)
	assert.True(t, errors.Is(err, domain.ErrExpired))

	g.Now = func() time.Time { return tok.ExpiresAt.Add(-time.Second) }
	p, err := g.PublicStatus(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, tokens.PendingStatus, p.Status)
}

func TestIssueTokenOnlyForIntake(t *testing.T) {
	g := newGateway(t)
	for _, svc := range []boundary.Service{boundary.ServiceEvaluation, boundary.ServiceInterview, boundary.ServiceReview} {
		_, _, err := g.IssueToken(as(svc), "app-1")
		assert.True(t, errors.Is(err, domain.ErrAuthorization), svc)
	}
	_, _, err := g.IssueToken(context.Background(), "app-1")
	assert.True(t, errors.Is(err, domain.ErrAuthorization))

	raw, tok, err := g.IssueToken(as(boundary.ServiceIntake), "app-1")
	require.NoError(t, err)
	assert.Len(t, raw, 64)
	assert.Equal(t, "app-1", tok.ApplicationID)

	p, err := g.PublicStatus(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, tokens.PendingStatus, p.Status)
}

func TestPipelineReadRequiresService(t *testing.T) {
	g := newGateway(t)
	_, err := g.Pipeline(context.Background(), "eng")
	assert.True(t, errors.Is(err, domain.ErrAuthorization))

	p, err := g.Pipeline(as(boundary.ServiceReview), "eng")
	require.NoError(t, err)
	require.Len(t, p.Stages, 1)
	assert.Equal(t, "screen", p.Stages[0].ID)

	_, err = g.Pipeline(as(boundary.ServiceIntake), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestParseService(t *testing.T) {
	svc, ok := boundary.ParseService("interview")
	assert.True(t, ok)
	assert.Equal(t, boundary.ServiceInterview, svc)
	_, ok = boundary.ParseService("payroll")
	assert.False(t, ok)
}
