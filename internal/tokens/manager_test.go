package tokens_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hiregate/internal/db"
	"hiregate/internal/domain"
	"hiregate/internal/migrate"
	"hiregate/internal/repo"
	"hiregate/internal/tokens"
)

type staticDirectory map[string]tokens.ApplicationInfo

func (d staticDirectory) Describe(_ context.Context, id string) (tokens.ApplicationInfo, error) {
	info, ok := d[id]
	if !ok {
		return tokens.ApplicationInfo{}, domain.NotFoundf("application %s", id)
	}
	return info, nil
}

type env struct {
	mgr   *tokens.Manager
	repo  repo.Repo
	clock *time.Time
}

var issuedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newEnv(t *testing.T) env {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	clock := issuedAt
	r := repo.Repo{DB: conn}
	mgr := &tokens.Manager{
		Repo:         r,
		Applications: staticDirectory{"app-1": {JobTitle: "Backend Engineer", AppliedAt: issuedAt.Add(-time.Minute)}},
		Now:          func() time.Time { return clock },
	}
	return env{mgr: mgr, repo: r, clock: &clock}
}

func TestResolveBeforeAttachReturnsPendingDefaults(t *testing.T) {
	e := newEnv(t)
	raw, tok, err := e.mgr.Issue(context.Background(), nil, "app-1", "intake")
	require.NoError(t, err)
	assert.Equal(t, issuedAt.Add(30*24*time.Hour), tok.ExpiresAt)
	assert.NotEqual(t, raw, tok.TokenHash)

	p, _, err := e.mgr.Resolve(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "Backend Engineer", p.JobTitle)
	assert.Equal(t, tokens.PendingStatus, p.Status)
	assert.Equal(t, tokens.PendingStageName, p.StageName)
	assert.Equal(t, p.AppliedAt, p.LastUpdatedAt)
}

func TestResolveProjectsStateRow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	raw, _, err := e.mgr.Issue(ctx, nil, "app-1", "intake")
	require.NoError(t, err)
	require.NoError(t, e.repo.UpsertPipeline(ctx, nil, domain.Pipeline{ID: "eng", Stages: []domain.Stage{{ID: "onsite", Name: "Onsite"}}}, issuedAt))
	updated := issuedAt.Add(2 * time.Hour)
	_, err = e.repo.InsertStateIfAbsent(ctx, nil, domain.ApplicationPipelineState{
		ApplicationID: "app-1", PipelineID: "eng", CurrentStageID: "onsite",
		Status: domain.StatusHold, EnteredStageAt: updated, UpdatedAt: updated,
	})
	require.NoError(t, err)

	p, _, err := e.mgr.Resolve(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, "Under Review", p.Status)
	assert.Equal(t, "Onsite", p.StageName)
	assert.Equal(t, updated, p.LastUpdatedAt)
}

func TestExpiryBoundary(t *testing.T) {
	e := newEnv(t)
	raw, tok, err := e.mgr.Issue(context.Background(), nil, "app-1", "intake")
	require.NoError(t, err)

	*e.clock = tok.ExpiresAt.Add(-time.Second)
	_, got, err := e.mgr.Resolve(context.Background(), raw)
	require.NoError(t, err)
	assert.False(t, got.Expired(*e.clock))

	*e.clock = tok.ExpiresAt
	_, _, err = e.mgr.Resolve(context.Background(), raw)
	assert.True(t, errors.Is(err, domain.ErrExpired))

	*e.clock = tok.ExpiresAt.Add(time.Second)
	_, _, err = e.mgr.Resolve(context.Background(), raw)
	assert.True(t, errors.Is(err, domain.ErrExpired))
	assert.False(t, errors.Is(err, domain.ErrNotFound))
}

func TestUnknownTokenIsNotFound(t *testing.T) {
	e := newEnv(t)
	_, _, err := e.mgr.Resolve(context.Background(), "never-issued")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, _, err = e.mgr.Resolve(context.Background(), "")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestIssueOncePerApplication(t *testing.T) {
	e := newEnv(t)
	_, _, err := e.mgr.Issue(context.Background(), nil, "app-1", "intake")
	require.NoError(t, err)
	_, _, err = e.mgr.Issue(context.Background(), nil, "app-1", "intake")
	assert.True(t, errors.Is(err, domain.ErrConflict))
}

func TestStatusLabels(t *testing.T) {
	assert.Equal(t, "In Progress", tokens.StatusLabel(domain.StatusActive))
	assert.Equal(t, "Hired", tokens.StatusLabel(domain.StatusHired))
	assert.Equal(t, "Not Selected", tokens.StatusLabel(domain.StatusRejected))
	assert.Equal(t, "Withdrawn", tokens.StatusLabel(domain.StatusWithdrawn))
}
