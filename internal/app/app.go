// Package app assembles a running hiregate core from service configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hiregate/internal/boundary"
	"hiregate/internal/config"
	"hiregate/internal/db"
	"hiregate/internal/dispatch"
	"hiregate/internal/domain"
	"hiregate/internal/intake"
	"hiregate/internal/interview"
	"hiregate/internal/lock"
	"hiregate/internal/logger"
	"hiregate/internal/migrate"
	"hiregate/internal/pipeline"
	"hiregate/internal/provision"
	"hiregate/internal/repo"
	"hiregate/internal/tokens"
)

type App struct {
	Config     *config.Service
	DB         *sql.DB
	Log        logger.Logger
	Repo       repo.Repo
	Locks      lock.Locker
	Dispatcher *dispatch.Dispatcher
	Machine    pipeline.Machine
	Gateway    boundary.Gateway
	Intake     intake.Service
	Interview  interview.Service

	closers []func() error
}

// Open migrates the workspace database and wires every component. Callers
// must Close the result.
func Open(ctx context.Context, cfg *config.Service, log logger.Logger) (*App, error) {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	conn, err := db.Open(db.Config{Workspace: cfg.Workspace})
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, DB: conn, Log: log, Repo: repo.Repo{DB: conn}}
	a.closers = append(a.closers, conn.Close)
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		a.Close()
		return nil, err
	}
	if a.Locks, err = a.openLocks(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Dispatcher = dispatch.New(a.Repo, log)
	a.Dispatcher.MaxAttempts = cfg.Dispatch.MaxAttempts
	a.Dispatcher.Interval = cfg.Dispatch.Interval
	a.Dispatcher.Lease = cfg.Dispatch.Lease
	if err := wireSinks(ctx, cfg, a.Dispatcher, log); err != nil {
		a.Close()
		return nil, err
	}

	a.Machine = pipeline.New(conn, a.Locks, a.Dispatcher, log)
	tm := tokens.Manager{Repo: a.Repo, Events: a.Machine.Events, TTL: cfg.Token.TTL}
	a.Gateway = boundary.Gateway{Machine: a.Machine, Tokens: tm}
	a.Intake = intake.New(conn, a.Gateway, log)
	a.Gateway.Tokens.Applications = a.Intake
	a.Interview = interview.New(conn, a.Gateway, log)
	return a, nil
}

func (a *App) openLocks(ctx context.Context) (lock.Locker, error) {
	if a.Config.Lock.Backend != config.LockRedis {
		return lock.NewMutexMap(), nil
	}
	rl := lock.NewRedis(redis.NewClient(&redis.Options{
		Addr:     a.Config.Lock.Redis.Address,
		Password: a.Config.Lock.Redis.Password,
		DB:       a.Config.Lock.Redis.DB,
	}), a.Config.Lock.TTL, a.Log)
	a.closers = append(a.closers, rl.Close)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rl.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("redis lock backend: %w", err)
	}
	return rl, nil
}

// wireSinks routes each action kind. The log sink is always present so that
// actions complete even with no external collaborator configured.
func wireSinks(ctx context.Context, cfg *config.Service, d *dispatch.Dispatcher, log logger.Logger) error {
	logSink := dispatch.LogSink{Log: log}
	for _, kind := range []domain.ActionKind{domain.ActionNotifyCandidate, domain.ActionInstantiateEvaluations, domain.ActionScheduleFollowup} {
		d.Route(kind, logSink)
	}
	for _, url := range cfg.Dispatch.Webhooks {
		hook := dispatch.WebhookSink{URL: url, Secret: cfg.Dispatch.WebhookSecret}
		d.Route(domain.ActionNotifyCandidate, hook)
		d.Route(domain.ActionScheduleFollowup, hook)
	}
	if cfg.Dispatch.SNSTopicARN != "" {
		sink, err := dispatch.NewSNSSink(ctx, cfg.Dispatch.AWSRegion, cfg.Dispatch.SNSTopicARN)
		if err != nil {
			return err
		}
		d.Route(domain.ActionNotifyCandidate, sink)
	}
	if cfg.Dispatch.SES.From != "" {
		sink, err := dispatch.NewSESSink(ctx, cfg.Dispatch.AWSRegion, cfg.Dispatch.SES.From, cfg.Dispatch.SES.To)
		if err != nil {
			return err
		}
		d.Route(domain.ActionScheduleFollowup, sink)
	}
	if cfg.Evaluations.ProvisionURL != "" {
		d.Route(domain.ActionInstantiateEvaluations, provision.New(cfg.Evaluations.ProvisionURL, cfg.Evaluations.Timeout))
	}
	return nil
}

// ImportPipelines validates a definition document and upserts every pipeline
// in one transaction.
func (a *App) ImportPipelines(ctx context.Context, doc *config.Document) ([]domain.Pipeline, error) {
	if doc == nil {
		return nil, domain.Validationf("no pipeline document")
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	now := time.Now().UTC()
	for _, p := range doc.Pipelines {
		if err := a.Repo.UpsertPipeline(ctx, tx, p, now); err != nil {
			return nil, fmt.Errorf("import pipeline %s: %w", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return doc.Pipelines, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
