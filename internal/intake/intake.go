// Package intake owns jobs and applications. It is the only writer of those
// rows and the only caller allowed to attach or withdraw an application.
package intake

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"hiregate/internal/boundary"
	"hiregate/internal/domain"
	"hiregate/internal/events"
	"hiregate/internal/logger"
	"hiregate/internal/tokens"
)

// Core is the slice of the gateway intake calls. Tokens and pipeline
// definitions belong to the core and are reached only through it.
type Core interface {
	boundary.Core
	IssueToken(ctx context.Context, applicationID string) (string, domain.AccessToken, error)
	Pipeline(ctx context.Context, id string) (domain.Pipeline, error)
}

type Service struct {
	DB     *sql.DB
	Store  Store
	Core   Core
	Events events.Writer
	Log    logger.Logger
	Now    func() time.Time
}

var (
	_ tokens.ApplicationDirectory = Service{}
	_ Core                        = boundary.Gateway{}
)

func New(db *sql.DB, core Core, log logger.Logger) Service {
	return Service{
		DB:    db,
		Store: Store{DB: db},
		Core:  core,
		Log:   log,
		Now:   time.Now,
	}
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

func (s Service) asIntake(ctx context.Context) context.Context {
	return boundary.WithService(ctx, boundary.ServiceIntake)
}

type CreateJobInput struct {
	Title      string
	PipelineID string
	ActorID    string
}

func (s Service) CreateJob(ctx context.Context, in CreateJobInput) (domain.Job, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.PipelineID = strings.TrimSpace(in.PipelineID)
	if in.Title == "" || in.PipelineID == "" {
		return domain.Job{}, domain.Validationf("title and pipeline_id are required")
	}
	if _, err := s.Core.Pipeline(s.asIntake(ctx), in.PipelineID); err != nil {
		return domain.Job{}, err
	}
	job := domain.Job{ID: uuid.NewString(), Title: in.Title, PipelineID: in.PipelineID, CreatedAt: s.now()}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()
	if err := s.Store.InsertJob(ctx, tx, job); err != nil {
		return domain.Job{}, err
	}
	if err := s.Events.Append(ctx, tx, events.TypeJobCreated, "job", job.ID, in.ActorID, events.EventPayload{
		"title":       job.Title,
		"pipeline_id": job.PipelineID,
	}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

type CreateApplicationInput struct {
	JobID       string
	CandidateID string
	ActorID     string
}

// Created carries the raw candidate token; it is not retrievable again.
type Created struct {
	Application    domain.Application `json:"application"`
	Token          string             `json:"token"`
	TokenExpiresAt time.Time          `json:"token_expires_at" format:"date-time"`
	Attached       bool               `json:"attached"`
}

// CreateApplication stores the application, asks the core for its token and
// then attaches it to the job's pipeline. A failed token issue or attach
// leaves the application in place: Created.Token stays empty or Attached
// stays false, and the token projects as pending until attach succeeds.
func (s Service) CreateApplication(ctx context.Context, in CreateApplicationInput) (Created, error) {
	in.JobID = strings.TrimSpace(in.JobID)
	in.CandidateID = strings.TrimSpace(in.CandidateID)
	if in.JobID == "" || in.CandidateID == "" {
		return Created{}, domain.Validationf("job_id and candidate_id are required")
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Created{}, err
	}
	defer tx.Rollback()
	job, err := s.Store.GetJob(ctx, tx, in.JobID)
	if err != nil {
		return Created{}, err
	}
	app := domain.Application{
		ID:          uuid.NewString(),
		JobID:       job.ID,
		PipelineID:  job.PipelineID,
		CandidateID: in.CandidateID,
		CreatedAt:   s.now(),
	}
	if err := s.Store.InsertApplication(ctx, tx, app); err != nil {
		return Created{}, err
	}
	if err := s.Events.Append(ctx, tx, events.TypeApplicationCreated, "application", app.ID, in.ActorID, events.EventPayload{
		"job_id":       app.JobID,
		"pipeline_id":  app.PipelineID,
		"candidate_id": app.CandidateID,
	}); err != nil {
		return Created{}, err
	}
	if err := tx.Commit(); err != nil {
		return Created{}, err
	}

	out := Created{Application: app}
	raw, tok, err := s.Core.IssueToken(s.asIntake(ctx), app.ID)
	if err != nil {
		s.log().WithError(err).Warn("token issue after application create failed", map[string]interface{}{
			"application_id": app.ID,
		})
	} else {
		out.Token, out.TokenExpiresAt = raw, tok.ExpiresAt
	}
	if err := s.Attach(ctx, app.ID); err != nil {
		s.log().WithError(err).Warn("attach after application create failed", map[string]interface{}{
			"application_id": app.ID,
			"pipeline_id":    app.PipelineID,
		})
		return out, nil
	}
	out.Attached = true
	return out, nil
}

// Attach (re)sends the attach call for an existing application.
func (s Service) Attach(ctx context.Context, applicationID string) error {
	app, err := s.Store.GetApplication(ctx, nil, applicationID)
	if err != nil {
		return err
	}
	if app.Withdrawn {
		return domain.InvalidStatef("application %s is withdrawn", app.ID)
	}
	return s.Core.Attach(s.asIntake(ctx), app.ID, app.PipelineID)
}

// Withdraw moves the pipeline to WITHDRAWN and then sets the application flag.
// An application that never got attached is flagged directly. HIRED and
// REJECTED applications are refused and keep the flag clear.
func (s Service) Withdraw(ctx context.Context, applicationID string) (domain.Application, error) {
	app, err := s.Store.GetApplication(ctx, nil, applicationID)
	if err != nil {
		return domain.Application{}, err
	}
	if _, err := s.Core.Withdraw(s.asIntake(ctx), app.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Application{}, err
	}
	if app.Withdrawn {
		return app, nil
	}
	if err := s.Store.MarkWithdrawn(ctx, nil, app.ID); err != nil {
		return domain.Application{}, err
	}
	app.Withdrawn = true
	return app, nil
}

func (s Service) Application(ctx context.Context, id string) (domain.Application, error) {
	return s.Store.GetApplication(ctx, nil, id)
}

// Describe serves the candidate projection's job title and applied date.
func (s Service) Describe(ctx context.Context, applicationID string) (tokens.ApplicationInfo, error) {
	app, err := s.Store.GetApplication(ctx, nil, applicationID)
	if err != nil {
		return tokens.ApplicationInfo{}, err
	}
	job, err := s.Store.GetJob(ctx, nil, app.JobID)
	if err != nil {
		return tokens.ApplicationInfo{}, err
	}
	return tokens.ApplicationInfo{JobTitle: job.Title, AppliedAt: app.CreatedAt}, nil
}
