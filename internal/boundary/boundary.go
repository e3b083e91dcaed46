// Package boundary is the only surface through which other services affect
// pipeline state. Each operation is granted to the services that own the
// corresponding writes.
package boundary

import (
	"context"
	"strings"
	"time"

	"hiregate/internal/domain"
	"hiregate/internal/pipeline"
	"hiregate/internal/repo"
	"hiregate/internal/signals"
	"hiregate/internal/tokens"
)

type Service string

const (
	ServiceIntake     Service = "intake"
	ServiceEvaluation Service = "evaluation"
	ServiceInterview  Service = "interview"
	ServiceReview     Service = "review"
)

type Operation string

const (
	OpAttach          Operation = "attach"
	OpEmitSignal      Operation = "emit_signal"
	OpWithdraw        Operation = "withdraw"
	OpApplyResolution Operation = "apply_resolution"
	OpRecompute       Operation = "recompute"
	OpReadState       Operation = "read_state"
	OpIssueToken      Operation = "issue_token"
	OpReadPipeline    Operation = "read_pipeline"
)

var grants = map[Operation][]Service{
	OpAttach:          {ServiceIntake},
	OpWithdraw:        {ServiceIntake},
	OpEmitSignal:      {ServiceEvaluation, ServiceInterview},
	OpApplyResolution: {ServiceReview},
	OpRecompute:       {ServiceReview, ServiceEvaluation, ServiceInterview},
	OpReadState:       {ServiceIntake, ServiceEvaluation, ServiceInterview, ServiceReview},
	OpIssueToken:      {ServiceIntake},
	OpReadPipeline:    {ServiceIntake, ServiceEvaluation, ServiceInterview, ServiceReview},
}

// ParseService accepts a known service name.
func ParseService(name string) (Service, bool) {
	switch s := Service(strings.TrimSpace(name)); s {
	case ServiceIntake, ServiceEvaluation, ServiceInterview, ServiceReview:
		return s, true
	}
	return "", false
}

type ctxKey struct{}

func WithService(ctx context.Context, svc Service) context.Context {
	return context.WithValue(ctx, ctxKey{}, svc)
}

func ServiceFrom(ctx context.Context) (Service, bool) {
	svc, ok := ctx.Value(ctxKey{}).(Service)
	return svc, ok && svc != ""
}

// Authorize checks that the calling service holds op.
func Authorize(ctx context.Context, op Operation) (Service, error) {
	svc, ok := ServiceFrom(ctx)
	if !ok {
		return "", domain.Unauthorizedf("no calling service for %s", op)
	}
	for _, allowed := range grants[op] {
		if allowed == svc {
			return svc, nil
		}
	}
	return "", domain.Unauthorizedf("service %s may not %s", svc, op)
}

// Core is the contract other services program against, in process or over
// HTTP.
type Core interface {
	Attach(ctx context.Context, applicationID, pipelineID string) error
	EmitSignal(ctx context.Context, in signals.RecordInput) (pipeline.GateState, error)
	Withdraw(ctx context.Context, applicationID string) (domain.ApplicationPipelineState, error)
}

// Gateway guards a Machine with the grant table.
type Gateway struct {
	Machine pipeline.Machine
	Tokens  tokens.Manager
	Now     func() time.Time
}

var _ Core = Gateway{}

func (g Gateway) Attach(ctx context.Context, applicationID, pipelineID string) error {
	svc, err := Authorize(ctx, OpAttach)
	if err != nil {
		return err
	}
	return g.Machine.Attach(ctx, applicationID, pipelineID, string(svc))
}

func (g Gateway) EmitSignal(ctx context.Context, in signals.RecordInput) (pipeline.GateState, error) {
	svc, err := Authorize(ctx, OpEmitSignal)
	if err != nil {
		return pipeline.GateState{}, err
	}
	if in.ActorID == "" {
		in.ActorID = string(svc)
	}
	return g.Machine.EmitSignal(ctx, in)
}

func (g Gateway) Withdraw(ctx context.Context, applicationID string) (domain.ApplicationPipelineState, error) {
	svc, err := Authorize(ctx, OpWithdraw)
	if err != nil {
		return domain.ApplicationPipelineState{}, err
	}
	return g.Machine.Withdraw(ctx, applicationID, string(svc))
}

func (g Gateway) ApplyResolution(ctx context.Context, applicationID string, res domain.Resolution, actorID string) (domain.ApplicationPipelineState, error) {
	svc, err := Authorize(ctx, OpApplyResolution)
	if err != nil {
		return domain.ApplicationPipelineState{}, err
	}
	if actorID == "" {
		actorID = string(svc)
	}
	return g.Machine.ApplyGateResolution(ctx, applicationID, res, actorID)
}

func (g Gateway) Recompute(ctx context.Context, applicationID string) (pipeline.GateState, error) {
	svc, err := Authorize(ctx, OpRecompute)
	if err != nil {
		return pipeline.GateState{}, err
	}
	return g.Machine.Recompute(ctx, applicationID, string(svc))
}

func (g Gateway) State(ctx context.Context, applicationID string) (domain.ApplicationPipelineState, error) {
	if _, err := Authorize(ctx, OpReadState); err != nil {
		return domain.ApplicationPipelineState{}, err
	}
	return g.Machine.Get(ctx, applicationID)
}

func (g Gateway) Signals(ctx context.Context, applicationID, stageID string) ([]domain.Signal, error) {
	if _, err := Authorize(ctx, OpReadState); err != nil {
		return nil, err
	}
	return g.Machine.Signals.History(ctx, applicationID, stageID)
}

func (g Gateway) Transitions(ctx context.Context, applicationID string) ([]domain.Transition, error) {
	if _, err := Authorize(ctx, OpReadState); err != nil {
		return nil, err
	}
	return g.Machine.Transitions(ctx, applicationID)
}

// IssueToken creates the candidate token for an application. The token row
// and its event commit together.
func (g Gateway) IssueToken(ctx context.Context, applicationID string) (string, domain.AccessToken, error) {
	svc, err := Authorize(ctx, OpIssueToken)
	if err != nil {
		return "", domain.AccessToken{}, err
	}
	tx, err := g.Machine.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", domain.AccessToken{}, err
	}
	defer tx.Rollback()
	raw, tok, err := g.Tokens.Issue(ctx, tx, applicationID, string(svc))
	if err != nil {
		return "", domain.AccessToken{}, err
	}
	if err := tx.Commit(); err != nil {
		return "", domain.AccessToken{}, err
	}
	return raw, tok, nil
}

func (g Gateway) Pipeline(ctx context.Context, id string) (domain.Pipeline, error) {
	if _, err := Authorize(ctx, OpReadPipeline); err != nil {
		return domain.Pipeline{}, err
	}
	return g.Machine.Repo.GetPipeline(ctx, nil, id)
}

// Actions lists the side effects recorded for an application.
func (g Gateway) Actions(ctx context.Context, applicationID string, status domain.ActionStatus) ([]domain.ActionRecord, error) {
	if _, err := Authorize(ctx, OpReadState); err != nil {
		return nil, err
	}
	return g.Machine.Repo.ListActions(ctx, repo.ActionFilter{ApplicationID: applicationID, Status: status})
}

// PublicStatus resolves a candidate token. The token itself is the
// credential. Expiry is checked again here, independently of the lookup.
func (g Gateway) PublicStatus(ctx context.Context, token string) (tokens.Projection, error) {
	p, tok, err := g.Tokens.Resolve(ctx, token)
	if err != nil {
		return tokens.Projection{}, err
	}
	now := time.Now().UTC()
	if g.Now != nil {
		now = g.Now().UTC()
	}
	if tok.Expired(now) {
		return tokens.Projection{}, domain.Expiredf("token expired at %s", tok.ExpiresAt.Format(time.RFC3339))
	}
	return p, nil
}
