package domain

import (
	"strings"
	"time"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusHold      Status = "HOLD"
	StatusHired     Status = "HIRED"
	StatusRejected  Status = "REJECTED"
	StatusWithdrawn Status = "WITHDRAWN"
)

// Terminal reports whether no further transition may leave the status.
func (s Status) Terminal() bool {
	return s == StatusHired || s == StatusRejected || s == StatusWithdrawn
}

type Disposition string

const (
	DispositionBlock Disposition = "BLOCK"
	DispositionAllow Disposition = "ALLOW"
	DispositionWarn  Disposition = "WARN"
)

func (d Disposition) Valid() bool {
	return d == DispositionBlock || d == DispositionAllow || d == DispositionWarn
}

type BlockPolicy string

const (
	RejectOnBlock BlockPolicy = "REJECT_ON_BLOCK"
	HoldOnBlock   BlockPolicy = "HOLD_ON_BLOCK"
)

type Resolution string

const (
	ResolutionIncomplete Resolution = "INCOMPLETE"
	ResolutionAdvance    Resolution = "ADVANCE"
	ResolutionHold       Resolution = "HOLD"
	ResolutionReject     Resolution = "REJECT"
)

func (r Resolution) Valid() bool {
	switch r {
	case ResolutionIncomplete, ResolutionAdvance, ResolutionHold, ResolutionReject:
		return true
	}
	return false
}

type Job struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	PipelineID string    `json:"pipeline_id"`
	CreatedAt  time.Time `json:"created_at" format:"date-time"`
}

// Application is owned by the intake service; only Withdrawn ever changes after creation.
type Application struct {
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	PipelineID  string    `json:"pipeline_id"`
	CandidateID string    `json:"candidate_id"`
	Withdrawn   bool      `json:"withdrawn"`
	CreatedAt   time.Time `json:"created_at" format:"date-time"`
}

type Stage struct {
	ID                string        `json:"id" yaml:"id"`
	Name              string        `json:"name" yaml:"name"`
	Require           []string      `json:"require,omitempty" yaml:"require"`
	BlockPolicy       BlockPolicy   `json:"block_policy" yaml:"block_policy"`
	HoldFollowupAfter time.Duration `json:"hold_followup_after,omitempty" yaml:"hold_followup_after"`
}

type Pipeline struct {
	ID     string  `json:"id" yaml:"id"`
	Name   string  `json:"name,omitempty" yaml:"name"`
	Stages []Stage `json:"stages" yaml:"stages"`
}

// StageIndex returns the position of stageID in the pipeline order, or -1.
func (p Pipeline) StageIndex(stageID string) int {
	for i, s := range p.Stages {
		if s.ID == stageID {
			return i
		}
	}
	return -1
}

func (p Pipeline) Stage(stageID string) (Stage, bool) {
	if i := p.StageIndex(stageID); i >= 0 {
		return p.Stages[i], true
	}
	return Stage{}, false
}

// ApplicationPipelineState is the single mutable row per application.
type ApplicationPipelineState struct {
	ApplicationID  string    `json:"application_id"`
	PipelineID     string    `json:"pipeline_id"`
	CurrentStageID string    `json:"current_stage_id"`
	Status         Status    `json:"status" enum:"ACTIVE,HOLD,HIRED,REJECTED,WITHDRAWN"`
	IsTerminal     bool      `json:"is_terminal"`
	EnteredStageAt time.Time `json:"entered_stage_at" format:"date-time"`
	UpdatedAt      time.Time `json:"updated_at" format:"date-time"`
	Version        int64     `json:"version"`
}

type Signal struct {
	ID            string      `json:"id"`
	Seq           int64       `json:"seq"`
	ApplicationID string      `json:"application_id"`
	StageID       string      `json:"stage_id"`
	SourceID      string      `json:"source_id"`
	Disposition   Disposition `json:"disposition" enum:"BLOCK,ALLOW,WARN"`
	ActorID       string      `json:"actor_id"`
	CreatedAt     time.Time   `json:"created_at" format:"date-time"`
}

// Kind returns the evaluation kind the signal reports on.
func (s Signal) Kind() string {
	return SourceKind(s.SourceID)
}

// SourceKind strips an optional "/qualifier" suffix from a source id, so that
// "onsite.interview/alice" and "onsite.interview/bob" both report on
// "onsite.interview".
func SourceKind(sourceID string) string {
	if i := strings.IndexByte(sourceID, '/'); i >= 0 {
		return sourceID[:i]
	}
	return sourceID
}

type Transition struct {
	ID            string     `json:"id"`
	ApplicationID string     `json:"application_id"`
	FromStageID   string     `json:"from_stage_id,omitempty"`
	ToStageID     string     `json:"to_stage_id"`
	FromStatus    Status     `json:"from_status,omitempty"`
	ToStatus      Status     `json:"to_status"`
	Resolution    Resolution `json:"resolution,omitempty"`
	CreatedAt     time.Time  `json:"created_at" format:"date-time"`
}

type AccessToken struct {
	TokenHash     string    `json:"-"`
	ApplicationID string    `json:"application_id"`
	CreatedAt     time.Time `json:"created_at" format:"date-time"`
	ExpiresAt     time.Time `json:"expires_at" format:"date-time"`
}

// Expired is true from ExpiresAt onwards.
func (t AccessToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

type ActionKind string

const (
	ActionNotifyCandidate        ActionKind = "notify_candidate"
	ActionInstantiateEvaluations ActionKind = "instantiate_evaluations"
	ActionScheduleFollowup       ActionKind = "schedule_followup"
)

type ActionStatus string

const (
	ActionPending  ActionStatus = "pending"
	ActionInFlight ActionStatus = "in_flight"
	ActionDone     ActionStatus = "done"
	ActionFailed   ActionStatus = "failed"
	ActionDead     ActionStatus = "dead"
)

type ActionRecord struct {
	ID            string       `json:"id"`
	ApplicationID string       `json:"application_id"`
	TransitionID  string       `json:"transition_id"`
	Kind          ActionKind   `json:"kind"`
	Status        ActionStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	LastError     string       `json:"last_error,omitempty"`
	PayloadJSON   string       `json:"payload_json,omitempty"`
	DueAt         time.Time    `json:"due_at" format:"date-time"`
	CreatedAt     time.Time    `json:"created_at" format:"date-time"`
	UpdatedAt     time.Time    `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type RoundStatus string

const (
	RoundPlanned    RoundStatus = "PLANNED"
	RoundInProgress RoundStatus = "IN_PROGRESS"
	RoundCompleted  RoundStatus = "COMPLETED"
)

type Decision string

const (
	DecisionPass    Decision = "PASS"
	DecisionFail    Decision = "FAIL"
	DecisionNeutral Decision = "NEUTRAL"
)

// Disposition maps interview feedback onto a gate signal.
func (d Decision) Disposition() (Disposition, bool) {
	switch d {
	case DecisionPass:
		return DispositionAllow, true
	case DecisionFail:
		return DispositionBlock, true
	case DecisionNeutral:
		return DispositionWarn, true
	}
	return "", false
}

type Round struct {
	ID             string      `json:"id"`
	ApplicationID  string      `json:"application_id"`
	StageID        string      `json:"stage_id"`
	EvaluationKind string      `json:"evaluation_kind"`
	Status         RoundStatus `json:"status" enum:"PLANNED,IN_PROGRESS,COMPLETED"`
	Interviewers   []string    `json:"interviewers"`
	CreatedAt      time.Time   `json:"created_at" format:"date-time"`
}

type Feedback struct {
	ID          string    `json:"id"`
	RoundID     string    `json:"roundId"`
	SubmittedBy string    `json:"submittedBy"`
	Decision    Decision  `json:"decision" enum:"PASS,FAIL,NEUTRAL"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"createdAt" format:"date-time"`
}
