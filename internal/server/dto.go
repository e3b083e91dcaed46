package server

import (
	"hiregate/internal/domain"
	"hiregate/internal/tokens"
)

// Request payloads

type AttachRequest struct {
	ApplicationID string `json:"application_id" minLength:"1"`
	PipelineID    string `json:"pipeline_id" minLength:"1"`
}

type EmitSignalRequest struct {
	ApplicationID string `json:"application_id" minLength:"1"`
	StageID       string `json:"stage_id" minLength:"1"`
	SourceID      string `json:"source_id" minLength:"1" example:"onsite.technical/alice"`
	Disposition   string `json:"disposition" enum:"BLOCK,ALLOW,WARN"`
	ActorID       string `json:"actor_id,omitempty"`
}

type ResolutionRequest struct {
	Resolution string `json:"resolution" enum:"INCOMPLETE,ADVANCE,HOLD,REJECT"`
	ActorID    string `json:"actor_id,omitempty"`
}

type CreateJobRequest struct {
	Title      string `json:"title" minLength:"1"`
	PipelineID string `json:"pipeline_id" minLength:"1"`
}

type CreateApplicationRequest struct {
	JobID       string `json:"job_id" minLength:"1"`
	CandidateID string `json:"candidate_id" minLength:"1"`
}

type CreateRoundRequest struct {
	ApplicationID  string   `json:"application_id" minLength:"1"`
	StageID        string   `json:"stage_id" minLength:"1"`
	EvaluationKind string   `json:"evaluation_kind" minLength:"1"`
	Interviewers   []string `json:"interviewers" minItems:"1"`
}

type FeedbackRequest struct {
	Decision string `json:"decision" enum:"PASS,FAIL,NEUTRAL"`
	Notes    string `json:"notes,omitempty"`
}

type DevLoginRequest struct {
	Subject string `json:"subject" minLength:"1"`
	Service string `json:"service,omitempty" enum:"intake,evaluation,interview,review"`
}

// Response payloads

type RoundResponse struct {
	domain.Round
	Feedback []domain.Feedback `json:"feedback"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type PublicStatusResponse = tokens.Projection

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type eventList struct {
	Items []EventResponse `json:"items"`
}

type signalList struct {
	Items []domain.Signal `json:"items"`
}

type transitionList struct {
	Items []domain.Transition `json:"items"`
}

type actionList struct {
	Items []domain.ActionRecord `json:"items"`
}
