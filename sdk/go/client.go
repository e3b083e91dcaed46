package hiregatesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal hiregate HTTP API client for collaborating services.
type Client struct {
	BaseURL string
	// BasePath prefixes the internal endpoints; "/internal" when empty.
	BasePath    string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no token is set (development only).
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, bearerToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: bearerToken,
		Timeout:     10 * time.Second,
	}
}

// GateState is returned after each signal emission.
type GateState struct {
	ApplicationID  string   `json:"application_id"`
	StageID        string   `json:"stage_id"`
	SignalID       string   `json:"signal_id,omitempty"`
	Resolution     string   `json:"resolution"`
	Missing        []string `json:"missing"`
	Blocking       []string `json:"blocking"`
	Warnings       []string `json:"warnings"`
	Applied        bool     `json:"applied"`
	Status         string   `json:"status,omitempty"`
	CurrentStageID string   `json:"current_stage_id,omitempty"`
	IsTerminal     bool     `json:"is_terminal"`
	TransitionID   string   `json:"transition_id,omitempty"`
}

// State is an application's pipeline position.
type State struct {
	ApplicationID  string    `json:"application_id"`
	PipelineID     string    `json:"pipeline_id"`
	CurrentStageID string    `json:"current_stage_id"`
	Status         string    `json:"status"`
	IsTerminal     bool      `json:"is_terminal"`
	EnteredStageAt time.Time `json:"entered_stage_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Version        int64     `json:"version"`
}

type Signal struct {
	ID            string    `json:"id"`
	Seq           int64     `json:"seq"`
	ApplicationID string    `json:"application_id"`
	StageID       string    `json:"stage_id"`
	SourceID      string    `json:"source_id"`
	Disposition   string    `json:"disposition"`
	ActorID       string    `json:"actor_id"`
	CreatedAt     time.Time `json:"created_at"`
}

type Round struct {
	ID             string    `json:"id"`
	ApplicationID  string    `json:"application_id"`
	StageID        string    `json:"stage_id"`
	EvaluationKind string    `json:"evaluation_kind"`
	Status         string    `json:"status"`
	Interviewers   []string  `json:"interviewers"`
	CreatedAt      time.Time `json:"created_at"`
}

// Feedback is the result of a feedback submission.
type Feedback struct {
	ID            string    `json:"id"`
	RoundID       string    `json:"roundId"`
	SubmittedBy   string    `json:"submittedBy"`
	Decision      string    `json:"decision"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	RoundComplete bool      `json:"roundComplete"`
}

// Status is the candidate-facing projection.
type Status struct {
	JobTitle      string    `json:"jobTitle"`
	Status        string    `json:"status"`
	StageName     string    `json:"stageName"`
	AppliedAt     time.Time `json:"appliedAt"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Expired reports a lapsed candidate token.
func (e *APIError) Expired() bool { return e.StatusCode == http.StatusGone }

// Attach binds an application to a pipeline. Safe to retry.
func (c *Client) Attach(ctx context.Context, applicationID, pipelineID string) error {
	body := map[string]any{
		"application_id": applicationID,
		"pipeline_id":    pipelineID,
	}
	return c.do(ctx, http.MethodPost, c.internal("pipelines/attach"), body, nil)
}

// EmitSignal records a disposition for (stage, source). Safe to retry; the
// latest emission for a source wins.
func (c *Client) EmitSignal(ctx context.Context, applicationID, stageID, sourceID, disposition string) (GateState, error) {
	body := map[string]any{
		"application_id": applicationID,
		"stage_id":       stageID,
		"source_id":      sourceID,
		"disposition":    disposition,
	}
	var resp GateState
	err := c.do(ctx, http.MethodPost, c.internal("signals"), body, &resp)
	return resp, err
}

func (c *Client) Recompute(ctx context.Context, applicationID string) (GateState, error) {
	var resp GateState
	err := c.do(ctx, http.MethodPost, c.internal(fmt.Sprintf("applications/%s/evaluate", url.PathEscape(applicationID))), nil, &resp)
	return resp, err
}

func (c *Client) ApplyResolution(ctx context.Context, applicationID, resolution string) (State, error) {
	var resp State
	endpoint := c.internal(fmt.Sprintf("applications/%s/resolution", url.PathEscape(applicationID)))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"resolution": resolution}, &resp)
	return resp, err
}

func (c *Client) State(ctx context.Context, applicationID string) (State, error) {
	var resp State
	err := c.do(ctx, http.MethodGet, c.internal(fmt.Sprintf("applications/%s/state", url.PathEscape(applicationID))), nil, &resp)
	return resp, err
}

// Signals lists signal history; stageID may be empty.
func (c *Client) Signals(ctx context.Context, applicationID, stageID string) ([]Signal, error) {
	endpoint := c.internal(fmt.Sprintf("applications/%s/signals", url.PathEscape(applicationID)))
	if stageID != "" {
		endpoint += "?stage_id=" + url.QueryEscape(stageID)
	}
	var resp struct {
		Items []Signal `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) CreateRound(ctx context.Context, applicationID, stageID, evaluationKind string, interviewers []string) (Round, error) {
	body := map[string]any{
		"application_id":  applicationID,
		"stage_id":        stageID,
		"evaluation_kind": evaluationKind,
		"interviewers":    interviewers,
	}
	var resp Round
	err := c.do(ctx, http.MethodPost, c.internal("rounds"), body, &resp)
	return resp, err
}

// SubmitFeedback posts the authenticated interviewer's decision.
func (c *Client) SubmitFeedback(ctx context.Context, roundID, decision, notes string) (Feedback, error) {
	body := map[string]any{"decision": decision}
	if notes != "" {
		body["notes"] = notes
	}
	var resp Feedback
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("rounds/%s/feedback", url.PathEscape(roundID)), body, &resp)
	return resp, err
}

// PublicStatus resolves a candidate token.
func (c *Client) PublicStatus(ctx context.Context, token string) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, "public/applications/"+url.PathEscape(token), nil, &resp)
	return resp, err
}

// Events returns recent audit events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.internal("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) internal(p string) string {
	base := c.BasePath
	if base == "" {
		base = "/internal"
	}
	return strings.Trim(base, "/") + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
