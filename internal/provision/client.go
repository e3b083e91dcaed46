// Package provision asks the evaluation-producer service to instantiate the
// evaluations a stage requires.
package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hiregate/internal/domain"
)

type Client struct {
	URL        string
	HTTPClient *http.Client
	Timeout    time.Duration
}

func New(url string, timeout time.Duration) *Client {
	return &Client{URL: url, Timeout: timeout}
}

// Request is the body posted to the evaluation producer.
type Request struct {
	ApplicationID string   `json:"application_id"`
	PipelineID    string   `json:"pipeline_id"`
	StageID       string   `json:"stage_id"`
	Require       []string `json:"require"`
	RequestID     string   `json:"request_id"`
}

// Deliver satisfies dispatch.Sink for instantiate_evaluations actions.
func (c *Client) Deliver(ctx context.Context, a domain.ActionRecord) error {
	var payload struct {
		PipelineID string   `json:"pipeline_id"`
		StageID    string   `json:"stage_id"`
		Require    []string `json:"require"`
	}
	if a.PayloadJSON != "" {
		if err := json.Unmarshal([]byte(a.PayloadJSON), &payload); err != nil {
			return fmt.Errorf("decode action payload: %w", err)
		}
	}
	return c.Instantiate(ctx, Request{
		ApplicationID: a.ApplicationID,
		PipelineID:    payload.PipelineID,
		StageID:       payload.StageID,
		Require:       payload.Require,
		RequestID:     a.ID,
	})
}

func (c *Client) Instantiate(ctx context.Context, req Request) error {
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("provision url not configured")
	}
	if req.Require == nil {
		req.Require = []string{}
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.RequestID)
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("provision stage %s: status %d: %s", req.StageID, res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
