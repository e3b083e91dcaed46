package dispatch

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

const defaultWebhookTimeout = 5 * time.Second

// WebhookSink posts actions as JSON to an HTTP endpoint.
type WebhookSink struct {
	URL    string
	Secret string
	Client *http.Client
}

type webhookAction struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	ApplicationID string          `json:"application_id"`
	TransitionID  string          `json:"transition_id"`
	Attempt       int             `json:"attempt"`
	DueAt         string          `json:"due_at"`
	Payload       json.RawMessage `json:"payload"`
}

func (w WebhookSink) Deliver(ctx context.Context, a domain.ActionRecord) error {
	payload := json.RawMessage([]byte("{}"))
	if a.PayloadJSON != "" && json.Valid([]byte(a.PayloadJSON)) {
		payload = json.RawMessage([]byte(a.PayloadJSON))
	}
	data, err := json.Marshal(webhookAction{
		ID:            a.ID,
		Kind:          string(a.Kind),
		ApplicationID: a.ApplicationID,
		TransitionID:  a.TransitionID,
		Attempt:       a.Attempts,
		DueAt:         a.DueAt.Format(time.RFC3339),
		Payload:       payload,
	})
	if err != nil {
		return err
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hiregate-Action", string(a.Kind))
	req.Header.Set("X-Hiregate-Delivery", a.ID)
	if strings.TrimSpace(w.Secret) != "" {
		req.Header.Set("X-Hiregate-Secret", w.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("webhook %s: status %d: %s", w.URL, res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}
