package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

const (
	TypeApplicationAttached  = "application.attached"
	TypeSignalRecorded       = "signal.recorded"
	TypeGateEvaluated        = "gate.evaluated"
	TypePipelineTransitioned = "pipeline.transitioned"
	TypePipelineWithdrawn    = "pipeline.withdrawn"
	TypeTokenIssued          = "token.issued"
	TypeActionDispatched     = "action.dispatched"
	TypeActionFailed         = "action.failed"
	TypeFeedbackSubmitted    = "feedback.submitted"
	TypeApplicationCreated   = "application.created"
	TypeJobCreated           = "job.created"
	TypeRoundCreated         = "round.created"
)

// Append writes one audit row using the caller's transaction so the event
// commits or rolls back with the mutation it describes.
func (w Writer) Append(ctx context.Context, ex Execer, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339Nano)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
