package dispatch

import (
	"context"

	"hiregate/internal/domain"
	"hiregate/internal/logger"
)

// LogSink records actions in the service log. Used when no external sink is
// configured so that actions still complete.
type LogSink struct {
	Log logger.Logger
}

func (s LogSink) Deliver(_ context.Context, a domain.ActionRecord) error {
	s.Log.Info("action", map[string]interface{}{
		"action_id":      a.ID,
		"action_kind":    a.Kind,
		"application_id": a.ApplicationID,
		"transition_id":  a.TransitionID,
		"payload":        a.PayloadJSON,
	})
	return nil
}
