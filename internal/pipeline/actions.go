package pipeline

import (
	"context"
	"time"

	"hiregate/internal/domain"
	"hiregate/internal/metrics"
)

// afterCommit hands the side effects of a committed transition to the
// dispatcher. Failures are logged only; the transition stands.
func (m Machine) afterCommit(ctx context.Context, st domain.ApplicationPipelineState, p domain.Pipeline, tr domain.Transition) {
	metrics.Transitions.WithLabelValues(string(tr.ToStatus)).Inc()
	if m.Actions == nil {
		return
	}
	now := m.now()
	stage, _ := p.Stage(tr.ToStageID)
	m.dispatch(ctx, tr, domain.ActionNotifyCandidate, map[string]any{
		"from_status": tr.FromStatus,
		"to_status":   tr.ToStatus,
		"stage_id":    stage.ID,
		"stage_name":  stage.Name,
		"pipeline_id": st.PipelineID,
	}, now)

	if tr.ToStatus == domain.StatusActive && tr.ToStageID != tr.FromStageID {
		m.dispatch(ctx, tr, domain.ActionInstantiateEvaluations, map[string]any{
			"pipeline_id": st.PipelineID,
			"stage_id":    stage.ID,
			"require":     stage.Require,
		}, now)
	}
	if tr.ToStatus == domain.StatusHold && stage.HoldFollowupAfter > 0 {
		m.dispatch(ctx, tr, domain.ActionScheduleFollowup, map[string]any{
			"stage_id":   stage.ID,
			"stage_name": stage.Name,
			"held_since": tr.CreatedAt.Format(time.RFC3339),
		}, now.Add(stage.HoldFollowupAfter))
	}
}

func (m Machine) dispatch(ctx context.Context, tr domain.Transition, kind domain.ActionKind, payload map[string]any, due time.Time) {
	if err := m.Actions.Dispatch(context.WithoutCancel(ctx), tr, kind, payload, due); err != nil {
		m.log().WithError(err).Warn("action dispatch failed; left for retry", map[string]interface{}{
			"application_id": tr.ApplicationID,
			"transition_id":  tr.ID,
			"action_kind":    kind,
		})
	}
}
