package pipeline

import (
	"time"

	"hiregate/internal/domain"
)

// nextState maps a resolution onto the state row. It reports false when the
// resolution leaves the row unchanged. Callers must reject terminal rows first.
func nextState(st domain.ApplicationPipelineState, p domain.Pipeline, res domain.Resolution, now time.Time) (domain.ApplicationPipelineState, bool, error) {
	idx := p.StageIndex(st.CurrentStageID)
	if idx < 0 {
		return st, false, domain.InvalidStatef("stage %s is not part of pipeline %s", st.CurrentStageID, p.ID)
	}
	next := st
	next.UpdatedAt = now
	switch res {
	case domain.ResolutionIncomplete:
		return st, false, nil
	case domain.ResolutionAdvance:
		if idx == len(p.Stages)-1 {
			next.Status = domain.StatusHired
			next.IsTerminal = true
			return next, true, nil
		}
		next.CurrentStageID = p.Stages[idx+1].ID
		next.Status = domain.StatusActive
		next.EnteredStageAt = now
		return next, true, nil
	case domain.ResolutionReject:
		next.Status = domain.StatusRejected
		next.IsTerminal = true
		return next, true, nil
	case domain.ResolutionHold:
		if st.Status == domain.StatusHold {
			return st, false, nil
		}
		next.Status = domain.StatusHold
		return next, true, nil
	}
	return st, false, domain.Validationf("unknown resolution %s", res)
}
