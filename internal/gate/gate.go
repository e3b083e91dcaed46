// Package gate maps a stage configuration and its effective signals to a
// resolution. It has no side effects.
package gate

import (
	"sort"

	"hiregate/internal/domain"
)

// Evaluation is the resolver output plus the detail reviewers see.
type Evaluation struct {
	Resolution domain.Resolution `json:"resolution" enum:"INCOMPLETE,ADVANCE,HOLD,REJECT"`
	// Missing lists required evaluation kinds with no effective signal.
	Missing []string `json:"missing"`
	// Blocking and Warnings list source ids among the required kinds.
	Blocking []string `json:"blocking"`
	Warnings []string `json:"warnings"`
}

// Resolve applies the gate algorithm. Only signals whose kind is required by
// the stage are considered; BLOCK outranks ALLOW and WARN, which rank equal.
// A stage with no required kinds resolves ADVANCE as soon as it is evaluated.
func Resolve(stage domain.Stage, effective []domain.Signal) Evaluation {
	required := make(map[string]bool, len(stage.Require))
	for _, k := range stage.Require {
		required[k] = true
	}
	covered := map[string]bool{}
	ev := Evaluation{Missing: []string{}, Blocking: []string{}, Warnings: []string{}}
	for _, s := range effective {
		kind := s.Kind()
		if !required[kind] {
			continue
		}
		covered[kind] = true
		switch s.Disposition {
		case domain.DispositionBlock:
			ev.Blocking = append(ev.Blocking, s.SourceID)
		case domain.DispositionWarn:
			ev.Warnings = append(ev.Warnings, s.SourceID)
		}
	}
	for _, k := range stage.Require {
		if !covered[k] {
			ev.Missing = append(ev.Missing, k)
		}
	}
	sort.Strings(ev.Blocking)
	sort.Strings(ev.Warnings)

	switch {
	case len(ev.Missing) > 0:
		ev.Resolution = domain.ResolutionIncomplete
	case len(ev.Blocking) > 0:
		if stage.BlockPolicy == domain.HoldOnBlock {
			ev.Resolution = domain.ResolutionHold
		} else {
			ev.Resolution = domain.ResolutionReject
		}
	default:
		ev.Resolution = domain.ResolutionAdvance
	}
	return ev
}
