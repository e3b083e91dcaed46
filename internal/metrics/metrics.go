package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SignalsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hiregate_signals_recorded_total",
			Help: "Signals appended to the signal log",
		},
		[]string{"disposition"},
	)

	GateResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hiregate_gate_resolutions_total",
			Help: "Gate evaluations by resolution",
		},
		[]string{"resolution"},
	)

	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hiregate_pipeline_transitions_total",
			Help: "Committed pipeline transitions by target status",
		},
		[]string{"to_status"},
	)

	GateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "hiregate_emit_signal_duration_seconds",
			Help: "Time spent recording a signal and applying its gate resolution",
		},
	)

	ActionsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hiregate_actions_total",
			Help: "Action dispatch attempts by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	TokenResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hiregate_token_resolutions_total",
			Help: "Public token lookups by outcome",
		},
		[]string{"outcome"},
	)
)
