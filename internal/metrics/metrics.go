package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StageTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "approval_stage_transitions_total",
		Help: "Stage resolutions by action taken",
	}, []string{"action"})

	StagesActivated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "approval_stages_activated_total",
		Help: "Stage activations, including send-back reopens",
	})

	ExecutionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "approval_executions_finished_total",
		Help: "Executions reaching a terminal status",
	}, []string{"status"})

	TimeoutsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "approval_sla_timeouts_total",
		Help: "SLA expiries by outcome (escalated, auto_approved, overdue, lost_race)",
	}, []string{"outcome"})

	AdapterFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "approval_adapter_failures_total",
		Help: "Best-effort notifier/audit calls that returned an error",
	}, []string{"adapter"})

	OverdueStages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "approval_overdue_stages",
		Help: "Stages past their SLA with no escalation target left",
	})
)
