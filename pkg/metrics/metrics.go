package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "requestd_requests_created_total",
		Help: "Number of workflow requests created.",
	})

	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "requestd_state_transitions_total",
		Help: "Request state transitions by target state and outcome.",
	}, []string{"state", "outcome"})

	ActionExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "requestd_action_executions_total",
		Help: "Accepted action executions by action kind and outcome.",
	}, []string{"kind", "outcome"})

	ReviewChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "requestd_review_changes_total",
		Help: "Review state changes by target state.",
	}, []string{"state"})

	BackendCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "requestd_backend_calls_total",
		Help: "Source backend calls by operation and outcome.",
	}, []string{"op", "outcome"})
)

func RecordTransition(state string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	StateTransitions.WithLabelValues(state, outcome).Inc()
}
