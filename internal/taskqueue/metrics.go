package taskqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// tasksEnqueued counts enqueued tasks per type.
	tasksEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskqueue_enqueued_total",
		Help: "Total number of tasks enqueued by task type",
	}, []string{"task_type"})

	// claimsTotal counts claim attempts by outcome (won, lost).
	claimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskqueue_claims_total",
		Help: "Total number of claim attempts by outcome",
	}, []string{"outcome"})

	// statusTransitions counts lifecycle transitions applied by UpdateStatus.
	statusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskqueue_status_transitions_total",
		Help: "Total number of status transitions by from/to state",
	}, []string{"from", "to"})

	// cleanupDeleted counts tasks removed by retention cleanup.
	cleanupDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskqueue_cleanup_deleted_total",
		Help: "Total number of terminal tasks deleted by retention cleanup",
	})
)
