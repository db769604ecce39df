package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recipe_queue_actions_total",
		Help: "Actions run by the queue, by kind and outcome (success, error, canceled)",
	}, []string{"kind", "outcome"})

	mergesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recipe_queue_merges_total",
		Help: "Actions folded into an already pending action of the same kind and key",
	}, []string{"kind"})

	actionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recipe_queue_action_duration_seconds",
		Help:    "Duration of action runs by kind",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"kind"})

	pendingActions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recipe_queue_pending",
		Help: "Actions waiting to run",
	})
)

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
