package interpreter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stepsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recipe_steps_completed_total",
		Help: "Recipe steps completed",
	})
	commandsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recipe_commands_settled_total",
		Help: "Commands settled, by kind and final state",
	}, []string{"kind", "state"})
)
