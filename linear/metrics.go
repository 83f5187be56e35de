package linear

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	optimizeTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chordal_optimize_total",
		Help: "Total number of full back-substitution solves",
	})

	backSubstituteTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chordal_back_substitute_total",
		Help: "Total number of back-substitutions against a supplied rhs",
	})

	transposeSolveTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chordal_transpose_solve_total",
		Help: "Total number of transpose solves",
	})

	solveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chordal_solve_duration_seconds",
		Help:    "Time spent in a single solver pass",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)
