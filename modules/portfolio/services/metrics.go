package services

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/iota-uz/portfolio-master/pkg/bitemporal"
)

var (
	masterOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portfolio_master",
		Name:      "operations_total",
		Help:      "Total number of master operations broken down by entity, operation and outcome.",
	}, []string{"entity", "operation", "outcome"})

	masterOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "portfolio_master",
		Name:      "operation_duration_seconds",
		Help:      "Duration of master operations including the storage transaction.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"entity", "operation"})

	masterWriteConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portfolio_master",
		Subsystem: "write",
		Name:      "conflicts_total",
		Help:      "Total number of rejected writes broken down by kind.",
	}, []string{"kind"})

	masterCascadePositions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "portfolio_master",
		Name:      "cascade_positions_total",
		Help:      "Total number of positions removed because their node was removed.",
	})
)

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, bitemporal.ErrValidation):
		return "validation"
	case errors.Is(err, bitemporal.ErrNotFound):
		return "not_found"
	case errors.Is(err, bitemporal.ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, bitemporal.ErrIllegalState):
		return "illegal_state"
	case errors.Is(err, bitemporal.ErrStorageTimeout):
		return "timeout"
	default:
		return "error"
	}
}

func recordOperation(entity, operation string, err error, elapsed time.Duration) {
	outcome := outcomeOf(err)
	masterOperations.WithLabelValues(entity, operation, outcome).Inc()
	masterOperationDuration.WithLabelValues(entity, operation).Observe(elapsed.Seconds())
	switch outcome {
	case "conflict":
		recordWriteConflict("concurrent")
	case "illegal_state":
		recordWriteConflict("illegal_state")
	}
}

func recordWriteConflict(kind string) {
	if kind == "" {
		kind = "other"
	}
	masterWriteConflicts.WithLabelValues(kind).Inc()
}

func recordCascade(n int) {
	if n > 0 {
		masterCascadePositions.Add(float64(n))
	}
}
