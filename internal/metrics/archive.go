// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ArchiveStageFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_archive_stage_failures_total",
		Help: "Total number of failed transmux stages",
	}, []string{"stage"})

	ArchiveResultTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_archive_result_total",
		Help: "Total number of finished transmux runs by result type",
	}, []string{"type"})

	ArchiveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bms_archive_duration_seconds",
		Help:    "Wall time of a full transmux run",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	})

	RetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_retry_exhausted_total",
		Help: "Total number of bounded retries that gave up",
	}, []string{"op"})
)

// IncArchiveStageFailure records a failed transmux stage.
func IncArchiveStageFailure(stage string) {
	ArchiveStageFailuresTotal.WithLabelValues(stage).Inc()
}

// ObserveArchive records the outcome and wall time of a transmux run.
func ObserveArchive(resultType string, d time.Duration) {
	ArchiveResultTotal.WithLabelValues(resultType).Inc()
	ArchiveDuration.Observe(d.Seconds())
}

func IncRetryExhausted(op string) {
	if op == "" {
		op = "unknown"
	}
	RetryExhaustedTotal.WithLabelValues(op).Inc()
}
