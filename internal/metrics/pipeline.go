// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PipelineStartTotal counts start attempts per pipeline kind.
	PipelineStartTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_pipeline_start_total",
		Help: "Total number of pipeline start attempts by kind and result",
	}, []string{"kind", "result"})

	// PipelineExitTotal counts terminal events per pipeline kind.
	PipelineExitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_pipeline_exit_total",
		Help: "Total number of pipeline exits by kind and reason",
	}, []string{"kind", "reason"})

	// PipelineActive tracks the number of registry records per kind.
	PipelineActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bms_pipeline_active",
		Help: "Current number of tracked pipelines by kind",
	}, []string{"kind"})

	// PipelineLeakTotal counts records force-removed after a stop escalation.
	PipelineLeakTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_pipeline_leak_total",
		Help: "Pipelines force-removed because no terminal event arrived after stop",
	}, []string{"kind"})

	ProbeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_probe_total",
		Help: "Total number of input probes by result",
	}, []string{"result"})
)

// IncPipelineStart records a start attempt outcome.
func IncPipelineStart(kind, result string) {
	PipelineStartTotal.WithLabelValues(kind, result).Inc()
}

// IncPipelineExit records how a pipeline left the registry.
func IncPipelineExit(kind, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	PipelineExitTotal.WithLabelValues(kind, reason).Inc()
}

// SetPipelineActive publishes the current registry size for kind.
func SetPipelineActive(kind string, n int) {
	PipelineActive.WithLabelValues(kind).Set(float64(n))
}

func IncPipelineLeak(kind string) {
	PipelineLeakTotal.WithLabelValues(kind).Inc()
}

func IncProbe(result string) {
	ProbeTotal.WithLabelValues(result).Inc()
}
