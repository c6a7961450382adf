// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProcTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_proc_terminate_total",
		Help: "Signals sent to ffmpeg process groups by signal and result",
	}, []string{"signal", "result"})

	ProcWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_proc_wait_total",
		Help: "Process wait outcomes after a terminate",
	}, []string{"outcome"})
)

// IncProcTerminate records a signal delivery attempt.
func IncProcTerminate(signal, result string) {
	ProcTerminateTotal.WithLabelValues(signal, result).Inc()
}

// IncProcWait records how a terminated process was reaped.
func IncProcWait(outcome string) {
	ProcWaitTotal.WithLabelValues(outcome).Inc()
}
