// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotifySentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_notify_sent_total",
		Help: "Status events written to the notifier connection",
	}, []string{"event"})

	NotifyDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_notify_dropped_total",
		Help: "Status events dropped before delivery by reason",
	}, []string{"reason"})
)

func IncNotifySent(event string) {
	NotifySentTotal.WithLabelValues(event).Inc()
}

// IncNotifyDropped records a dropped notifier event.
func IncNotifyDropped(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	NotifyDroppedTotal.WithLabelValues(reason).Inc()
}
